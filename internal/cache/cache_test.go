package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Deterministic(t *testing.T) {
	assert.Equal(t, Key("New listing\nBTC spot pair"), Key("New listing\nBTC spot pair"))
}

func TestKey_ContentAddressed(t *testing.T) {
	// Identical text from different announcements shares one entry.
	assert.Equal(t, Key("same text"), Key("same text"))
	assert.NotEqual(t, Key("same text"), Key("same text "))
}

func TestBatchKeys_OrderPreserving(t *testing.T) {
	texts := []string{"first", "second", "third"}

	keys := BatchKeys(texts)

	assert.Len(t, keys, 3)
	for i, text := range texts {
		assert.Equal(t, Key(text), keys[i])
	}
}

func TestBatchKeys_Empty(t *testing.T) {
	assert.Empty(t, BatchKeys(nil))
}
