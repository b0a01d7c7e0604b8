package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfeed/announcements-bot/internal/models"
)

// ClassificationCache avoids re-invoking the classifier for text seen
// before. Keys are content-addressed digests of the classifier input,
// so two announcements with identical text share one entry. Entries
// expire; a stale miss only costs a redundant classification.
type ClassificationCache interface {
	GetMany(ctx context.Context, keys []string) ([]*models.Classification, error)
	SetMany(ctx context.Context, entries map[string]models.Classification, ttl time.Duration) error
	Close() error
}

// Key derives the cache key for one classifier input text.
func Key(text string) string {
	digest := sha256.Sum256([]byte(text))
	return "clf:" + hex.EncodeToString(digest[:])
}

// BatchKeys derives cache keys for a batch of texts, order-preserving.
func BatchKeys(texts []string) []string {
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = Key(text)
	}
	return keys
}

// RedisCache implements ClassificationCache on a shared Redis client.
type RedisCache struct {
	client *redis.Client
}

// Ensure RedisCache implements ClassificationCache
var _ ClassificationCache = (*RedisCache)(nil)

// NewRedisCache connects to Redis and verifies connectivity.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// GetMany fetches cached classifications positionally: result[i]
// corresponds to keys[i] and is nil on a miss, so the caller can
// reconstruct a full result array with misses interleaved.
func (c *RedisCache) GetMany(ctx context.Context, keys []string) ([]*models.Classification, error) {
	results := make([]*models.Classification, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue // miss
		}

		var cls models.Classification
		if err := json.Unmarshal([]byte(raw), &cls); err != nil {
			// A corrupt entry is just a miss; it will be overwritten.
			continue
		}
		results[i] = &cls
	}

	return results, nil
}

// SetMany writes fresh classifications with the given TTL in one
// pipelined round trip.
func (c *RedisCache) SetMany(ctx context.Context, entries map[string]models.Classification, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for key, cls := range entries {
		data, err := json.Marshal(cls)
		if err != nil {
			return fmt.Errorf("failed to marshal classification: %w", err)
		}
		pipe.Set(ctx, key, data, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
