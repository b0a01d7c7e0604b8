package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/announcements-bot/internal/models"
)

// Input validation happens before any connection is used, so these
// paths are exercisable without a live database.

func TestSaveAnnouncement_MissingNativeID(t *testing.T) {
	store := &PostgresStore{}

	err := store.SaveAnnouncement(context.Background(), "bybit", models.RawAnnouncement{
		Title:       "New listing",
		PublishTime: int64(1700000000000),
	}, nil, "")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "native id")
}

func TestSaveAnnouncement_MissingTitle(t *testing.T) {
	store := &PostgresStore{}

	err := store.SaveAnnouncement(context.Background(), "bybit", models.RawAnnouncement{
		NativeID:    "a1",
		PublishTime: int64(1700000000000),
	}, nil, "")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "title")
}

func TestSaveAnnouncement_UnparseableTime(t *testing.T) {
	store := &PostgresStore{}

	err := store.SaveAnnouncement(context.Background(), "bybit", models.RawAnnouncement{
		NativeID:    "a1",
		Title:       "New listing",
		PublishTime: "around noon",
	}, nil, "")

	assert.Error(t, err)
}

func TestRecordHumanCorrection_MissingArgs(t *testing.T) {
	store := &PostgresStore{}

	assert.Error(t, store.RecordHumanCorrection(context.Background(), "", "trading"))
	assert.Error(t, store.RecordHumanCorrection(context.Background(), "fp123", ""))
}

func TestExistingFingerprints_EmptyInputShortCircuits(t *testing.T) {
	// No pool is attached; a store access would panic, which is the
	// point: empty input must not reach the database.
	store := &PostgresStore{}

	existing, err := store.ExistingFingerprints(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestIsUniqueViolation(t *testing.T) {
	sourceNativeID := &pgconn.PgError{Code: "23505", ConstraintName: "announcements_source_native_id_key"}

	assert.True(t, isUniqueViolation(sourceNativeID, "announcements_source_native_id_key"))
	assert.True(t, isUniqueViolation(
		fmt.Errorf("exec failed: %w", sourceNativeID), "announcements_source_native_id_key"),
		"detection must survive wrapping")

	otherConstraint := &pgconn.PgError{Code: "23505", ConstraintName: "uq_classifications_auto"}
	assert.False(t, isUniqueViolation(otherConstraint, "announcements_source_native_id_key"))

	notNull := &pgconn.PgError{Code: "23502", ConstraintName: "announcements_source_native_id_key"}
	assert.False(t, isUniqueViolation(notNull, "announcements_source_native_id_key"))

	assert.False(t, isUniqueViolation(errors.New("connection refused"), "announcements_source_native_id_key"))
}

func TestMarshalRaw_PrefersOriginalPayload(t *testing.T) {
	ann := models.RawAnnouncement{
		NativeID: "a1",
		Title:    "ignored",
		Raw:      map[string]any{"dateTimestamp": float64(1700000000000), "title": "orig"},
	}

	data, err := marshalRaw(ann)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "orig", decoded["title"])
	assert.NotContains(t, decoded, "id")
}

func TestMarshalRaw_FallsBackToStandardShape(t *testing.T) {
	ann := models.RawAnnouncement{NativeID: "a1", Title: "standardized"}

	data, err := marshalRaw(ann)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "a1", decoded["id"])
	assert.Equal(t, "standardized", decoded["title"])
}
