package storage

import (
	"context"

	"github.com/quantfeed/announcements-bot/internal/models"
)

// Store is the durable record of announcements and their
// classification history. It is the single authority for "have I seen
// this before"; callers never keep their own dedup state.
type Store interface {
	// SaveAnnouncement upserts one announcement. Identity fields and
	// title are immutable after first insert; content, raw payload,
	// type and tags update on re-ingestion. When a classification is
	// supplied the single automated slot is upserted with it. A
	// fingerprint may be passed to skip recomputation; empty means
	// derive it here. Errors are per-item: one bad announcement never
	// aborts its siblings.
	SaveAnnouncement(ctx context.Context, source string, ann models.RawAnnouncement, cls *models.Classification, fp string) error

	// RecordHumanCorrection sets the announcement's human label and
	// appends a human-flagged classification row. The automated slot
	// is never touched, so the audit trail keeps both.
	RecordHumanCorrection(ctx context.Context, fingerprint, label string) error

	// ExistingFingerprints reports which of the given fingerprints are
	// already stored, in a single round trip.
	ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]struct{}, error)

	// LatestAnnouncements returns the most recent classified
	// announcements, excluding the ignored labels.
	LatestAnnouncements(ctx context.Context, limit int, ignoredLabels []string) ([]models.StoredAnnouncement, error)

	Close()
}
