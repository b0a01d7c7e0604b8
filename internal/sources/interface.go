package sources

import (
	"context"

	"github.com/quantfeed/announcements-bot/internal/models"
)

// Source interface defines the contract for all announcement feeds.
// Fetch returns the feed's current batch in a standardized shape; a
// feed that cannot authenticate or reach its API returns an error and
// the orchestrator treats it as an empty result for that tick.
type Source interface {
	Name() string
	IsEnabled() bool
	Fetch(ctx context.Context) ([]models.RawAnnouncement, error)
}
