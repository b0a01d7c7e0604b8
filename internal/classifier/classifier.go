package classifier

import (
	"context"

	"github.com/quantfeed/announcements-bot/internal/models"
)

// Classifier assigns a label and confidence to each input text.
// Implementations must return exactly one result per input, in input
// order; the pipeline relies on that positional correspondence.
type Classifier interface {
	ClassifyBatch(ctx context.Context, texts []string) ([]models.Classification, error)
}
