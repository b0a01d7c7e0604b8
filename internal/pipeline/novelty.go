package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/fingerprint"
	"github.com/quantfeed/announcements-bot/internal/models"
)

// NoveltyItem pairs a raw announcement with its computed fingerprint.
type NoveltyItem struct {
	Announcement models.RawAnnouncement
	Fingerprint  string
}

// filterNew partitions a batch from one source into already-stored and
// new items, returning only the new ones with their fingerprints.
// Items whose publish time cannot be normalized are dropped with a log
// entry; they never abort the batch. Empty input returns without any
// store access.
func (s *Service) filterNew(ctx context.Context, source string, items []models.RawAnnouncement) ([]NoveltyItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	candidates := make([]NoveltyItem, 0, len(items))
	fingerprints := make([]string, 0, len(items))

	for _, item := range items {
		fp, _, err := fingerprint.FromRaw(source, item.NativeID, item.PublishTime)
		if err != nil {
			logrus.Warnf("Skipping announcement %s/%s: %v", source, item.NativeID, err)
			continue
		}
		candidates = append(candidates, NoveltyItem{Announcement: item, Fingerprint: fp})
		fingerprints = append(fingerprints, fp)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	// One batched existence check; the store is the sole authority on
	// novelty, so no in-memory seen-set is consulted.
	existing, err := s.store.ExistingFingerprints(ctx, fingerprints)
	if err != nil {
		return nil, err
	}

	fresh := make([]NoveltyItem, 0, len(candidates))
	for _, candidate := range candidates {
		if _, seen := existing[candidate.Fingerprint]; !seen {
			fresh = append(fresh, candidate)
		}
	}

	return fresh, nil
}
