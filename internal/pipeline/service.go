package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/cache"
	"github.com/quantfeed/announcements-bot/internal/classifier"
	"github.com/quantfeed/announcements-bot/internal/config"
	"github.com/quantfeed/announcements-bot/internal/models"
	"github.com/quantfeed/announcements-bot/internal/notifications"
	"github.com/quantfeed/announcements-bot/internal/retry"
	"github.com/quantfeed/announcements-bot/internal/sources"
	"github.com/quantfeed/announcements-bot/internal/storage"
)

const contentPreviewLimit = 400

// Service drives the polling pipeline: fetch from every source
// concurrently, then per source run dedup, cache-assisted
// classification, persistence and gated notification. It owns the only
// scheduling loop in the process.
type Service struct {
	config     *config.Config
	store      storage.Store
	cache      cache.ClassificationCache
	classifier classifier.Classifier
	notifier   notifications.Interface
	sources    []sources.Source
	retryCfg   retry.Config

	metrics    *Metrics
	mu         sync.RWMutex
	lastDigest time.Time

	// digestCounts accumulates per-label stores since the last digest.
	digestCounts map[string]int
}

// Metrics holds pipeline counters exposed on /metrics.
type Metrics struct {
	LastRun         time.Time      `json:"last_run"`
	LastRunDuration string         `json:"last_run_duration"`
	TotalStored     int            `json:"total_stored"`
	SourceCounts    map[string]int `json:"source_counts"`
	LabelCounts     map[string]int `json:"label_counts"`
	ErrorCount      int            `json:"error_count"`
}

// NewService creates a new pipeline service. The cache may be nil, in
// which case every classification is computed fresh.
func NewService(cfg *config.Config, store storage.Store, clsCache cache.ClassificationCache, cls classifier.Classifier, notifier notifications.Interface, feeds []sources.Source) *Service {
	return &Service{
		config:     cfg,
		store:      store,
		cache:      clsCache,
		classifier: cls,
		notifier:   notifier,
		sources:    feeds,
		retryCfg:   retry.DefaultConfig(),
		metrics: &Metrics{
			SourceCounts: make(map[string]int),
			LabelCounts:  make(map[string]int),
		},
		lastDigest:   time.Now(),
		digestCounts: make(map[string]int),
	}
}

// Run executes ticks until the context is cancelled. Cancellation is
// honored between ticks and during backoff waits, never mid-persist.
func (s *Service) Run(ctx context.Context) {
	logrus.Infof("Pipeline started (tick %v, digest %v, threshold %.2f)",
		s.config.TickInterval, s.config.DigestInterval, s.config.NotifyThreshold)

	for {
		s.RunOnce(ctx)

		if time.Since(s.lastDigest) >= s.config.DigestInterval {
			s.sendDigest(ctx)
			s.lastDigest = time.Now()
		}

		select {
		case <-ctx.Done():
			logrus.Info("Pipeline stopped")
			return
		case <-time.After(s.config.TickInterval):
		}
	}
}

// RunOnce performs one tick: concurrent fan-out over all enabled
// sources, each batch processed independently. One failing source
// contributes an empty result and never blocks the others.
func (s *Service) RunOnce(ctx context.Context) {
	start := time.Now()
	logrus.Debug("Starting tick")

	var wg sync.WaitGroup
	for _, source := range s.sources {
		if !source.IsEnabled() {
			continue
		}

		wg.Add(1)
		go func(src sources.Source) {
			defer wg.Done()

			var items []models.RawAnnouncement
			err := retry.Do(ctx, s.retryCfg, src.Name()+" fetch", func() error {
				var fetchErr error
				items, fetchErr = src.Fetch(ctx)
				return fetchErr
			})
			if err != nil {
				logrus.Errorf("Error fetching from %s: %v", src.Name(), err)
				s.recordError()
				return
			}

			if len(items) == 0 {
				return
			}

			logrus.Infof("Fetched %d announcements from %s", len(items), src.Name())

			if err := s.processBatch(ctx, src.Name(), items); err != nil {
				logrus.Errorf("Failed to process %s batch: %v", src.Name(), err)
				s.recordError()
			}
		}(source)
	}
	wg.Wait()

	s.finishTick(time.Since(start))
	logrus.Debugf("Tick completed in %v", time.Since(start))
}

// processBatch runs one source's announcements through the pipeline:
// novelty filter, cache-assisted batch classification, persistence and
// gated notification. Item order is preserved end to end.
func (s *Service) processBatch(ctx context.Context, source string, items []models.RawAnnouncement) error {
	newItems, err := s.filterNew(ctx, source, items)
	if err != nil {
		return fmt.Errorf("novelty check failed: %w", err)
	}

	if len(newItems) == 0 {
		logrus.Debugf("No new announcements from %s", source)
		return nil
	}

	logrus.Infof("%d new announcements from %s", len(newItems), source)

	classifications, err := s.classifyBatch(ctx, newItems)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	sent := false
	for i, item := range newItems {
		cls := classifications[i]

		saveErr := retry.Do(ctx, s.retryCfg, "store save", func() error {
			err := s.store.SaveAnnouncement(ctx, source, item.Announcement, &cls, item.Fingerprint)
			if errors.Is(err, storage.ErrRepublished) {
				return retry.Unrecoverable(err)
			}
			return err
		})
		if errors.Is(saveErr, storage.ErrRepublished) {
			// A feed reused a native id under a new timestamp; the
			// first stored version stays authoritative.
			logrus.Warnf("Skipping announcement %s: %v", item.Fingerprint, saveErr)
			continue
		}
		if saveErr != nil {
			// The item will reappear as new on a future fetch and be
			// re-classified then; classification is idempotent.
			logrus.Errorf("Failed to save announcement %s: %v", item.Fingerprint, saveErr)
			s.recordError()
			continue
		}

		s.recordStored(source, cls.Label)

		if !s.shouldNotify(cls) {
			continue
		}

		if sent {
			// Space successive sends to respect destination rate limits.
			time.Sleep(s.config.NotifySendDelay)
		}

		message := formatAlert(source, item.Announcement, cls)
		if err := s.notifier.SendAlert(ctx, message, cls.Label, item.Fingerprint); err != nil {
			logrus.Warnf("Failed to send alert for %s: %v", item.Fingerprint, err)
			s.recordError()
			continue
		}
		sent = true
	}

	return nil
}

// classifyBatch resolves classifications for the batch, consulting the
// cache first and invoking the classifier once for all misses. The
// returned slice is positional: result[i] belongs to items[i].
func (s *Service) classifyBatch(ctx context.Context, items []NoveltyItem) ([]models.Classification, error) {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Announcement.ClassifierInput()
	}

	keys := cache.BatchKeys(texts)
	cached := s.cacheLookup(ctx, keys)

	var missTexts []string
	var missIndexes []int
	for i, hit := range cached {
		if hit == nil {
			missTexts = append(missTexts, texts[i])
			missIndexes = append(missIndexes, i)
		}
	}

	results := make([]models.Classification, len(items))
	for i, hit := range cached {
		if hit != nil {
			results[i] = *hit
		}
	}

	if len(missTexts) > 0 {
		fresh, err := s.classifier.ClassifyBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(fresh) != len(missTexts) {
			return nil, fmt.Errorf("classifier returned %d results for %d texts", len(fresh), len(missTexts))
		}

		entries := make(map[string]models.Classification, len(fresh))
		for j, cls := range fresh {
			idx := missIndexes[j]
			results[idx] = cls
			entries[keys[idx]] = cls
		}

		s.cacheStore(ctx, entries)
	}

	return results, nil
}

// cacheLookup returns positional cache hits. A cache failure degrades
// to all-misses; it never fails the batch.
func (s *Service) cacheLookup(ctx context.Context, keys []string) []*models.Classification {
	if s.cache == nil {
		return make([]*models.Classification, len(keys))
	}

	hits, err := s.cache.GetMany(ctx, keys)
	if err != nil {
		logrus.Warnf("Classification cache read failed: %v", err)
		return make([]*models.Classification, len(keys))
	}
	return hits
}

// cacheStore writes fresh results. Failures are logged and swallowed:
// a lost cache entry only costs a redundant classification later.
func (s *Service) cacheStore(ctx context.Context, entries map[string]models.Classification) {
	if s.cache == nil || len(entries) == 0 {
		return
	}

	if err := s.cache.SetMany(ctx, entries, s.config.CacheTTL); err != nil {
		logrus.Warnf("Classification cache write failed: %v", err)
	}
}

// shouldNotify applies the confidence threshold and the configured
// ignore set.
func (s *Service) shouldNotify(cls models.Classification) bool {
	return cls.Confidence > s.config.NotifyThreshold && !s.config.IsIgnoredLabel(cls.Label)
}

func formatAlert(source string, ann models.RawAnnouncement, cls models.Classification) string {
	return fmt.Sprintf("🚨 New %s announcement [%s]\n📌 %s\n📊 %s\n🎯 Confidence: %.0f%%\n🔗 %s",
		cls.Label, source, ann.Title, truncateContent(ann.Content, contentPreviewLimit),
		cls.Confidence*100, ann.URL)
}

// truncateContent shortens content to at most limit bytes, backing up
// to a rune boundary so the preview is never invalid UTF-8.
func truncateContent(content string, limit int) string {
	if len(content) <= limit {
		return content
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "…"
}

// sendDigest emits the periodic activity summary. It is independent of
// per-item gating and is scheduled by elapsed-time comparison inside
// the tick loop, not by a second goroutine.
func (s *Service) sendDigest(ctx context.Context) {
	s.mu.Lock()
	counts := s.digestCounts
	s.digestCounts = make(map[string]int)
	s.mu.Unlock()

	total := 0
	for _, n := range counts {
		total += n
	}

	message := fmt.Sprintf("📊 *Pipeline pulse*\n%d new announcements since the last digest\n"+
		"• trading: %d\n• engineering: %d\n• irrelevant: %d",
		total, counts["trading"], counts["engineering"], counts["irrelevant"])

	if err := s.notifier.SendDigest(ctx, message); err != nil {
		logrus.Warnf("Failed to send digest: %v", err)
		s.recordError()
	}
}

func (s *Service) recordStored(source, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalStored++
	s.metrics.SourceCounts[source]++
	s.metrics.LabelCounts[label]++
	s.digestCounts[label]++
}

func (s *Service) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ErrorCount++
}

func (s *Service) finishTick(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.LastRun = time.Now()
	s.metrics.LastRunDuration = duration.String()
}

// GetMetrics returns current metrics as JSON.
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
