package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/announcements-bot/internal/cache"
	"github.com/quantfeed/announcements-bot/internal/config"
	"github.com/quantfeed/announcements-bot/internal/models"
	"github.com/quantfeed/announcements-bot/internal/retry"
	"github.com/quantfeed/announcements-bot/internal/storage"
)

// MockStore is a mock implementation of the storage interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveAnnouncement(ctx context.Context, source string, ann models.RawAnnouncement, cls *models.Classification, fp string) error {
	args := m.Called(ctx, source, ann, cls, fp)
	return args.Error(0)
}

func (m *MockStore) RecordHumanCorrection(ctx context.Context, fingerprint, label string) error {
	args := m.Called(ctx, fingerprint, label)
	return args.Error(0)
}

func (m *MockStore) ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]struct{}, error) {
	args := m.Called(ctx, fingerprints)
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *MockStore) LatestAnnouncements(ctx context.Context, limit int, ignored []string) ([]models.StoredAnnouncement, error) {
	args := m.Called(ctx, limit, ignored)
	return args.Get(0).([]models.StoredAnnouncement), args.Error(1)
}

func (m *MockStore) Close() {
	m.Called()
}

// MockCache is a mock implementation of the classification cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetMany(ctx context.Context, keys []string) ([]*models.Classification, error) {
	args := m.Called(ctx, keys)
	return args.Get(0).([]*models.Classification), args.Error(1)
}

func (m *MockCache) SetMany(ctx context.Context, entries map[string]models.Classification, ttl time.Duration) error {
	args := m.Called(ctx, entries, ttl)
	return args.Error(0)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockClassifier is a mock implementation of the classifier
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]models.Classification, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Classification), args.Error(1)
}

// MockNotifier is a mock implementation of the notification interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendAlert(ctx context.Context, message, label, fingerprint string) error {
	args := m.Called(ctx, message, label, fingerprint)
	return args.Error(0)
}

func (m *MockNotifier) SendDigest(ctx context.Context, message string) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		TickInterval:    time.Second,
		DigestInterval:  time.Hour,
		NotifyThreshold: 0.50,
		IgnoredLabels:   []string{"irrelevant"},
		CacheTTL:        time.Hour,
		NotifySendDelay: 0,
	}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, JitterFactor: 0}
}

func newTestService(store *MockStore, clsCache *MockCache, cls *MockClassifier, notifier *MockNotifier) *Service {
	var c cache.ClassificationCache
	if clsCache != nil {
		c = clsCache
	}
	service := NewService(testConfig(), store, c, cls, notifier, nil)
	service.retryCfg = fastRetry()
	return service
}

func rawAnnouncement(id, title string) models.RawAnnouncement {
	return models.RawAnnouncement{
		NativeID:    id,
		Title:       title,
		Content:     "content of " + id,
		PublishTime: int64(1700000000000),
		URL:         "https://example.com/" + id,
	}
}

func TestFilterNew_EmptyInputSkipsStore(t *testing.T) {
	store := &MockStore{}
	service := newTestService(store, nil, &MockClassifier{}, &MockNotifier{})

	fresh, err := service.filterNew(context.Background(), "bybit", nil)

	require.NoError(t, err)
	assert.Empty(t, fresh)
	store.AssertNotCalled(t, "ExistingFingerprints")
}

func TestFilterNew_DropsUnparseableTimestamps(t *testing.T) {
	store := &MockStore{}
	store.On("ExistingFingerprints", mock.Anything, mock.MatchedBy(func(fps []string) bool {
		return len(fps) == 2
	})).Return(map[string]struct{}{}, nil)

	service := newTestService(store, nil, &MockClassifier{}, &MockNotifier{})

	items := []models.RawAnnouncement{
		rawAnnouncement("a1", "First"),
		{NativeID: "a2", Title: "Broken", PublishTime: "not a date"},
		rawAnnouncement("a3", "Third"),
	}

	fresh, err := service.filterNew(context.Background(), "bybit", items)

	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "a1", fresh[0].Announcement.NativeID)
	assert.Equal(t, "a3", fresh[1].Announcement.NativeID)
	store.AssertExpectations(t)
}

func TestFilterNew_ExcludesStoredFingerprints(t *testing.T) {
	store := &MockStore{}
	var captured []string
	store.On("ExistingFingerprints", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).([]string)
		}).
		Return(map[string]struct{}{}, nil).Once()

	service := newTestService(store, nil, &MockClassifier{}, &MockNotifier{})

	items := []models.RawAnnouncement{rawAnnouncement("a1", "First"), rawAnnouncement("a2", "Second")}

	fresh, err := service.filterNew(context.Background(), "bybit", items)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	require.Len(t, captured, 2)

	// Second pass: first item now stored, only the second is new.
	store.ExpectedCalls = nil
	store.On("ExistingFingerprints", mock.Anything, mock.Anything).
		Return(map[string]struct{}{captured[0]: {}}, nil)

	fresh, err = service.filterNew(context.Background(), "bybit", items)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "a2", fresh[0].Announcement.NativeID)
}

func TestClassifyBatch_PreservesOrderWithCacheHits(t *testing.T) {
	items := []NoveltyItem{
		{Announcement: rawAnnouncement("a0", "Hit zero"), Fingerprint: "fp0"},
		{Announcement: rawAnnouncement("a1", "Miss one"), Fingerprint: "fp1"},
		{Announcement: rawAnnouncement("a2", "Hit two"), Fingerprint: "fp2"},
		{Announcement: rawAnnouncement("a3", "Miss three"), Fingerprint: "fp3"},
	}

	clsCache := &MockCache{}
	clsCache.On("GetMany", mock.Anything, mock.Anything).Return([]*models.Classification{
		{Label: "trading", Confidence: 0.90},
		nil,
		{Label: "engineering", Confidence: 0.80},
		nil,
	}, nil)
	clsCache.On("SetMany", mock.Anything, mock.MatchedBy(func(entries map[string]models.Classification) bool {
		return len(entries) == 2
	}), time.Hour).Return(nil)

	cls := &MockClassifier{}
	cls.On("ClassifyBatch", mock.Anything, []string{
		items[1].Announcement.ClassifierInput(),
		items[3].Announcement.ClassifierInput(),
	}).Return([]models.Classification{
		{Label: "irrelevant", Confidence: 0.70},
		{Label: "trading", Confidence: 0.60},
	}, nil)

	service := newTestService(&MockStore{}, clsCache, cls, &MockNotifier{})

	results, err := service.classifyBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "trading", results[0].Label)
	assert.Equal(t, "irrelevant", results[1].Label)
	assert.Equal(t, "engineering", results[2].Label)
	assert.Equal(t, "trading", results[3].Label)

	clsCache.AssertExpectations(t)
	cls.AssertExpectations(t)
}

func TestClassifyBatch_CacheFailureDegradesToClassifier(t *testing.T) {
	items := []NoveltyItem{{Announcement: rawAnnouncement("a0", "Only"), Fingerprint: "fp0"}}

	clsCache := &MockCache{}
	clsCache.On("GetMany", mock.Anything, mock.Anything).Return([]*models.Classification(nil), errors.New("redis down"))
	clsCache.On("SetMany", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	cls := &MockClassifier{}
	cls.On("ClassifyBatch", mock.Anything, mock.Anything).Return([]models.Classification{
		{Label: "trading", Confidence: 0.95},
	}, nil)

	service := newTestService(&MockStore{}, clsCache, cls, &MockNotifier{})

	// Neither the read nor the write failure surfaces to the batch.
	results, err := service.classifyBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "trading", results[0].Label)
}

func TestProcessBatch_NotificationGating(t *testing.T) {
	tests := []struct {
		name       string
		cls        models.Classification
		expectSend bool
	}{
		{
			name:       "Below threshold",
			cls:        models.Classification{Label: "trading", Confidence: 0.49},
			expectSend: false,
		},
		{
			name:       "At threshold is not enough",
			cls:        models.Classification{Label: "trading", Confidence: 0.50},
			expectSend: false,
		},
		{
			name:       "Confident but ignored label",
			cls:        models.Classification{Label: "irrelevant", Confidence: 0.51},
			expectSend: false,
		},
		{
			name:       "Confident trading label",
			cls:        models.Classification{Label: "trading", Confidence: 0.51},
			expectSend: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockStore{}
			store.On("ExistingFingerprints", mock.Anything, mock.Anything).Return(map[string]struct{}{}, nil)
			store.On("SaveAnnouncement", mock.Anything, "bybit", mock.Anything, mock.Anything, mock.Anything).Return(nil)

			cls := &MockClassifier{}
			cls.On("ClassifyBatch", mock.Anything, mock.Anything).Return([]models.Classification{tt.cls}, nil)

			notifier := &MockNotifier{}
			if tt.expectSend {
				notifier.On("SendAlert", mock.Anything, mock.Anything, tt.cls.Label, mock.Anything).Return(nil).Once()
			}

			service := newTestService(store, nil, cls, notifier)

			err := service.processBatch(context.Background(), "bybit", []models.RawAnnouncement{rawAnnouncement("a1", "Item")})
			require.NoError(t, err)

			notifier.AssertExpectations(t)
			if !tt.expectSend {
				notifier.AssertNotCalled(t, "SendAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestProcessBatch_SaveFailureIsolated(t *testing.T) {
	store := &MockStore{}
	store.On("ExistingFingerprints", mock.Anything, mock.Anything).Return(map[string]struct{}{}, nil)

	// First item fails persistently, second succeeds.
	var savedIDs []string
	store.On("SaveAnnouncement", mock.Anything, "bybit", mock.MatchedBy(func(ann models.RawAnnouncement) bool {
		return ann.NativeID == "a1"
	}), mock.Anything, mock.Anything).Return(errors.New("db down"))
	store.On("SaveAnnouncement", mock.Anything, "bybit", mock.MatchedBy(func(ann models.RawAnnouncement) bool {
		return ann.NativeID == "a2"
	}), mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		savedIDs = append(savedIDs, args.Get(2).(models.RawAnnouncement).NativeID)
	}).Return(nil)

	cls := &MockClassifier{}
	cls.On("ClassifyBatch", mock.Anything, mock.Anything).Return([]models.Classification{
		{Label: "trading", Confidence: 0.90},
		{Label: "trading", Confidence: 0.90},
	}, nil)

	notifier := &MockNotifier{}
	notifier.On("SendAlert", mock.Anything, mock.Anything, "trading", mock.Anything).Return(nil)

	service := newTestService(store, nil, cls, notifier)

	items := []models.RawAnnouncement{rawAnnouncement("a1", "First"), rawAnnouncement("a2", "Second")}
	err := service.processBatch(context.Background(), "bybit", items)
	require.NoError(t, err)

	// Only the second item is persisted and alerted.
	assert.Equal(t, []string{"a2"}, savedIDs)
	notifier.AssertNumberOfCalls(t, "SendAlert", 1)
}

func TestProcessBatch_NotificationFailureDoesNotBlockSiblings(t *testing.T) {
	store := &MockStore{}
	store.On("ExistingFingerprints", mock.Anything, mock.Anything).Return(map[string]struct{}{}, nil)
	store.On("SaveAnnouncement", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cls := &MockClassifier{}
	cls.On("ClassifyBatch", mock.Anything, mock.Anything).Return([]models.Classification{
		{Label: "trading", Confidence: 0.90},
		{Label: "engineering", Confidence: 0.90},
	}, nil)

	notifier := &MockNotifier{}
	notifier.On("SendAlert", mock.Anything, mock.Anything, "trading", mock.Anything).Return(errors.New("telegram down"))
	notifier.On("SendAlert", mock.Anything, mock.Anything, "engineering", mock.Anything).Return(nil)

	service := newTestService(store, nil, cls, notifier)

	items := []models.RawAnnouncement{rawAnnouncement("a1", "First"), rawAnnouncement("a2", "Second")}
	err := service.processBatch(context.Background(), "bybit", items)
	require.NoError(t, err)

	notifier.AssertNumberOfCalls(t, "SendAlert", 2)
	store.AssertNumberOfCalls(t, "SaveAnnouncement", 2)
}

func TestProcessBatch_BatchIsolationWithBadTimestamp(t *testing.T) {
	store := &MockStore{}
	store.On("ExistingFingerprints", mock.Anything, mock.MatchedBy(func(fps []string) bool {
		return len(fps) == 4
	})).Return(map[string]struct{}{}, nil)
	store.On("SaveAnnouncement", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cls := &MockClassifier{}
	cls.On("ClassifyBatch", mock.Anything, mock.MatchedBy(func(texts []string) bool {
		return len(texts) == 4
	})).Return([]models.Classification{
		{Label: "irrelevant", Confidence: 0.9},
		{Label: "irrelevant", Confidence: 0.9},
		{Label: "irrelevant", Confidence: 0.9},
		{Label: "irrelevant", Confidence: 0.9},
	}, nil)

	service := newTestService(store, nil, cls, &MockNotifier{})

	items := []models.RawAnnouncement{
		rawAnnouncement("a1", "One"),
		rawAnnouncement("a2", "Two"),
		{NativeID: "a3", Title: "Bad clock", PublishTime: "whenever"},
		rawAnnouncement("a4", "Four"),
		rawAnnouncement("a5", "Five"),
	}

	err := service.processBatch(context.Background(), "bybit", items)
	require.NoError(t, err)

	store.AssertNumberOfCalls(t, "SaveAnnouncement", 4)
}

func TestProcessBatch_RepublishedItemSkippedWithoutRetry(t *testing.T) {
	store := &MockStore{}
	store.On("ExistingFingerprints", mock.Anything, mock.Anything).Return(map[string]struct{}{}, nil)
	store.On("SaveAnnouncement", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("announcement bybit/a1: %w", storage.ErrRepublished))

	cls := &MockClassifier{}
	cls.On("ClassifyBatch", mock.Anything, mock.Anything).Return([]models.Classification{
		{Label: "trading", Confidence: 0.90},
	}, nil)

	notifier := &MockNotifier{}

	service := newTestService(store, nil, cls, notifier)

	err := service.processBatch(context.Background(), "bybit", []models.RawAnnouncement{rawAnnouncement("a1", "Item")})
	require.NoError(t, err)

	// The outcome cannot change, so the save is attempted exactly once
	// and no alert or error count follows.
	store.AssertNumberOfCalls(t, "SaveAnnouncement", 1)
	notifier.AssertNotCalled(t, "SendAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.NotContains(t, service.GetMetrics(), `"error_count": 1`)
}

func TestTruncateContent_RuneBoundary(t *testing.T) {
	long := strings.Repeat("€", 200) // 600 bytes; the limit lands mid-rune

	truncated := truncateContent(long, 400)

	assert.True(t, utf8.ValidString(truncated))
	assert.LessOrEqual(t, len(truncated), 400+len("…"))
	assert.True(t, strings.HasSuffix(truncated, "…"))

	short := "plain ascii"
	assert.Equal(t, short, truncateContent(short, 400))
}

func TestFormatAlert_MultibyteContentStaysValid(t *testing.T) {
	ann := rawAnnouncement("a1", "Maintenance")
	ann.Content = strings.Repeat("延", 300)

	message := formatAlert("bybit", ann, models.Classification{Label: "engineering", Confidence: 0.8})

	assert.True(t, utf8.ValidString(message))
	assert.Contains(t, message, "Maintenance")
}

func TestSendDigest_ResetsCounters(t *testing.T) {
	notifier := &MockNotifier{}
	var message string
	notifier.On("SendDigest", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		message = args.Get(1).(string)
	}).Return(nil)

	service := newTestService(&MockStore{}, nil, &MockClassifier{}, notifier)
	service.recordStored("bybit", "trading")
	service.recordStored("bybit", "trading")
	service.recordStored("newsapi", "engineering")

	service.sendDigest(context.Background())

	assert.Contains(t, message, "3 new announcements")
	assert.Contains(t, message, "trading: 2")
	assert.Contains(t, message, "engineering: 1")

	// Counters reset after a digest; the next one starts from zero.
	service.sendDigest(context.Background())
	assert.Contains(t, message, "0 new announcements")
}

func TestGetMetrics(t *testing.T) {
	service := newTestService(&MockStore{}, nil, &MockClassifier{}, &MockNotifier{})
	service.recordStored("bybit", "trading")
	service.recordError()

	metrics := service.GetMetrics()

	assert.Contains(t, metrics, `"total_stored": 1`)
	assert.Contains(t, metrics, `"error_count": 1`)
	assert.Contains(t, metrics, `"bybit": 1`)
}
