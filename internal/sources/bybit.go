package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/models"
)

const bybitBaseURL = "https://api.bybit.com"

// BybitSource fetches exchange announcements from the public Bybit v5
// API (new listings, delistings, maintenance windows).
type BybitSource struct {
	client  *resty.Client
	baseURL string
}

type bybitResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []json.RawMessage `json:"list"`
	} `json:"result"`
}

type bybitAnnouncement struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        struct {
		Title string `json:"title"`
		Key   string `json:"key"`
	} `json:"type"`
	Tags          []string `json:"tags"`
	URL           string   `json:"url"`
	DateTimestamp int64    `json:"dateTimestamp"`
}

// NewBybitSource creates a new Bybit announcements source
func NewBybitSource() *BybitSource {
	return &BybitSource{
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "announcements-bot/1.0"),
		baseURL: bybitBaseURL,
	}
}

func (b *BybitSource) Name() string {
	return "bybit"
}

func (b *BybitSource) IsEnabled() bool {
	return true // the announcements endpoint requires no authentication
}

func (b *BybitSource) Fetch(ctx context.Context) ([]models.RawAnnouncement, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"locale": "en-US",
			"limit":  "50",
		}).
		Get(b.baseURL + "/v5/announcements/index")
	if err != nil {
		return nil, fmt.Errorf("bybit request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("bybit API returned status %d", resp.StatusCode())
	}

	var parsed bybitResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode bybit response: %w", err)
	}

	if parsed.RetCode != 0 {
		return nil, fmt.Errorf("bybit API error: %s", parsed.RetMsg)
	}

	var announcements []models.RawAnnouncement
	for _, raw := range parsed.Result.List {
		ann, ok := b.standardize(raw)
		if !ok {
			continue
		}
		announcements = append(announcements, ann)
	}

	return announcements, nil
}

// standardize maps one wire item into the pipeline's shape, keeping
// the original payload for full-fidelity storage.
func (b *BybitSource) standardize(raw json.RawMessage) (models.RawAnnouncement, bool) {
	var item bybitAnnouncement
	if err := json.Unmarshal(raw, &item); err != nil {
		logrus.Warnf("Skipping malformed bybit item: %v", err)
		return models.RawAnnouncement{}, false
	}

	if item.Title == "" {
		return models.RawAnnouncement{}, false
	}

	var rawMap map[string]any
	if err := json.Unmarshal(raw, &rawMap); err != nil {
		rawMap = nil
	}

	return models.RawAnnouncement{
		NativeID:    bybitNativeID(item),
		Title:       item.Title,
		Content:     item.Description,
		Type:        item.Type.Title,
		Tags:        item.Tags,
		PublishTime: item.DateTimestamp, // epoch milliseconds
		URL:         item.URL,
		Raw:         rawMap,
	}, true
}

// bybitNativeID extracts a stable id from the announcement URL; Bybit
// does not expose one directly. The publish timestamp is the fallback.
func bybitNativeID(item bybitAnnouncement) string {
	trimmed := strings.Trim(item.URL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 && idx < len(trimmed)-1 {
		return trimmed[idx+1:]
	}
	return strconv.FormatInt(item.DateTimestamp, 10)
}
