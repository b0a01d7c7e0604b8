package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/models"
)

const marketauxBaseURL = "https://api.marketaux.com"

// MarketauxSource fetches market news from the Marketaux API.
type MarketauxSource struct {
	client  *resty.Client
	baseURL string
	apiKey  string
}

type marketauxResponse struct {
	Data []json.RawMessage `json:"data"`
}

type marketauxArticle struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Entities    []struct {
		Symbol string `json:"symbol"`
	} `json:"entities"`
}

// NewMarketauxSource creates a new Marketaux source
func NewMarketauxSource(apiKey string) *MarketauxSource {
	return &MarketauxSource{
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "announcements-bot/1.0"),
		baseURL: marketauxBaseURL,
		apiKey:  apiKey,
	}
}

func (m *MarketauxSource) Name() string {
	return "marketaux"
}

func (m *MarketauxSource) IsEnabled() bool {
	return m.apiKey != ""
}

func (m *MarketauxSource) Fetch(ctx context.Context) ([]models.RawAnnouncement, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_token": m.apiKey,
			"language":  "en",
			"limit":     "50",
		}).
		Get(m.baseURL + "/v1/news/all")
	if err != nil {
		return nil, fmt.Errorf("marketaux request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("marketaux API returned status %d", resp.StatusCode())
	}

	var parsed marketauxResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode marketaux response: %w", err)
	}

	var announcements []models.RawAnnouncement
	for _, raw := range parsed.Data {
		ann, ok := m.standardize(raw)
		if !ok {
			continue
		}
		announcements = append(announcements, ann)
	}

	return announcements, nil
}

func (m *MarketauxSource) standardize(raw json.RawMessage) (models.RawAnnouncement, bool) {
	var article marketauxArticle
	if err := json.Unmarshal(raw, &article); err != nil {
		logrus.Warnf("Skipping malformed marketaux article: %v", err)
		return models.RawAnnouncement{}, false
	}

	if article.UUID == "" || article.Title == "" {
		return models.RawAnnouncement{}, false
	}

	var rawMap map[string]any
	if err := json.Unmarshal(raw, &rawMap); err != nil {
		rawMap = nil
	}

	tags := make([]string, 0, len(article.Entities))
	for _, entity := range article.Entities {
		if entity.Symbol != "" {
			tags = append(tags, entity.Symbol)
		}
	}

	return models.RawAnnouncement{
		NativeID:    article.UUID,
		Title:       article.Title,
		Content:     article.Description,
		Type:        "news",
		Tags:        tags,
		PublishTime: article.PublishedAt, // ISO-8601
		URL:         article.URL,
		Raw:         rawMap,
	}, true
}
