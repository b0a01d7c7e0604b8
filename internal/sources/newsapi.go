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

const newsAPIBaseURL = "https://newsapi.org"

// NewsAPISource fetches trading and engineering related articles from
// NewsAPI's everything endpoint.
type NewsAPISource struct {
	client  *resty.Client
	baseURL string
	apiKey  string
}

type newsAPIResponse struct {
	Status   string            `json:"status"`
	Articles []json.RawMessage `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// NewNewsAPISource creates a new NewsAPI source
func NewNewsAPISource(apiKey string) *NewsAPISource {
	return &NewsAPISource{
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "announcements-bot/1.0"),
		baseURL: newsAPIBaseURL,
		apiKey:  apiKey,
	}
}

func (n *NewsAPISource) Name() string {
	return "newsapi"
}

func (n *NewsAPISource) IsEnabled() bool {
	return n.apiKey != ""
}

func (n *NewsAPISource) Fetch(ctx context.Context) ([]models.RawAnnouncement, error) {
	now := time.Now().UTC()

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", n.apiKey).
		SetQueryParams(map[string]string{
			"q":        "trading AND engineering",
			"from":     now.AddDate(0, 0, -7).Format("2006-01-02"),
			"to":       now.Format("2006-01-02"),
			"language": "en",
			"sortBy":   "publishedAt",
			"pageSize": "50",
		}).
		Get(n.baseURL + "/v2/everything")
	if err != nil {
		return nil, fmt.Errorf("newsapi request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("newsapi returned status %d", resp.StatusCode())
	}

	var parsed newsAPIResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode newsapi response: %w", err)
	}

	if parsed.Status != "ok" {
		return nil, fmt.Errorf("newsapi error status: %s", parsed.Status)
	}

	var announcements []models.RawAnnouncement
	for _, raw := range parsed.Articles {
		ann, ok := n.standardize(raw)
		if !ok {
			continue
		}
		announcements = append(announcements, ann)
	}

	return announcements, nil
}

func (n *NewsAPISource) standardize(raw json.RawMessage) (models.RawAnnouncement, bool) {
	var article newsAPIArticle
	if err := json.Unmarshal(raw, &article); err != nil {
		logrus.Warnf("Skipping malformed newsapi article: %v", err)
		return models.RawAnnouncement{}, false
	}

	if article.Title == "" || article.URL == "" {
		return models.RawAnnouncement{}, false
	}

	var rawMap map[string]any
	if err := json.Unmarshal(raw, &rawMap); err != nil {
		rawMap = nil
	}

	content := article.Description
	if content == "" {
		content = article.Content
	}

	return models.RawAnnouncement{
		// Articles carry no id; the URL is the stable identity.
		NativeID:    article.URL,
		Title:       article.Title,
		Content:     content,
		Type:        "news",
		PublishTime: article.PublishedAt, // ISO-8601
		URL:         article.URL,
		Raw:         rawMap,
	}, true
}
