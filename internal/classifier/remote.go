package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quantfeed/announcements-bot/internal/models"
)

// RemoteClassifier calls the model service's batch prediction endpoint.
type RemoteClassifier struct {
	client  *resty.Client
	baseURL string
}

// Ensure RemoteClassifier implements Classifier
var _ Classifier = (*RemoteClassifier)(nil)

type batchPredictionRequest struct {
	Texts []string `json:"texts"`
}

type batchPredictionResponse struct {
	Results []models.Classification `json:"results"`
}

// NewRemoteClassifier creates a classifier client against the given
// base URL (e.g. http://classifier:8000).
func NewRemoteClassifier(baseURL string) *RemoteClassifier {
	return &RemoteClassifier{
		client: resty.New().
			SetTimeout(60 * time.Second).
			SetHeader("User-Agent", "announcements-bot/1.0"),
		baseURL: baseURL,
	}
}

// ClassifyBatch sends the whole batch in one call; the pipeline never
// classifies item by item.
func (c *RemoteClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]models.Classification, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(batchPredictionRequest{Texts: texts}).
		Post(c.baseURL + "/api/predict/batch")
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode())
	}

	var parsed batchPredictionResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response: %w", err)
	}

	if len(parsed.Results) != len(texts) {
		return nil, fmt.Errorf("classifier returned %d results for %d texts", len(parsed.Results), len(texts))
	}

	return parsed.Results, nil
}
