package classifier

import (
	"context"
	"strings"

	"github.com/quantfeed/announcements-bot/internal/models"
)

// KeywordClassifier is the fallback used when no model service is
// configured. It scores texts against fixed keyword lists, which is
// crude but keeps the pipeline fully functional.
type KeywordClassifier struct{}

// Ensure KeywordClassifier implements Classifier
var _ Classifier = (*KeywordClassifier)(nil)

var tradingKeywords = []string{
	"listing", "delisting", "trading", "spot", "futures", "perpetual",
	"margin", "leverage", "airdrop", "launchpool", "token sale",
	"price", "pair", "staking",
}

var engineeringKeywords = []string{
	"maintenance", "upgrade", "api", "deprecat", "downtime", "wallet",
	"network", "migration", "sdk", "endpoint", "outage", "incident",
	"release",
}

// NewKeywordClassifier creates the fallback classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// ClassifyBatch scores each text independently, one result per input
// in input order.
func (c *KeywordClassifier) ClassifyBatch(_ context.Context, texts []string) ([]models.Classification, error) {
	results := make([]models.Classification, len(texts))
	for i, text := range texts {
		results[i] = classifyText(text)
	}
	return results, nil
}

func classifyText(text string) models.Classification {
	content := strings.ToLower(text)

	tradingScore := countMatches(content, tradingKeywords)
	engineeringScore := countMatches(content, engineeringKeywords)

	if tradingScore == 0 && engineeringScore == 0 {
		return models.Classification{Label: "irrelevant", Confidence: 0.90}
	}

	label := "trading"
	wins, loses := tradingScore, engineeringScore
	if engineeringScore > tradingScore {
		label = "engineering"
		wins, loses = engineeringScore, tradingScore
	}

	// More matches and a larger margin mean more confidence, capped
	// well below certainty.
	confidence := 0.55 + 0.08*float64(wins-loses)
	if confidence > 0.90 {
		confidence = 0.90
	}

	return models.Classification{Label: label, Confidence: confidence}
}

func countMatches(content string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		if strings.Contains(content, keyword) {
			count++
		}
	}
	return count
}
