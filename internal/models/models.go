package models

import "time"

// RawAnnouncement is an announcement exactly as a feed produced it,
// before dedup and classification. PublishTime keeps the feed's native
// shape: epoch milliseconds or seconds (int64/float64), an ISO-8601
// string, or an already-parsed time.Time.
type RawAnnouncement struct {
	NativeID    string         `json:"id"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Type        string         `json:"type,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	PublishTime any            `json:"publish_time"`
	URL         string         `json:"url"`
	Raw         map[string]any `json:"raw_data,omitempty"`
}

// Classification is the single tagged result shape used across the
// cache, store and notifier boundaries.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// StoredAnnouncement mirrors a row of the announcements table.
type StoredAnnouncement struct {
	Fingerprint    string    `json:"fingerprint"`
	Source         string    `json:"source"`
	NativeID       string    `json:"native_id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Type           string    `json:"type,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	PublishTime    time.Time `json:"publish_time"`
	URL            string    `json:"url"`
	AutoLabel      string    `json:"auto_label,omitempty"`
	AutoConfidence float64   `json:"auto_confidence,omitempty"`
	HumanLabel     string    `json:"human_label,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CalendarEvent is one row of the Forex Factory economic calendar.
type CalendarEvent struct {
	Name     string `json:"Name"`
	Currency string `json:"Currency"`
	Date     string `json:"Date"`
	Actual   string `json:"Actual"`
	Forecast string `json:"Forecast"`
	Previous string `json:"Previous"`
	Outcome  string `json:"Outcome"`
	Strength string `json:"Strength"`
	Quality  string `json:"Quality"`
}

// ClassifierInput builds the exact text handed to the classifier for
// one announcement. Cache keys are derived from this string, so any
// change here invalidates the classification cache.
func (a RawAnnouncement) ClassifierInput() string {
	return a.Title + "\n" + a.Content
}
