package forex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/models"
)

const calendarBaseURL = "https://www.jblanked.com/news/api/forex-factory/calendar"

// Layout of the Date field in calendar responses.
const calendarDateLayout = "2006.01.02 15:04:05"

// Client fetches the Forex Factory economic calendar used for the
// daily report and the /forex command.
type Client struct {
	client  *resty.Client
	baseURL string
	apiKey  string
}

// NewClient creates a new calendar client
func NewClient(apiKey string) *Client {
	return &Client{
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "announcements-bot/1.0"),
		baseURL: calendarBaseURL,
		apiKey:  apiKey,
	}
}

// IsEnabled reports whether an API key is configured.
func (c *Client) IsEnabled() bool {
	return c.apiKey != ""
}

// TodayEvents fetches today's economic calendar.
func (c *Client) TodayEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Api-Key "+c.apiKey).
		Get(c.baseURL + "/today/")
	if err != nil {
		return nil, fmt.Errorf("calendar request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("calendar API returned status %d", resp.StatusCode())
	}

	var events []models.CalendarEvent
	if err := json.Unmarshal(resp.Body(), &events); err != nil {
		return nil, fmt.Errorf("failed to decode calendar response: %w", err)
	}

	return events, nil
}

// FormatEvents renders calendar events as a Markdown message. At most
// maxEvents entries are included to keep messages readable.
func FormatEvents(events []models.CalendarEvent, maxEvents int) string {
	if len(events) == 0 {
		return "No Forex Factory data available today"
	}

	if maxEvents > 0 && len(events) > maxEvents {
		events = events[:maxEvents]
	}

	var b strings.Builder
	b.WriteString("📅 *Today's Forex Factory Calendar*\n")

	for _, event := range events {
		timeStr := "All Day"
		if event.Date != "" {
			if parsed, err := time.Parse(calendarDateLayout, event.Date); err == nil {
				timeStr = parsed.Format("03:04 PM")
			} else {
				logrus.Warnf("Failed to parse calendar date %q: %v", event.Date, err)
			}
		}

		name := event.Name
		if name == "" {
			name = "No title"
		}

		fmt.Fprintf(&b, "\n⏰ *%s* - %s\n", timeStr, name)
		fmt.Fprintf(&b, "• *Currency*: %s\n", valueOrNA(event.Currency))
		fmt.Fprintf(&b, "• *Actual*: %s\n", valueOrNA(event.Actual))
		fmt.Fprintf(&b, "• *Forecast*: %s\n", valueOrNA(event.Forecast))
		fmt.Fprintf(&b, "• *Previous*: %s\n", valueOrNA(event.Previous))
		fmt.Fprintf(&b, "• *Outcome*: %s\n", valueOrNA(event.Outcome))
	}

	return b.String()
}

func valueOrNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}
