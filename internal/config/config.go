package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Backing services
	DatabaseURL   string
	RedisURL      string
	ClassifierURL string

	// Pipeline configuration
	TickInterval    time.Duration
	DigestInterval  time.Duration
	NotifyThreshold float64
	IgnoredLabels   []string
	CacheTTL        time.Duration
	NotifySendDelay time.Duration

	// Telegram configuration
	TelegramBotToken  string
	TradingChatID     int64
	EngineeringChatID int64

	// Feed credentials
	NewsAPIKey      string
	MarketauxAPIKey string
	JBlankedAPIKey  string

	// Daily economic-calendar report
	ReportSchedule    string // "daily" or "weekly"
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		ClassifierURL: getEnv("CLASSIFIER_URL", ""),

		TickInterval:    getDurationSecondsEnv("TICK_INTERVAL_SECONDS", 300),
		DigestInterval:  getDurationSecondsEnv("DIGEST_INTERVAL_SECONDS", 3600),
		NotifyThreshold: getFloatEnv("NOTIFY_CONFIDENCE_THRESHOLD", 0.50),
		IgnoredLabels:   getSliceEnv("IGNORED_LABELS", []string{"irrelevant"}),
		CacheTTL:        getDurationSecondsEnv("CACHE_TTL_SECONDS", 3600),
		NotifySendDelay: time.Duration(getIntEnv("NOTIFY_SEND_DELAY_MS", 500)) * time.Millisecond,

		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TradingChatID:     getInt64Env("TELEGRAM_TRADING_CHAT_ID", 0),
		EngineeringChatID: getInt64Env("TELEGRAM_ENGINEERING_CHAT_ID", 0),

		NewsAPIKey:      getEnv("NEWS_API_KEY", ""),
		MarketauxAPIKey: getEnv("MARKET_API_KEY", ""),
		JBlankedAPIKey:  getEnv("JBLANKED_API_KEY", ""),

		ReportSchedule:    getEnv("REPORT_SCHEDULE", "daily"),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.NotifyThreshold < 0 || c.NotifyThreshold > 1 {
		return fmt.Errorf("NOTIFY_CONFIDENCE_THRESHOLD must be in [0,1]")
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL_SECONDS must be positive")
	}

	if c.ReportSchedule != "daily" && c.ReportSchedule != "weekly" {
		return fmt.Errorf("REPORT_SCHEDULE must be 'daily' or 'weekly'")
	}

	if c.TelegramBotToken != "" && c.TradingChatID == 0 {
		return fmt.Errorf("TELEGRAM_TRADING_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// IsIgnoredLabel reports whether alerts for the given label are
// suppressed. The label set is an opaque configured list, not an enum,
// so the classifier stays pluggable.
func (c *Config) IsIgnoredLabel(label string) bool {
	for _, ignored := range c.IgnoredLabels {
		if strings.EqualFold(label, ignored) {
			return true
		}
	}
	return false
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationSecondsEnv(key string, defaultSeconds int) time.Duration {
	return time.Duration(getIntEnv(key, defaultSeconds)) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
