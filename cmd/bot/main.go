package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/cache"
	"github.com/quantfeed/announcements-bot/internal/classifier"
	"github.com/quantfeed/announcements-bot/internal/config"
	"github.com/quantfeed/announcements-bot/internal/forex"
	"github.com/quantfeed/announcements-bot/internal/notifications"
	"github.com/quantfeed/announcements-bot/internal/pipeline"
	"github.com/quantfeed/announcements-bot/internal/scheduler"
	"github.com/quantfeed/announcements-bot/internal/sources"
	"github.com/quantfeed/announcements-bot/internal/storage"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting announcements bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Postgres storage
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize the classification cache (optional)
	var clsCache cache.ClassificationCache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logrus.Warnf("Redis unavailable, running without classification cache: %v", err)
		} else {
			clsCache = redisCache
			defer redisCache.Close()
		}
	}

	// Initialize the classifier, with a keyword fallback when no
	// classification service is configured
	var cls classifier.Classifier
	if cfg.ClassifierURL != "" {
		cls = classifier.NewRemoteClassifier(cfg.ClassifierURL)
	} else {
		logrus.Info("No classifier URL configured, using keyword classifier")
		cls = classifier.NewKeywordClassifier()
	}

	forexClient := forex.NewClient(cfg.JBlankedAPIKey)

	// Initialize notification services
	var notifier notifications.Interface = notifications.NewLogNotifier()
	if cfg.TelegramBotToken != "" {
		telegramNotifier, err := notifications.NewTelegramNotifier(
			cfg.TelegramBotToken, cfg.TradingChatID, cfg.EngineeringChatID,
			store, forexClient, cfg.IgnoredLabels)
		if err != nil {
			logrus.Fatalf("Failed to initialize Telegram notifier: %v", err)
		}
		telegramNotifier.Start(ctx)
		notifier = telegramNotifier
	} else {
		logrus.Warn("No Telegram token configured, alerts go to the log")
	}

	feeds := []sources.Source{
		sources.NewBybitSource(),
		sources.NewNewsAPISource(cfg.NewsAPIKey),
		sources.NewMarketauxSource(cfg.MarketauxAPIKey),
	}
	for _, feed := range feeds {
		if !feed.IsEnabled() {
			logrus.Infof("Source %s is disabled (missing credentials)", feed.Name())
		}
	}

	// Initialize the pipeline and start its polling loop
	pipelineService := pipeline.NewService(cfg, store, clsCache, cls, notifier, feeds)
	go pipelineService.Run(ctx)

	// Schedule the economic calendar report
	emailReporter := notifications.NewEmailReporter(
		cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.NotificationEmail)
	schedulerService := scheduler.NewService(cfg, calendarReport(ctx, forexClient, notifier, emailReporter))
	if forexClient.IsEnabled() {
		if err := schedulerService.Start(); err != nil {
			logrus.Fatalf("Failed to start scheduler: %v", err)
		}
		defer schedulerService.Stop()
	} else {
		logrus.Info("No calendar API key configured, skipping scheduled reports")
	}

	// Set up HTTP server for health checks and manual control
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// Metrics endpoint
	router.HandleFunc("/metrics", metricsHandler(pipelineService)).Methods("GET")

	// Manual trigger endpoint (for testing)
	router.HandleFunc("/trigger", triggerHandler(ctx, pipelineService)).Methods("POST")

	// Latest classified announcements
	router.HandleFunc("/api/latest", latestHandler(store, cfg)).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down...")

	// Stop the pipeline loop and the Telegram update listener
	cancel()

	// Create a deadline for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

// calendarReport builds the scheduled report callback: fetch today's
// economic calendar, deliver it as a digest and, when configured, by
// email as well.
func calendarReport(ctx context.Context, forexClient *forex.Client, notifier notifications.Interface, email *notifications.EmailReporter) scheduler.ReportFunc {
	return func() error {
		reportCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		events, err := forexClient.TodayEvents(reportCtx)
		if err != nil {
			return fmt.Errorf("failed to fetch calendar: %w", err)
		}

		report := forex.FormatEvents(events, 15)
		if err := notifier.SendDigest(reportCtx, report); err != nil {
			return err
		}

		if email.IsEnabled() {
			subject := fmt.Sprintf("Economic calendar for %s", time.Now().UTC().Format("2006-01-02"))
			if err := email.Send(subject, report); err != nil {
				logrus.Errorf("Failed to email calendar report: %v", err)
			}
		}
		return nil
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func metricsHandler(pipelineService *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(pipelineService.GetMetrics()))
	}
}

func triggerHandler(ctx context.Context, pipelineService *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go pipelineService.RunOnce(ctx)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"Pipeline tick triggered"}`))
	}
}

func latestHandler(store storage.Store, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		announcements, err := store.LatestAnnouncements(r.Context(), 15, cfg.IgnoredLabels)
		if err != nil {
			logrus.Errorf("Failed to load latest announcements: %v", err)
			http.Error(w, `{"error":"storage unavailable"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(announcements)
	}
}
