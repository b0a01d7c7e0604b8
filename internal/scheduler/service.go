package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/config"
)

// ReportFunc produces and delivers one calendar report.
type ReportFunc func() error

// Service handles scheduling of the economic calendar report. The
// polling pipeline runs its own loop; this only covers the cron-style
// report delivery.
type Service struct {
	config *config.Config
	report ReportFunc
	cron   *cron.Cron
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, report ReportFunc) *Service {
	return &Service{
		config: cfg,
		report: report,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start begins the scheduled report delivery
func (s *Service) Start() error {
	var cronExpression string

	switch s.config.ReportSchedule {
	case "daily":
		// Run daily at 7 AM UTC, before the European session opens
		cronExpression = "0 0 7 * * *"
	case "weekly":
		// Run weekly on Monday at 7 AM UTC
		cronExpression = "0 0 7 * * MON"
	default:
		cronExpression = "0 0 7 * * *"
	}

	_, err := s.cron.AddFunc(cronExpression, func() {
		logrus.Info("Starting scheduled calendar report")
		if err := s.report(); err != nil {
			logrus.Errorf("Scheduled calendar report failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %s report schedule", s.config.ReportSchedule)
	return nil
}

// Stop stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		logrus.Info("Scheduler stopped")
	}
}
