package notifications

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// EmailReporter sends the daily calendar report over SMTP. It is an
// optional secondary channel next to Telegram.
type EmailReporter struct {
	host     string
	port     int
	username string
	password string
	to       string
}

// NewEmailReporter creates a new SMTP reporter
func NewEmailReporter(host string, port int, username, password, to string) *EmailReporter {
	return &EmailReporter{
		host:     host,
		port:     port,
		username: username,
		password: password,
		to:       to,
	}
}

// IsEnabled reports whether a recipient and server are configured.
func (e *EmailReporter) IsEnabled() bool {
	return e.to != "" && e.host != ""
}

// Send delivers one plain-text report.
func (e *EmailReporter) Send(subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.username)
	m.SetHeader("To", e.to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	dialer := gomail.NewDialer(e.host, e.port, e.username, e.password)
	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send report email: %w", err)
	}
	return nil
}
