package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls the backoff schedule for a retried operation.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// DefaultConfig is the policy used for feed fetches and store writes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.5,
	}
}

// Unrecoverable marks err as permanent: Do returns it immediately
// instead of burning the remaining attempts on an outcome that cannot
// change.
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

type unrecoverableError struct{ error }

func (u unrecoverableError) Unwrap() error { return u.error }

// Do runs op until it succeeds, attempts are exhausted, or ctx is
// cancelled. Waits between attempts grow exponentially with jitter and
// are cancellable; a running attempt is never interrupted mid-flight.
func Do(ctx context.Context, cfg Config, name string, op func() error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}

		var permanent unrecoverableError
		if errors.As(lastErr, &permanent) {
			return permanent.error
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delay(attempt)
		logrus.Warnf("%s failed (attempt %d/%d), retrying in %v: %v",
			name, attempt, cfg.MaxAttempts, delay, lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxAttempts, lastErr)
}

func (c Config) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}

	// Jitter avoids synchronized retries across sources.
	d *= 1 + (rand.Float64()-0.5)*c.JitterFactor

	return time.Duration(d)
}
