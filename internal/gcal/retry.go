package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultDeleteAttempts is the total number of delete attempts, including
	// the first one.
	DefaultDeleteAttempts = 5

	// DefaultBaseDelay is the wait before the second attempt. Each further
	// attempt doubles it: 1s, 2s, 4s, 8s.
	DefaultBaseDelay = time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Backoff retries an operation only while it fails with [ErrRateLimited].
// Any other failure is returned immediately.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep defaults to a context-aware timer. Tests replace it to record
	// delays without waiting.
	Sleep SleepFunc

	// Logger, if set, receives one warning per retry.
	Logger *slog.Logger
}

// NewDeleteBackoff returns the backoff policy used for event deletion.
func NewDeleteBackoff(logger *slog.Logger) Backoff {
	return Backoff{
		MaxAttempts: DefaultDeleteAttempts,
		BaseDelay:   DefaultBaseDelay,
		Logger:      logger,
	}
}

// Do calls fn until it succeeds, fails with a non-rate-limit error, or the
// attempt budget is spent. In the last case the final rate-limit error is
// returned.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	attempts := max(b.MaxAttempts, 1)
	sleep := b.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := b.Delay(attempt)
			if b.Logger != nil {
				b.Logger.Warn("rate limited, backing off",
					"attempt", attempt,
					"max_attempts", attempts,
					"delay", delay,
				)
			}
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("backoff cancelled: %w", errors.Join(err, lastErr))
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrRateLimited) {
			return lastErr
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// Delay returns the wait before the given attempt (1-based). The first
// attempt is never delayed.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	return b.BaseDelay << (attempt - 2)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
