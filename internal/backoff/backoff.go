// Package backoff implements the generic exponential-backoff retrier
// described in spec.md §4.8: a function parameterized by any fallible
// operation, doubling the wait on each failure and surfacing the last
// error once attempts are exhausted.
package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Config carries the retrier's tunables. The zero value is not usable;
// call DefaultConfig to get spec.md's defaults.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	sleep          func(context.Context, time.Duration) // overridable by tests
}

// DefaultConfig returns the spec's defaults: 5 attempts, doubling from a
// 3-second initial backoff (3, 6, 12, 24s between the five attempts).
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 3 * time.Second,
	}
}

// Retry calls op until it succeeds or cfg.MaxAttempts is exhausted,
// doubling the sleep between attempts. On success after at least one
// retry it logs the recovery attempt count; on exhaustion it returns the
// last error op produced.
func Retry(ctx context.Context, cfg Config, logger hclog.Logger, what string, op func(ctx context.Context) error) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}

	sleep := cfg.sleep
	if sleep == nil {
		sleep = contextSleep
	}

	backoffDuration := cfg.InitialBackoff
	if backoffDuration <= 0 {
		backoffDuration = DefaultConfig().InitialBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("operation recovered after retrying", "what", what, "attempt", attempt)
			}
			return nil
		}

		logger.Warn("operation failed, will retry", "what", what, "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", lastErr)
		if attempt == cfg.MaxAttempts {
			break
		}
		sleep(ctx, backoffDuration)
		backoffDuration *= 2
	}

	return fmt.Errorf("backoff: %s failed after %d attempts: %w", what, cfg.MaxAttempts, lastErr)
}

func contextSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
