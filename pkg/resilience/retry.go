package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff. Zero fields take defaults: 3
// attempts starting at 100ms, doubling up to 10s with 10% jitter.
// Retryable, when set, ends the loop on the first error it reports false for.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	Retryable      func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

// Delay returns the pause after the given failed attempt (1-based), jitter
// included and capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	base := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	d := base + base*c.JitterFraction*(2*rand.Float64()-1)
	return time.Duration(min(max(d, float64(c.InitialDelay)), float64(c.MaxDelay)))
}

// Retry calls fn until it succeeds, the attempts run out, ctx is done or the
// error is not retryable. name labels the log lines.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, err)
		}

		delay := cfg.Delay(attempt)
		logger.Warn("operation failed, retrying", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err, "next_delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry of %s aborted after %d attempts: %w", name, attempt, ctx.Err())
		}
	}
}
