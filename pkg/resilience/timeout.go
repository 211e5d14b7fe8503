package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

// WithTimeout bounds fn to timeout. It returns as soon as the limit passes
// even if fn ignores its context; fn keeps running in the background until
// it notices. An expired limit matches both apperrors.ErrTimeout and
// context.DeadlineExceeded. A non-positive timeout calls fn directly.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, apperrors.ErrTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), apperrors.ErrTimeout) {
			return fmt.Errorf("%s exceeded %v: %w: %w", name, timeout, apperrors.ErrTimeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("%s: parent context done: %w", name, ctx.Err())
	}
}
