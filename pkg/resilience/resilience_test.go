package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("embedding", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(name string, to State) { transitions = append(transitions, to) },
	})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("transcription", CircuitBreakerConfig{FailureThreshold: 1})
	cb.Execute(func() error { return context.Canceled })
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "enqueue", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), "enqueue", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "job", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if err := WithTimeout(context.Background(), 0, "job", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("zero timeout: %v", err)
	}
}

func TestCircuitBreakerIsFailure(t *testing.T) {
	rejected := errors.New("bad upload")
	cb := NewCircuitBreaker("transcription", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, rejected) },
	})

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return rejected })
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("rejected requests opened the circuit")
	}
	cb.Execute(func() error { return errors.New("502") })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
}

func TestCall(t *testing.T) {
	cb := NewCircuitBreaker("embedding", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	got, err := Call(cb, func() ([]float32, error) { return []float32{1, 2}, nil })
	if err != nil || len(got) != 2 {
		t.Fatalf("Call = %v, %v", got, err)
	}

	Call(cb, func() (int, error) { return 0, errors.New("down") })
	if _, err := Call(cb, func() (int, error) { return 1, nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	cb.Reset()
	if n, err := Call(cb, func() (int, error) { return 7, nil }); err != nil || n != 7 {
		t.Fatalf("after reset: %d, %v", n, err)
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2, JitterFraction: 0.1}
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 10 * time.Millisecond, 11 * time.Millisecond},
		{2, 18 * time.Millisecond, 22 * time.Millisecond},
		{3, 36 * time.Millisecond, 44 * time.Millisecond},
		{6, 50 * time.Millisecond, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			if d := cfg.Delay(tt.attempt); d < tt.min || d > tt.max {
				t.Fatalf("Delay(%d) = %s, want within [%s, %s]", tt.attempt, d, tt.min, tt.max)
			}
		}
	}
}

func TestWithTimeoutMatchesErrTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "job", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithTimeout(parent, time.Second, "job", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("parent cancellation reported as timeout: %v", err)
	}
}
