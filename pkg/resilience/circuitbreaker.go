// Package resilience wraps calls to the transcription and embedding services
// and to the dispatch backends: a circuit breaker, exponential-backoff retry
// and a context-based timeout.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the service while the breaker
// is open or its half-open probes are all in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls when the breaker trips and how it recovers.
//
// IsFailure decides which errors count against the service. The default
// counts every error except context.Canceled; callers pass a narrower one so
// that requests the service rejected (a corrupt upload, say) do not open the
// circuit for everybody else.
//
// OnStateChange, when set, is called with the lock held on every transition
// and must not call back into the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	IsFailure           func(error) bool
	OnStateChange       func(name string, to State)
}

func (c *CircuitBreakerConfig) fillDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
}

// CircuitBreaker counts consecutive failures of one upstream service. At the
// threshold it opens and fails fast; after ResetTimeout it lets
// HalfOpenMaxRequests probes through and closes again on the first success.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.fillDefaults()
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn when the circuit admits it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// Call is Execute for functions that return a value.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	err := cb.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.logger.Info("circuit manually reset")
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		wait := cb.cfg.ResetTimeout - time.Since(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
		cb.logger.Info("circuit half-open, probing", "after", cb.cfg.ResetTimeout)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (half-open probe limit reached)", ErrCircuitOpen, cb.name)
		}
		cb.probes++
	}
	return nil
}

// record judges one admitted call. Errors IsFailure rejects count as
// neither success nor failure; they only give back a probe slot.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		if cb.state == StateHalfOpen {
			cb.logger.Info("circuit closed, service recovered")
		}
		cb.transition(StateClosed)
	case !cb.cfg.IsFailure(err):
		if cb.state == StateHalfOpen && cb.probes > 0 {
			cb.probes--
		}
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen)
		cb.logger.Warn("circuit re-opened, probe failed", "error", err)
	default:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
			cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures, "error", err)
		}
	}
}

// transition moves to state and resets the counters that belong to it.
func (cb *CircuitBreaker) transition(to State) {
	switch to {
	case StateClosed:
		cb.failures = 0
		cb.probes = 0
	case StateOpen:
		cb.openedAt = time.Now()
		cb.probes = 0
	case StateHalfOpen:
		cb.probes = 0
	}
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
