// Package health runs dependency probes for the api, worker and analytics
// services and serves them as /health, /health/live and /health/ready.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

// PingCheck turns a store or client Ping into a Check.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker holds the probes of one service. A failing optional probe only
// degrades the report; a failing required one takes it down.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]Check
	optional map[string]bool
	logger   *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks:   make(map[string]Check),
		optional: make(map[string]bool),
		logger:   slog.Default().With("component", "health"),
	}
}

// Register adds a required probe, replacing any probe with the same name.
func (c *Checker) Register(name string, check Check) {
	c.register(name, check, false)
}

// RegisterOptional adds a probe whose failure reports degraded, not down.
func (c *Checker) RegisterOptional(name string, check Check) {
	c.register(name, check, true)
}

func (c *Checker) register(name string, check Check, optional bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
	c.optional[name] = optional
}

// Names lists the registered probes in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run calls every probe in parallel. The report takes the worst component
// status, with optional components capped at degraded.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	optional := make(map[string]bool, len(c.optional))
	for name, check := range c.checks {
		checks[name] = check
		optional[name] = c.optional[name]
	}
	c.mu.RUnlock()

	var (
		mu         sync.Mutex
		components = make(map[string]ComponentHealth, len(checks))
		g          errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			start := time.Now()
			res := check(ctx)
			res.Latency = time.Since(start).Round(time.Millisecond).String()
			if res.Status != StatusUp {
				c.logger.Warn("health check failing", "check", name, "status", res.Status, "message", res.Message)
			}
			mu.Lock()
			components[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusUp
	for name, comp := range components {
		st := comp.Status
		if optional[name] && st == StatusDown {
			st = StatusDegraded
		}
		if st.rank() > overall.rank() {
			overall = st
		}
	}
	return Report{
		Status:     overall,
		Components: components,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusHandler answers {"status":"OK"} without probing anything.
func (c *Checker) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	}
}

func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler runs the probes with a 5s limit. Degraded still counts as
// ready so that a lost analytics broker does not pull the api out of rotation.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}
