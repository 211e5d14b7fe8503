// Package tracing times a pipeline run or a search and its stages through
// the context. A finished trace is written as one log record listing each
// stage's duration, so a slow job shows where its time went.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type ctxKey struct{}

var enabled atomic.Bool

func SetEnabled(on bool) {
	enabled.Store(on)
}

// Span is one timed operation. TraceID is shared by a root and everything
// started under it.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration

	mu       sync.Mutex
	ended    bool
	err      error
	attrs    []any
	children []*Span
}

func newSpan(name, traceID string) *Span {
	return &Span{Name: name, TraceID: traceID, StartTime: time.Now()}
}

// StartSpan begins a trace. An empty traceID is replaced by a fresh UUID;
// callers pass the request id so the trace joins up with access logs.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := newSpan(name, traceID)
	return context.WithValue(ctx, ctxKey{}, s), s
}

// StartChildSpan begins a stage under the span in ctx. Without one it
// returns a detached span with no trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		s := newSpan(name, "")
		return context.WithValue(ctx, ctxKey{}, s), s
	}
	s := newSpan(name, parent.TraceID)
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, ctxKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(ctxKey{}).(*Span)
	return s
}

// End fixes the duration on its first call and returns it.
func (s *Span) End() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		s.Duration = time.Since(s.StartTime)
	}
	return s.Duration
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// RecordError marks the span failed. nil is ignored.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Span) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes the trace as one record when tracing is enabled: at warn level
// if any span failed, info otherwise.
func (s *Span) Log() {
	if !enabled.Load() {
		return
	}
	s.LogTo(slog.Default())
}

func (s *Span) LogTo(logger *slog.Logger) {
	s.mu.Lock()
	args := []any{"trace_id", s.TraceID, "span", s.Name, "duration_ms", s.Duration.Milliseconds()}
	args = append(args, s.attrs...)
	failed := s.err
	s.mu.Unlock()

	var stages []any
	for _, c := range s.Children() {
		c.mu.Lock()
		stages = append(stages, slog.Int64(c.Name+"_ms", c.Duration.Milliseconds()))
		if c.err != nil && failed == nil {
			failed = c.err
		}
		c.mu.Unlock()
	}
	if len(stages) > 0 {
		args = append(args, slog.Group("stages", stages...))
	}
	if failed != nil {
		logger.Warn("trace", append(args, "error", failed)...)
		return
	}
	logger.Info("trace", args...)
}
