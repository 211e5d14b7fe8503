package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
)

// Timeout gives each request timeout to finish. When it runs out the handler's
// context is cancelled and, unless the handler already started its response,
// the client gets a JSON 504. Later writes from the handler are dropped.
// A non-positive timeout returns next unchanged.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return &timeoutHandler{next: next, timeout: timeout}
	}
}

type timeoutHandler struct {
	next    http.Handler
	timeout time.Duration
}

func (h *timeoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	gw := &guardedWriter{w: w, h: w.Header().Clone()}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		h.next.ServeHTTP(gw, r.WithContext(ctx))
	}()

	select {
	case <-finished:
		gw.finish()
		return
	case <-ctx.Done():
	}
	if !gw.expire() {
		return
	}
	logger.FromContext(r.Context()).Warn("request timed out", "method", r.Method, "path", r.URL.Path, "timeout", h.timeout)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusGatewayTimeout)
	_, _ = w.Write([]byte(`{"error":"request timeout"}` + "\n"))
}

// guardedWriter passes writes through until expire is called. The handler
// sets headers on its own map h, which is copied to w under mu right before
// the response starts; w.Header() is only touched while holding mu.
type guardedWriter struct {
	w       http.ResponseWriter
	h       http.Header
	mu      sync.Mutex
	started bool
	expired bool
}

func (g *guardedWriter) Header() http.Header {
	return g.h
}

// start copies the handler's headers to w. Callers hold mu.
func (g *guardedWriter) start() {
	if g.started {
		return
	}
	g.started = true
	dst := g.w.Header()
	for k, vv := range g.h {
		dst[k] = vv
	}
}

func (g *guardedWriter) WriteHeader(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expired || g.started {
		return
	}
	g.start()
	g.w.WriteHeader(code)
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expired {
		return 0, http.ErrHandlerTimeout
	}
	g.start()
	return g.w.Write(b)
}

// finish publishes the headers of a handler that returned without writing.
func (g *guardedWriter) finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.expired {
		g.start()
	}
}

// expire stops further writes and reports whether the response is still
// untouched, so the caller may write the timeout answer.
func (g *guardedWriter) expire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = true
	return !g.started
}
