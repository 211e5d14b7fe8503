// Package middleware holds the HTTP middleware of the api and analytics
// services: request ids, CORS, Prometheus instrumentation, per-client rate
// limiting and request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
)

// Metrics counts requests by route and status and observes their latency.
// Job and transcript ids in the path are folded into {id}.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := normalizePath(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
		return promhttp.InstrumentHandlerInFlight(m.HTTPRequestsInFlight, counted)
	}
}

// statusRecorder remembers the first status written. A handler that only
// calls Write has implicitly answered 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// normalizePath folds the id that follows user-jobs or transcripts:
//
//	/api/v1/user-jobs/8f1c              -> /api/v1/user-jobs/{id}
//	/api/v1/transcripts/8f1c/segments   -> /api/v1/transcripts/{id}/segments
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		if prev := parts[i-1]; prev == "user-jobs" || prev == "transcripts" {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
