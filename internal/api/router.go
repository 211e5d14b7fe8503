// Package api assembles the public HTTP surface served by cmd/api and
// applies the middleware chain.
package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/handler"
	searchhandler "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/ratelimit"
)

// Prefix is the mount point of every versioned route.
const Prefix = "/api/v1"

// Deps are the handlers and cross-cutting pieces behind the router.
// Analytics, Metrics and Limiter may be nil; RequestTimeout 0 disables the
// per-request deadline.
type Deps struct {
	Ingestion      *ingesthandler.Handler
	Search         *searchhandler.Handler
	Analytics      *analytics.Handler
	Checker        *health.Checker
	Metrics        *metrics.Metrics
	Limiter        *ratelimit.Limiter
	RequestTimeout time.Duration
}

// New builds the API handler.
//
// Route table:
//
//	POST   /api/v1/user-jobs
//	GET    /api/v1/user-jobs
//	GET    /api/v1/user-jobs/{job_id}
//	GET    /api/v1/user-segments
//	GET    /api/v1/transcripts/{transcript_id}/segments
//	POST   /api/v1/dev-process-streams
//	POST   /api/v1/search
//	GET    /api/v1/analytics            (when analytics is served in-process)
//	GET    /health, /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimit → Timeout → mux
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", d.Checker.StatusHandler())
	mux.HandleFunc("GET /health/live", d.Checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Checker.ReadyHandler())

	d.Ingestion.Register(mux, Prefix)
	d.Search.Register(mux, Prefix)
	if d.Analytics != nil {
		d.Analytics.Register(mux, Prefix)
	}

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig()),
	}
	if d.Metrics != nil {
		chain = append(chain, middleware.Metrics(d.Metrics))
	}
	if d.Limiter != nil {
		chain = append(chain, middleware.RateLimit(d.Limiter))
	}
	if d.RequestTimeout > 0 {
		chain = append(chain, middleware.Timeout(d.RequestTimeout))
	}
	return middleware.Chain(mux, chain...)
}
