package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route is an extra handler mounted next to /metrics, such as the worker's
// health probes.
type Route struct {
	Pattern string
	Handler http.Handler
}

// StartServer serves GET /metrics and routes on port in the background and
// returns the server's Shutdown. A nil gatherer serves the default registry.
func StartServer(port int, gatherer prometheus.Gatherer, routes ...Route) (shutdown func(context.Context) error) {
	scrape := Handler()
	if gatherer != nil {
		scrape = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)})
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", scrape)
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", srv.Addr, "extra_routes", len(routes))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv.Shutdown
}
