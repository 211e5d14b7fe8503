// Command analytics aggregates job and search events.
//
// It consumes the analytics topic from Kafka, folds events into in-memory
// counters (searches by outcome, latency percentiles, top queries, top users)
// and serves them at GET /api/v1/analytics. With the postgres store backend
// the counters are snapshotted periodically and restored on start.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("analytics", cfg.Logging)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator()
	checker := health.NewChecker()

	if cfg.Store.Backend == config.StorePostgres {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checker.Register("postgres", health.PingCheck(db.Ping))

		snapshots := snapshot.NewStore(db)
		if err := snapshots.Migrate(ctx); err != nil {
			slog.Error("failed to migrate snapshot table", "error", err)
			os.Exit(1)
		}
		latest, err := snapshots.Latest(ctx)
		if err != nil {
			slog.Warn("could not load analytics snapshot", "error", err)
		} else if latest != nil {
			aggregator.Restore(*latest)
			slog.Info("analytics restored from snapshot", "total_searches", latest.TotalSearches)
		}
		go snapshots.Run(ctx, aggregator, cfg.Analytics.SnapshotInterval)
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator),
		kafka.WithGroup(cfg.Kafka.ConsumerGroup+"-analytics"))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		if err := kafka.Ping(ctx, cfg.Kafka.Brokers); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		s := consumer.Stats()
		msg := fmt.Sprintf("handled %d, skipped %d, failed %d", s.Handled, s.Skipped, s.Failed)
		if s.Failed > 0 && s.Handled == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: msg}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: msg}
	})

	mux := http.NewServeMux()
	analytics.NewHandler(aggregator).Register(mux, "/api/v1")
	mux.HandleFunc("GET /health", checker.StatusHandler())
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.CORS(middleware.DefaultCORSConfig())),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
