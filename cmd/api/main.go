// Command api serves the transcript ingestion and search HTTP API.
//
// Jobs created through POST /api/v1/user-jobs are handed to the configured
// dispatcher: a Redis list or Kafka topic drained by cmd/worker, or inline
// goroutines in this process. Search runs in-process against the store.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml] [-migrate]
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
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/bootstrap"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/submitter"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher"
	searchhandler "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	migrate := flag.Bool("migrate", false, "apply the store schema before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("api", cfg.Logging)
	tracing.SetEnabled(cfg.Tracing.Enabled)
	slog.Info("starting api service",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"dispatch", cfg.Dispatch.Backend,
		"embedding", cfg.Embedding.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	store, err := bootstrap.OpenStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if *migrate {
		if err := bootstrap.Migrate(ctx, store); err != nil {
			slog.Error("failed to migrate store", "error", err)
			os.Exit(1)
		}
		slog.Info("store schema applied", "backend", cfg.Store.Backend)
	}

	var redisClient *pkgredis.Client
	if bootstrap.NeedsRedis(cfg) {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	pipe, err := bootstrap.Pipeline(cfg, store, m)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	dispatcher, err := bootstrap.Dispatcher(cfg, redisClient, pipe, m)
	if err != nil {
		slog.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}
	defer dispatcher.Close()

	embedder, err := bootstrap.Embedder(cfg.Embedding, m)
	if err != nil {
		slog.Error("failed to build embedder", "error", err)
		os.Exit(1)
	}

	var (
		events  submitter.EventSink
		tracker searchhandler.SearchTracker

		analyticsProbe health.Check
	)
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, cfg.Analytics)
		collector.Start(ctx)
		defer collector.Close()
		events, tracker = collector, collector
		analyticsProbe = health.PingCheck(producer.Ping)
		slog.Info("analytics events enabled", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	}

	checker := health.NewChecker()
	bootstrap.RegisterChecks(checker, cfg, store, redisClient)
	if analyticsProbe != nil {
		checker.RegisterOptional("analytics-kafka", analyticsProbe)
	}

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = ratelimit.New(cfg.Server.RateLimit, time.Minute)
		defer limiter.Close()
	}

	sub := submitter.New(store.Jobs(), dispatcher, cfg.Dispatch, m, events)
	handler := api.New(api.Deps{
		Ingestion:      ingesthandler.New(sub, pipe, store.Jobs(), store.Segments()),
		Search:         searchhandler.New(searcher.NewEngine(store.Segments(), embedder, m), tracker, cfg.Search),
		Checker:        checker,
		Metrics:        m,
		Limiter:        limiter,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
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

	slog.Info("api service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("api service stopped")
}
