// Command worker drains the job dispatch queue and runs the ingestion
// pipeline for each job.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("worker", cfg.Logging)
	tracing.SetEnabled(cfg.Tracing.Enabled)
	slog.Info("starting worker",
		"dispatch", cfg.Dispatch.Backend,
		"concurrency", cfg.Worker.Concurrency,
		"store", cfg.Store.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)

	store, err := bootstrap.OpenStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// The lease needs Redis regardless of the dispatch backend; without it
	// redelivered jobs are only guarded by the done-status check.
	var locker dispatch.Locker
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	switch {
	case err == nil:
		defer redisClient.Close()
		locker = redisClient
	case bootstrap.NeedsRedis(cfg):
		slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	default:
		slog.Warn("redis unavailable, job leases disabled", "error", err)
	}

	pipe, err := bootstrap.Pipeline(cfg, store, m)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	source, err := bootstrap.Source(cfg, redisClient, m)
	if err != nil {
		slog.Error("failed to build dispatch source", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	bootstrap.RegisterChecks(checker, cfg, store, redisClient)

	shutdownProbes := metrics.StartServer(cfg.Metrics.Port, nil,
		metrics.Route{Pattern: "GET /health/live", Handler: checker.LiveHandler()},
		metrics.Route{Pattern: "GET /health/ready", Handler: checker.ReadyHandler()},
	)

	worker := dispatch.NewWorker(source, pipe, locker, cfg.Worker)
	if err := worker.Run(ctx); err != nil {
		slog.Error("worker stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := shutdownProbes(shutdownCtx); err != nil {
		slog.Error("probe shutdown error", "error", err)
	}
	slog.Info("worker stopped")
}
