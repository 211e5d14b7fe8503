package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/resilience"
)

const leaseKeyPrefix = "transcripts:lease:"

// Locker grants short-lived exclusive leases. The Redis client satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) (bool, error)
}

// Worker pulls tasks from a Source with a fixed number of goroutines and
// processes each under a per-job lease and timeout.
type Worker struct {
	source    Source
	processor Processor
	locker    Locker
	cfg       config.WorkerConfig
	host      string
	logger    *slog.Logger
}

// NewWorker creates a Worker. locker may be nil, in which case jobs are not
// leased.
func NewWorker(source Source, processor Processor, locker Locker, cfg config.WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	host, _ := os.Hostname()
	return &Worker{
		source:    source,
		processor: processor,
		locker:    locker,
		cfg:       cfg,
		host:      fmt.Sprintf("%s:%d", host, os.Getpid()),
		logger:    slog.Default().With("component", "worker"),
	}
}

// Run blocks until ctx is cancelled and every goroutine has returned.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.cfg.Concurrency)
	var wg sync.WaitGroup
	errs := make(chan error, w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.source.Run(ctx, w.Handle); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	w.logger.Info("worker stopped")
	return <-errs
}

// Handle processes one task. A task whose job is leased by another worker
// is skipped.
func (w *Worker) Handle(ctx context.Context, task Task) error {
	ctx = logger.WithRequestID(ctx, task.JobID)
	log := logger.FromContext(ctx).With("job_id", task.JobID)

	if w.locker != nil {
		key := leaseKeyPrefix + task.JobID
		// Each call holds its own token so that a sibling goroutine that took
		// the job over after the lease lapsed keeps its lease.
		owner := w.host + "/" + uuid.NewString()
		ok, err := w.locker.Acquire(ctx, key, owner, w.cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("acquiring lease for %s: %w", task.JobID, err)
		}
		if !ok {
			log.Warn("job leased by another worker, skipping")
			return nil
		}
		defer func() {
			released, err := w.locker.Release(context.WithoutCancel(ctx), key, owner)
			switch {
			case err != nil:
				log.Warn("releasing lease", "error", err)
			case !released:
				log.Warn("lease expired before the job finished", "lease_ttl", w.cfg.LeaseTTL)
			}
		}()
	}

	start := time.Now()
	err := resilience.WithTimeout(ctx, w.cfg.JobTimeout, "process-job", func(ctx context.Context) error {
		_, err := w.processor.ProcessJob(ctx, task.JobID)
		return err
	})
	if err != nil {
		return err
	}
	log.Info("task completed", "queued_for", start.Sub(task.EnqueuedAt), "took", time.Since(start))
	return nil
}
