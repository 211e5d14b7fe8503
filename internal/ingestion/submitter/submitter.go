// Package submitter creates ingestion jobs and hands them to the dispatcher.
// All jobs of one request are created concurrently and all-or-nothing;
// dispatch starts only once every create has succeeded.
package submitter

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/resilience"
)

const maxConcurrentCreates = 16

// EventSink receives a notification per created job. The analytics
// collector satisfies it.
type EventSink interface {
	JobCreated(job transcript.Job)
}

type Submitter struct {
	jobs       repo.JobStore
	dispatcher dispatch.Dispatcher
	retry      resilience.RetryConfig
	metrics    *metrics.Metrics
	events     EventSink
	logger     *slog.Logger
}

// New creates a Submitter. m and events may be nil.
func New(jobs repo.JobStore, dispatcher dispatch.Dispatcher, cfg config.DispatchConfig, m *metrics.Metrics, events EventSink) *Submitter {
	return &Submitter{
		jobs:       jobs,
		dispatcher: dispatcher,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryDelay,
		},
		metrics: m,
		events:  events,
		logger:  slog.Default().With("component", "submitter"),
	}
}

// Submit creates one processing job per request entry, sharing one
// created_at, and dispatches each. A create failure aborts the whole batch
// before anything is dispatched. A dispatch failure is logged and the job is
// still returned: it stays processing until resubmitted.
func (s *Submitter) Submit(ctx context.Context, reqs []ingestion.JobCreate) ([]transcript.Job, error) {
	now := transcript.Now()
	created := make([]transcript.Job, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCreates)
	for i, r := range reqs {
		g.Go(func() error {
			job, err := s.jobs.Upsert(gctx, &transcript.Job{
				User:      r.User,
				CreatedAt: now,
				Status:    transcript.StatusProcessing,
				StreamURL: r.StreamURL,
			}, true)
			if err != nil {
				return fmt.Errorf("creating job for %s: %w", r.StreamURL, err)
			}
			created[i] = *job
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, job := range created {
		if s.metrics != nil {
			s.metrics.JobsCreatedTotal.Inc()
		}
		if s.events != nil {
			s.events.JobCreated(job)
		}
		err := resilience.Retry(ctx, "dispatch-job", s.retry, func() error {
			return s.dispatcher.Enqueue(ctx, job.JobID)
		})
		if err != nil {
			s.logger.Error("failed to dispatch job, job stuck in processing",
				"job_id", job.JobID,
				"user", job.User,
				"error", err,
			)
			continue
		}
		s.logger.Info("job dispatched", "job_id", job.JobID, "user", job.User, "stream_url", job.StreamURL)
	}
	return created, nil
}
