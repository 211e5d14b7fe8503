package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/resilience"
)

// Inline runs each job in a goroutine of the calling process. It is meant
// for single-binary development setups.
type Inline struct {
	processor Processor
	timeout   time.Duration
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewInline(processor Processor, jobTimeout time.Duration) *Inline {
	return &Inline{
		processor: processor,
		timeout:   jobTimeout,
		logger:    slog.Default().With("component", "inline-dispatch"),
	}
}

// Enqueue starts the job and returns immediately. The job does not inherit
// ctx's cancellation, since ctx usually belongs to the HTTP request.
func (d *Inline) Enqueue(ctx context.Context, jobID string) error {
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := resilience.WithTimeout(runCtx, d.timeout, "process-job", func(ctx context.Context) error {
			_, err := d.processor.ProcessJob(ctx, jobID)
			return err
		})
		if err != nil {
			d.logger.Error("inline job failed", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

// Close waits for running jobs.
func (d *Inline) Close() error {
	d.wg.Wait()
	return nil
}
