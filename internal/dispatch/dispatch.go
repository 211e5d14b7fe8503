// Package dispatch hands created jobs to the processes that run them. A
// Dispatcher enqueues job ids; a Source feeds them to a Worker, which calls
// the pipeline for each.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
)

// Task is the queued unit of work.
type Task struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func newTask(jobID string) Task {
	return Task{JobID: jobID, EnqueuedAt: time.Now().UTC()}
}

func decodeTask(raw []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("decoding task: %w", err)
	}
	if t.JobID == "" {
		return t, fmt.Errorf("decoding task: missing job_id")
	}
	return t, nil
}

// Dispatcher schedules a job for asynchronous processing.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string) error
	Close() error
}

// TaskHandler processes one dequeued task.
type TaskHandler func(ctx context.Context, task Task) error

// Source delivers tasks to handle until ctx is done. Run may be called from
// several goroutines at once.
type Source interface {
	Run(ctx context.Context, handle TaskHandler) error
}

// Processor runs one job to completion.
type Processor interface {
	ProcessJob(ctx context.Context, jobID string) (*transcript.Job, error)
}

func observe(m *metrics.Metrics, direction string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DispatchTotal.WithLabelValues(direction, status).Inc()
}
