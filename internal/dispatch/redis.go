package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
)

// listClient is the subset of the Redis client the queue needs.
type listClient interface {
	Push(ctx context.Context, key string, values ...any) error
	Pop(ctx context.Context, key string, timeout time.Duration) (string, bool, error)
}

// RedisQueue is a FIFO of tasks on a Redis list: LPUSH to enqueue, BRPOP
// to dequeue. A task popped by a worker that then dies is lost; the job
// stays processing and can be resubmitted.
type RedisQueue struct {
	client      listClient
	key         string
	pollTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewRedisQueue(client listClient, key string, pollTimeout time.Duration, m *metrics.Metrics) *RedisQueue {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client:      client,
		key:         key,
		pollTimeout: pollTimeout,
		metrics:     m,
		logger:      slog.Default().With("component", "redis-queue", "key", key),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	raw, err := json.Marshal(newTask(jobID))
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	err = q.client.Push(ctx, q.key, raw)
	observe(q.metrics, "enqueue", err)
	if err != nil {
		return fmt.Errorf("enqueueing job %s: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Run(ctx context.Context, handle TaskHandler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, ok, err := q.client.Pop(ctx, q.key, q.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			observe(q.metrics, "dequeue", err)
			q.logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}
		task, err := decodeTask([]byte(raw))
		observe(q.metrics, "dequeue", err)
		if err != nil {
			q.logger.Error("dropping malformed task", "raw", raw, "error", err)
			continue
		}
		if err := handle(ctx, task); err != nil {
			q.logger.Error("task failed", "job_id", task.JobID, "error", err)
		}
	}
}

func (q *RedisQueue) Close() error { return nil }
