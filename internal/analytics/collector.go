package analytics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/resilience"
)

// BatchPublisher is satisfied by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// publishRetry gives a failed batch one more try before it is dropped.
var publishRetry = resilience.RetryConfig{MaxAttempts: 2, InitialDelay: 50 * time.Millisecond}

// Collector sits on the request path of the api: Track never blocks, and a
// background loop publishes buffered events when a batch fills or the flush
// interval passes. Events that do not fit in the buffer, or whose batch still
// fails after a retry, are counted and dropped.
type Collector struct {
	producer      BatchPublisher
	eventCh       chan kafka.Event
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	dropped       atomic.Int64
	logger        *slog.Logger
}

func NewCollector(producer BatchPublisher, cfg config.AnalyticsConfig) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Collector{
		producer:      producer,
		eventCh:       make(chan kafka.Event, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "analytics-collector"),
	}
}

// Start runs the publish loop until Close is called or ctx ends; either way
// whatever is buffered is published first.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh), "batch_size", c.batchSize, "flush_interval", c.flushInterval)
	go c.loop(ctx)
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Event, 0, c.batchSize)
	publish := func(ctx context.Context) {
		c.publish(ctx, batch)
		batch = batch[:0]
	}
	for {
		select {
		case ev, open := <-c.eventCh:
			if !open {
				publish(context.Background())
				return
			}
			if batch = append(batch, ev); len(batch) >= c.batchSize {
				publish(ctx)
			}
		case <-ticker.C:
			publish(ctx)
		case <-ctx.Done():
			batch = c.drain(batch)
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			publish(final)
			cancel()
			return
		}
	}
}

// Track buffers one event for publishing.
func (c *Collector) Track(key string, value any) {
	select {
	case c.eventCh <- kafka.Event{Key: key, Value: value}:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			c.logger.Warn("analytics buffer full, dropping events", "dropped_total", n)
		}
	}
}

// JobCreated reports a new ingestion job, keyed by job id.
func (c *Collector) JobCreated(job transcript.Job) {
	c.Track(job.JobID, JobEvent{
		Type:      EventJobCreated,
		JobID:     job.JobID,
		User:      job.User,
		StreamURL: job.StreamURL,
		Timestamp: time.Now().UTC(),
	})
}

// TrackSearch reports a finished search, keyed by user.
func (c *Collector) TrackSearch(event SearchEvent) {
	event.Type = EventSearch
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c.Track(event.User, event)
}

// Dropped is the number of events lost to a full buffer or a failed publish.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops accepting events and waits for the last batch to go out. Track
// must not be called afterwards.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) drain(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case ev, open := <-c.eventCh:
			if !open {
				return batch
			}
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func (c *Collector) publish(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	err := resilience.Retry(ctx, "publish-analytics", publishRetry, func() error {
		return c.producer.PublishBatch(ctx, batch)
	})
	if err != nil {
		c.dropped.Add(int64(len(batch)))
		c.logger.Error("analytics batch lost", "events", len(batch), "error", err)
		return
	}
	c.logger.Debug("analytics batch published", "events", len(batch))
}
