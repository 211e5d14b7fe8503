package dispatch

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
)

type eventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
	Close() error
}

// KafkaDispatcher publishes tasks to a topic keyed by job id.
type KafkaDispatcher struct {
	producer eventPublisher
	metrics  *metrics.Metrics
}

func NewKafkaDispatcher(producer eventPublisher, m *metrics.Metrics) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, metrics: m}
}

func (d *KafkaDispatcher) Enqueue(ctx context.Context, jobID string) error {
	err := d.producer.Publish(ctx, kafka.Event{Key: jobID, Value: newTask(jobID)})
	observe(d.metrics, "enqueue", err)
	if err != nil {
		return fmt.Errorf("enqueueing job %s: %w", jobID, err)
	}
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.producer.Close()
}

// KafkaSource consumes the dispatch topic in the worker consumer group.
// A task that fails is logged and not redelivered: the next commit on its
// partition moves past it, and the job stays processing until resubmitted.
type KafkaSource struct {
	cfg     config.KafkaConfig
	metrics *metrics.Metrics
}

func NewKafkaSource(cfg config.KafkaConfig, m *metrics.Metrics) *KafkaSource {
	return &KafkaSource{cfg: cfg, metrics: m}
}

func (s *KafkaSource) Run(ctx context.Context, handle TaskHandler) error {
	consumer := kafka.NewConsumer(s.cfg, s.cfg.Topics.JobDispatch, s.messageHandler(handle), kafka.FromFirstOffset())
	return consumer.Start(ctx)
}

func (s *KafkaSource) messageHandler(handle TaskHandler) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		task, err := kafka.DecodeJSON[Task](value)
		if err == nil && task.JobID == "" {
			task.JobID = string(key)
		}
		observe(s.metrics, "dequeue", err)
		if err != nil {
			return err
		}
		return handle(ctx, task)
	}
}
