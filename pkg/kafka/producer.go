package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Event is one message to publish. Key picks the partition, so every event
// of a job lands on the same one; Value is sent as JSON.
type Event struct {
	Key   string
	Value any
}

func (e Event) message() (kafka.Message, error) {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding event %q: %w", e.Key, err)
	}
	return kafka.Message{Key: []byte(e.Key), Value: value}, nil
}

// Producer writes job dispatches or analytics events to one topic and waits
// for every in-sync replica to acknowledge them.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              100,
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		brokers: cfg.Brokers,
		logger:  slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes one event.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch writes events in a single call. An event that fails to encode
// aborts the batch before anything is sent.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		msg, err := e.message()
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("publish failed", "events", len(msgs), "first_key", events[0].Key, "error", err)
		return fmt.Errorf("publishing %d events to %s: %w", len(msgs), p.writer.Topic, err)
	}
	p.logger.Debug("published", "events", len(msgs))
	return nil
}

// Ping dials the first reachable broker and asks it for the cluster
// metadata.
func (p *Producer) Ping(ctx context.Context) error {
	return Ping(ctx, p.brokers)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Ping succeeds when any of brokers answers a metadata request.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("kafka brokers unreachable: %w", lastErr)
}
