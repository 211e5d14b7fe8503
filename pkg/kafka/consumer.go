// Package kafka carries job dispatches from the api to the workers and search
// and job events from the api to the analytics service, on top of
// segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one message. A nil return commits its offset. A
// failed message is not committed itself, but a later commit on the same
// partition moves past it.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ErrSkip, returned by a handler, commits a message it cannot ever process
// (a malformed payload, say) so that it is not redelivered.
var ErrSkip = errors.New("skip message")

type ConsumerOption func(*kafka.ReaderConfig)

// WithGroup overrides the configured consumer group.
func WithGroup(group string) ConsumerOption {
	return func(rc *kafka.ReaderConfig) { rc.GroupID = group }
}

// FromFirstOffset starts a new group at the oldest retained message so that
// dispatches published before the first worker joined are still picked up.
func FromFirstOffset() ConsumerOption {
	return func(rc *kafka.ReaderConfig) { rc.StartOffset = kafka.FirstOffset }
}

// ConsumerStats counts what one Consumer has seen since it started.
type ConsumerStats struct {
	Handled   int64
	Skipped   int64
	Failed    int64
	LastFetch time.Time
}

type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger

	handled   atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	lastFetch atomic.Int64
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	}
	for _, opt := range opts {
		opt(&rc)
	}
	return &Consumer{
		reader:  kafka.NewReader(rc),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", rc.GroupID),
	}
}

// Start fetches and handles messages until ctx ends, then closes the reader.
// A failed message is left uncommitted and logged; the loop moves on.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return c.reader.Close()
			}
			c.logger.Error("fetch failed", "error", err)
			continue
		}
		c.lastFetch.Store(time.Now().UnixNano())

		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
		err = c.handler(ctx, msg.Key, msg.Value)
		switch {
		case err == nil:
			c.handled.Add(1)
		case errors.Is(err, ErrSkip):
			c.skipped.Add(1)
			log.Warn("message skipped", "error", err)
		default:
			c.failed.Add(1)
			log.Error("message handling failed", "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("commit failed", "error", err)
		}
	}
}

func (c *Consumer) Stats() ConsumerStats {
	s := ConsumerStats{
		Handled: c.handled.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),
	}
	if ns := c.lastFetch.Load(); ns > 0 {
		s.LastFetch = time.Unix(0, ns)
	}
	return s
}

// Close is for consumers that were never started; Start closes its reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value. Decoding failures wrap ErrSkip.
func DecodeJSON[T any](value []byte) (T, error) {
	var out T
	if err := json.Unmarshal(value, &out); err != nil {
		return out, fmt.Errorf("decoding kafka message: %w: %w", ErrSkip, err)
	}
	return out, nil
}
