// Package bootstrap builds the configured store, capabilities and dispatch
// backends shared by the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/fetch"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/bolt"
	cqlstore "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/cassandra"
	pgstore "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/postgres"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcription"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/cassandra"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/resilience"
)

// Migrator is implemented by stores that own a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// OpenStore connects to the backend named by store.backend.
func OpenStore(cfg *config.Config) (repo.Store, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return pgstore.New(client), nil
	case config.StoreCassandra:
		client, err := cassandra.New(cfg.Cassandra)
		if err != nil {
			return nil, err
		}
		return cqlstore.New(client), nil
	case config.StoreBolt:
		store, err := bolt.Open(cfg.Bolt)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Migrate applies the store schema. Stores without one are left alone.
func Migrate(ctx context.Context, store repo.Store) error {
	m, ok := store.(Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

// Breaker creates a circuit breaker whose state is exported on the
// circuit_breaker_state gauge. Requests the service rejected with a 4xx and
// cancelled calls do not count as failures. m may be nil.
func Breaker(name string, m *metrics.Metrics) *resilience.CircuitBreaker {
	cfg := resilience.CircuitBreakerConfig{
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !apperrors.IsRejected(err)
		},
	}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(resilience.StateClosed))
		cfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return resilience.NewCircuitBreaker(name, cfg)
}

func Embedder(cfg config.EmbeddingConfig, m *metrics.Metrics) (embedding.Embedder, error) {
	switch cfg.Backend {
	case config.EmbeddingHash:
		return embedding.NewHashEmbedder(cfg.Dimension), nil
	case config.EmbeddingOpenAI:
		return embedding.NewOpenAIClient(cfg, Breaker("embedding", m)), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

func Transcriber(cfg config.TranscriptionConfig, m *metrics.Metrics) transcription.Transcriber {
	return transcription.NewWhisperClient(cfg, Breaker("transcription", m))
}

// Pipeline wires the ingestion pipeline over store with the configured
// fetcher, transcriber and embedder.
func Pipeline(cfg *config.Config, store repo.Store, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	embedder, err := Embedder(cfg.Embedding, m)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Deps{
		Jobs:        store.Jobs(),
		Segments:    store.Segments(),
		Fetcher:     fetch.New(cfg.Fetch),
		Transcriber: Transcriber(cfg.Transcription, m),
		Embedder:    embedder,
		Metrics:     m,
	}, cfg.Pipeline), nil
}

// Dispatcher builds the enqueue side of dispatch.backend. redisClient is
// required for the redis backend and proc for the inline one.
func Dispatcher(cfg *config.Config, redisClient *pkgredis.Client, proc dispatch.Processor, m *metrics.Metrics) (dispatch.Dispatcher, error) {
	switch cfg.Dispatch.Backend {
	case config.DispatchRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis dispatch needs a redis client")
		}
		return dispatch.NewRedisQueue(redisClient, cfg.Dispatch.QueueKey, cfg.Worker.PollTimeout, m), nil
	case config.DispatchKafka:
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.JobDispatch)
		return dispatch.NewKafkaDispatcher(producer, m), nil
	case config.DispatchInline:
		if proc == nil {
			return nil, fmt.Errorf("inline dispatch needs a pipeline")
		}
		slog.Info("jobs run in-process", "job_timeout", cfg.Worker.JobTimeout)
		return dispatch.NewInline(proc, cfg.Worker.JobTimeout), nil
	default:
		return nil, fmt.Errorf("unknown dispatch backend %q", cfg.Dispatch.Backend)
	}
}

// Source builds the consuming side of dispatch.backend for cmd/worker.
func Source(cfg *config.Config, redisClient *pkgredis.Client, m *metrics.Metrics) (dispatch.Source, error) {
	switch cfg.Dispatch.Backend {
	case config.DispatchRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis dispatch needs a redis client")
		}
		return dispatch.NewRedisQueue(redisClient, cfg.Dispatch.QueueKey, cfg.Worker.PollTimeout, m), nil
	case config.DispatchKafka:
		return dispatch.NewKafkaSource(cfg.Kafka, m), nil
	case config.DispatchInline:
		return nil, fmt.Errorf("dispatch backend inline runs jobs inside the api process; no worker is needed")
	default:
		return nil, fmt.Errorf("unknown dispatch backend %q", cfg.Dispatch.Backend)
	}
}

// NeedsRedis reports whether the configured dispatch backend uses Redis.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.Dispatch.Backend == config.DispatchRedis
}

// RegisterChecks adds the store probe and the probes of whichever brokers
// dispatch depends on. Redis used only for job leases is optional.
func RegisterChecks(checker *health.Checker, cfg *config.Config, store repo.Store, redisClient *pkgredis.Client) {
	checker.Register(cfg.Store.Backend, health.PingCheck(store.Ping))
	if redisClient != nil {
		if NeedsRedis(cfg) {
			checker.Register("redis", queueCheck(redisClient, cfg.Dispatch.QueueKey))
		} else {
			checker.RegisterOptional("redis", health.PingCheck(redisClient.Ping))
		}
	}
	if cfg.Dispatch.Backend == config.DispatchKafka {
		checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka.Brokers)
		}))
	}
}

// queueCheck pings Redis and reports the dispatch backlog.
func queueCheck(client *pkgredis.Client, key string) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		n, err := client.Len(ctx, key)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d jobs queued", n)}
	}
}
