// Package config loads the YAML configuration shared by the api, worker,
// analytics and stsctl binaries, applies STS_* environment overrides on top
// and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Cassandra     CassandraConfig     `yaml:"cassandra"`
	Bolt          BoltConfig          `yaml:"bolt"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Worker        WorkerConfig        `yaml:"worker"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Fetch         FetchConfig         `yaml:"fetch"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Search        SearchConfig        `yaml:"search"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. RateLimit is requests per minute
// per client address; 0 disables limiting.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	RateLimit       int           `yaml:"rateLimit"`
}

// StoreConfig selects the backend used for the job and segment stores.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// Store backends.
const (
	StorePostgres  = "postgres"
	StoreCassandra = "cassandra"
	StoreBolt      = "bolt"
)

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// CassandraConfig holds Cassandra cluster parameters.
type CassandraConfig struct {
	Hosts       []string      `yaml:"hosts"`
	Keyspace    string        `yaml:"keyspace"`
	Consistency string        `yaml:"consistency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BoltConfig holds the embedded bbolt database location.
type BoltConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	JobDispatch     string `yaml:"jobDispatch"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// DispatchConfig selects how created jobs reach the worker.
type DispatchConfig struct {
	Backend       string        `yaml:"backend"`
	QueueKey      string        `yaml:"queueKey"`
	RetryAttempts int           `yaml:"retryAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

// Dispatch backends.
const (
	DispatchRedis  = "redis"
	DispatchKafka  = "kafka"
	DispatchInline = "inline"
)

// WorkerConfig controls the job worker pool.
type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	JobTimeout  time.Duration `yaml:"jobTimeout"`
	LeaseTTL    time.Duration `yaml:"leaseTTL"`
	PollTimeout time.Duration `yaml:"pollTimeout"`
}

// PipelineConfig controls the ingestion pipeline.
type PipelineConfig struct {
	Language            string `yaml:"language"`
	MaxConcurrentWrites int    `yaml:"maxConcurrentWrites"`
}

// FetchConfig controls stream acquisition.
type FetchConfig struct {
	Backend     string        `yaml:"backend"`
	TempDir     string        `yaml:"tempDir"`
	MaxBytes    int64         `yaml:"maxBytes"`
	Timeout     time.Duration `yaml:"timeout"`
	YTDLPBinary string        `yaml:"ytdlpBinary"`
	YTDLPHosts  []string      `yaml:"ytdlpHosts"`
}

// Fetch backends.
const (
	FetchHTTP  = "http"
	FetchYTDLP = "ytdlp"
	FetchAuto  = "auto"
)

// TranscriptionConfig points at a whisper-compatible transcription service.
type TranscriptionConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig selects and configures the embedding model.
type EmbeddingConfig struct {
	Backend   string        `yaml:"backend"`
	BaseURL   string        `yaml:"baseURL"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"apiKey"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batchSize"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Embedding backends.
const (
	EmbeddingOpenAI = "openai"
	EmbeddingHash   = "hash"
)

// SearchConfig controls query limits.
type SearchConfig struct {
	DefaultK int `yaml:"defaultK"`
	MaxK     int `yaml:"maxK"`
}

// AnalyticsConfig controls the job and search event stream.
type AnalyticsConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Port             int           `yaml:"port"`
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StorePostgres, StoreCassandra, StoreBolt:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of postgres, cassandra, bolt", c.Store.Backend))
	}
	switch c.Dispatch.Backend {
	case DispatchRedis, DispatchKafka, DispatchInline:
	default:
		errs = append(errs, fmt.Errorf("dispatch.backend %q is not one of redis, kafka, inline", c.Dispatch.Backend))
	}
	switch c.Fetch.Backend {
	case FetchHTTP, FetchYTDLP, FetchAuto:
	default:
		errs = append(errs, fmt.Errorf("fetch.backend %q is not one of http, ytdlp, auto", c.Fetch.Backend))
	}
	switch c.Embedding.Backend {
	case EmbeddingOpenAI, EmbeddingHash:
	default:
		errs = append(errs, fmt.Errorf("embedding.backend %q is not one of openai, hash", c.Embedding.Backend))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("embedding.dimension must be positive"))
	}
	if c.Pipeline.MaxConcurrentWrites <= 0 {
		errs = append(errs, errors.New("pipeline.maxConcurrentWrites must be positive"))
	}
	if c.Search.DefaultK < 2 {
		errs = append(errs, errors.New("search.defaultK must be at least 2"))
	}
	if c.Search.MaxK < c.Search.DefaultK {
		errs = append(errs, errors.New("search.maxK must not be below search.defaultK"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  60 * time.Second,
			RateLimit:       600,
		},
		Store: StoreConfig{
			Backend: StorePostgres,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "transcripts",
			User:            "transcripts",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cassandra: CassandraConfig{
			Hosts:       []string{"localhost"},
			Keyspace:    "transcripts",
			Consistency: "quorum",
			Timeout:     10 * time.Second,
		},
		Bolt: BoltConfig{
			Path:    "data/transcripts.db",
			Timeout: time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "transcripts-group",
			Topics: KafkaTopics{
				JobDispatch:     "job-dispatch",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Dispatch: DispatchConfig{
			Backend:       DispatchRedis,
			QueueKey:      "transcripts:jobs",
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
		},
		Worker: WorkerConfig{
			Concurrency: 2,
			JobTimeout:  30 * time.Minute,
			LeaseTTL:    time.Hour,
			PollTimeout: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			Language:            "en",
			MaxConcurrentWrites: 16,
		},
		Fetch: FetchConfig{
			Backend:     FetchAuto,
			TempDir:     "",
			MaxBytes:    1 << 30,
			Timeout:     10 * time.Minute,
			YTDLPBinary: "yt-dlp",
			YTDLPHosts:  []string{"youtube.com", "www.youtube.com", "youtu.be", "m.youtube.com"},
		},
		Transcription: TranscriptionConfig{
			BaseURL: "http://localhost:9000/v1",
			Model:   "whisper-1",
			Timeout: 15 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Backend:   EmbeddingHash,
			BaseURL:   "http://localhost:9001/v1",
			Model:     "paraphrase-mpnet-base-v2",
			Dimension: 768,
			BatchSize: 256,
			Timeout:   2 * time.Minute,
		},
		Search: SearchConfig{
			DefaultK: 3,
			MaxK:     100,
		},
		Analytics: AnalyticsConfig{
			Enabled:          false,
			Port:             8081,
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    2 * time.Second,
			SnapshotInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// envBinding ties one STS_* variable to the field it overrides.
type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

func str(set func(*Config, string)) func(*Config, string) error {
	return func(cfg *Config, v string) error { set(cfg, v); return nil }
}

func list(set func(*Config, []string)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		set(cfg, items)
		return nil
	}
}

func integer(set func(*Config, int)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		set(cfg, n)
		return nil
	}
}

func boolean(set func(*Config, bool)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", v)
		}
		set(cfg, b)
		return nil
	}
}

var envBindings = []envBinding{
	{"STS_SERVER_PORT", integer(func(c *Config, n int) { c.Server.Port = n })},
	{"STS_SERVER_RATE_LIMIT", integer(func(c *Config, n int) { c.Server.RateLimit = n })},
	{"STS_STORE_BACKEND", str(func(c *Config, v string) { c.Store.Backend = v })},
	{"STS_POSTGRES_HOST", str(func(c *Config, v string) { c.Postgres.Host = v })},
	{"STS_POSTGRES_PORT", integer(func(c *Config, n int) { c.Postgres.Port = n })},
	{"STS_POSTGRES_DATABASE", str(func(c *Config, v string) { c.Postgres.Database = v })},
	{"STS_POSTGRES_USER", str(func(c *Config, v string) { c.Postgres.User = v })},
	{"STS_POSTGRES_PASSWORD", str(func(c *Config, v string) { c.Postgres.Password = v })},
	{"STS_POSTGRES_SSLMODE", str(func(c *Config, v string) { c.Postgres.SSLMode = v })},
	{"STS_CASSANDRA_HOSTS", list(func(c *Config, v []string) { c.Cassandra.Hosts = v })},
	{"STS_CASSANDRA_KEYSPACE", str(func(c *Config, v string) { c.Cassandra.Keyspace = v })},
	{"STS_BOLT_PATH", str(func(c *Config, v string) { c.Bolt.Path = v })},
	{"STS_KAFKA_BROKERS", list(func(c *Config, v []string) { c.Kafka.Brokers = v })},
	{"STS_REDIS_ADDR", str(func(c *Config, v string) { c.Redis.Addr = v })},
	{"STS_REDIS_PASSWORD", str(func(c *Config, v string) { c.Redis.Password = v })},
	{"STS_DISPATCH_BACKEND", str(func(c *Config, v string) { c.Dispatch.Backend = v })},
	{"STS_WORKER_CONCURRENCY", integer(func(c *Config, n int) { c.Worker.Concurrency = n })},
	{"STS_FETCH_BACKEND", str(func(c *Config, v string) { c.Fetch.Backend = v })},
	{"STS_TRANSCRIPTION_BASE_URL", str(func(c *Config, v string) { c.Transcription.BaseURL = v })},
	{"STS_TRANSCRIPTION_API_KEY", str(func(c *Config, v string) { c.Transcription.APIKey = v })},
	{"STS_EMBEDDING_BACKEND", str(func(c *Config, v string) { c.Embedding.Backend = v })},
	{"STS_EMBEDDING_BASE_URL", str(func(c *Config, v string) { c.Embedding.BaseURL = v })},
	{"STS_EMBEDDING_API_KEY", str(func(c *Config, v string) { c.Embedding.APIKey = v })},
	{"STS_EMBEDDING_DIMENSION", integer(func(c *Config, n int) { c.Embedding.Dimension = n })},
	{"STS_ANALYTICS_ENABLED", boolean(func(c *Config, b bool) { c.Analytics.Enabled = b })},
	{"STS_METRICS_ENABLED", boolean(func(c *Config, b bool) { c.Metrics.Enabled = b })},
	{"STS_TRACING_ENABLED", boolean(func(c *Config, b bool) { c.Tracing.Enabled = b })},
	{"STS_LOGGING_LEVEL", str(func(c *Config, v string) { c.Logging.Level = v })},
	{"STS_LOGGING_FORMAT", str(func(c *Config, v string) { c.Logging.Format = v })},
}

// applyEnvOverrides applies every set STS_* variable and reports the ones
// whose value could not be parsed.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		}
	}
	return errors.Join(errs...)
}
