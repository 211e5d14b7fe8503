package integration

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	cqlstore "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/cassandra"
	pgstore "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/postgres"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/repotest"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/cassandra"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/postgres"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "transcripts_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "transcripts"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func testCassandraConfig() config.CassandraConfig {
	return config.CassandraConfig{
		Hosts:       strings.Split(envOrDefault("TEST_CASSANDRA_HOSTS", "localhost:9042"), ","),
		Keyspace:    envOrDefault("TEST_CASSANDRA_KEYSPACE", "transcripts_test"),
		Consistency: "one",
		Timeout:     5 * time.Second,
	}
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	return db
}

// skipIfNoCassandra skips the test when no Cassandra node answers.
func skipIfNoCassandra(t *testing.T) *cassandra.Client {
	t.Helper()
	cfg := testCassandraConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := cassandra.Bootstrap(ctx, cfg, 1); err != nil {
		t.Skipf("skipping integration test: cassandra unavailable: %v", err)
	}
	c, err := cassandra.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: cassandra unavailable: %v", err)
	}
	return c
}

func TestPostgresStore(t *testing.T) {
	db := skipIfNoPostgres(t)
	if err := pgstore.New(db).Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("Migrate: %v", err)
	}
	db.Close()

	repotest.Run(t, func(t *testing.T) repo.Store {
		s := pgstore.New(skipIfNoPostgres(t))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestCassandraStore(t *testing.T) {
	c := skipIfNoCassandra(t)
	if err := cqlstore.New(c).Migrate(context.Background()); err != nil {
		c.Close()
		t.Fatalf("Migrate: %v", err)
	}
	c.Close()

	repotest.Run(t, func(t *testing.T) repo.Store {
		s := cqlstore.New(skipIfNoCassandra(t))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestAnalyticsSnapshotRoundTrip(t *testing.T) {
	db := skipIfNoPostgres(t)
	defer db.Close()
	ctx := context.Background()

	store := snapshot.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	agg := analytics.NewAggregator()
	agg.RecordSearch(analytics.SearchEvent{User: "alice", TextQueries: []string{"Red Fox"}, Outcome: analytics.OutcomeOK, LatencyMs: 12})
	agg.RecordSearch(analytics.SearchEvent{User: "bob", Outcome: analytics.OutcomeNoCorpus, LatencyMs: 3})
	agg.RecordJob(analytics.JobEvent{JobID: "j1", User: "alice"})

	if err := store.Save(ctx, agg.Stats()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil {
		t.Fatal("Latest returned no snapshot")
	}

	restored := analytics.NewAggregator()
	restored.Restore(*latest)
	stats := restored.Stats()
	if stats.TotalSearches < 2 || stats.TotalJobsCreated < 1 || stats.NoCorpusCount < 1 {
		t.Errorf("restored stats = %+v", stats)
	}
}

func TestPostgresApplyRunsOnce(t *testing.T) {
	db := skipIfNoPostgres(t)
	defer db.Close()
	ctx := context.Background()

	name := "test_apply_" + time.Now().UTC().Format("20060102150405.000000000")
	ddl := `CREATE TABLE IF NOT EXISTS apply_probe (id INT PRIMARY KEY)`
	first, err := db.Apply(ctx, name, ddl)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	second, err := db.Apply(ctx, name, ddl)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if !first || second {
		t.Errorf("Apply ran = %v then %v, want true then false", first, second)
	}
}
