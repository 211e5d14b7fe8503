// Package snapshot persists aggregated analytics in PostgreSQL so counters
// survive a restart of the analytics service.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS analytics_snapshots_captured_idx ON analytics_snapshots (captured_at DESC);
`

// keepSnapshots bounds the table; older rows are pruned on every save.
const keepSnapshots = 48

// StatsSource is satisfied by *analytics.Aggregator.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-snapshots"),
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Apply(ctx, "001_analytics_snapshots", schema); err != nil {
		return fmt.Errorf("creating analytics_snapshots: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
			data, time.Now().UTC(),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM analytics_snapshots WHERE id NOT IN (
			SELECT id FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1)`, keepSnapshots)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"total_jobs_created", stats.TotalJobsCreated,
	)
	return nil
}

// Latest returns the newest snapshot, or nil when none has been saved.
func (s *Store) Latest(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// Run saves src every interval until ctx ends, then saves once more.
func (s *Store) Run(ctx context.Context, src StatsSource, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("periodic snapshot started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			if err := s.Save(ctx, src.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Save(shutdownCtx, src.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			return
		}
	}
}
