// Package postgres implements the job and segment stores on PostgreSQL via
// lib/pq. Conditional writes use INSERT ... ON CONFLICT DO NOTHING and
// overwrites use ON CONFLICT DO UPDATE restricted to non-key columns.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	pgclient "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/postgres"
)

//go:embed schema.sql
var schema string

// Store is a PostgreSQL-backed repo.Store.
type Store struct {
	client   *pgclient.Client
	jobs     *JobStore
	segments *SegmentStore
}

var _ repo.Store = (*Store)(nil)

// New wraps an open client. Call Migrate once before first use.
func New(client *pgclient.Client) *Store {
	return &Store{
		client:   client,
		jobs:     &JobStore{db: client.DB},
		segments: &SegmentStore{db: client.DB},
	}
}

// Migrate creates the job and segment tables on first use. Later calls find
// the migration recorded and do nothing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.client.Apply(ctx, "001_jobs_segments", schema); err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}
	return nil
}

func (s *Store) Jobs() repo.JobStore         { return s.jobs }
func (s *Store) Segments() repo.SegmentStore { return s.segments }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}

// rangeClause appends the created_at predicate for r, numbering placeholders
// after the n arguments already in args.
func rangeClause(r repo.TimeRange, args []any) (string, []any) {
	lower, upper, hasUpper := r.Bounds()
	args = append(args, lower)
	if !hasUpper {
		return fmt.Sprintf(" AND created_at >= $%d", len(args)), args
	}
	args = append(args, upper)
	return fmt.Sprintf(" AND created_at BETWEEN $%d AND $%d", len(args)-1, len(args)), args
}
