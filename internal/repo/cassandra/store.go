// Package cassandra implements the job and segment stores on Cassandra via
// gocql. Each entity has a primary table keyed like the composite primary
// key and a by-user table clustered by (created_at, ...) that carries a full
// copy of the row for range reads. Conditional writes are lightweight
// transactions (INSERT ... IF NOT EXISTS).
package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	cqlclient "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/cassandra"
)

// created_at is stored as bigint microseconds; the CQL timestamp type only
// keeps milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id text,
		created_at bigint,
		user_id text,
		status text,
		stream_url text,
		PRIMARY KEY ((job_id), created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS jobs_by_user (
		user_id text,
		created_at bigint,
		job_id text,
		status text,
		stream_url text,
		PRIMARY KEY ((user_id), created_at, job_id)
	)`,
	`CREATE TABLE IF NOT EXISTS segments (
		transcript_id text,
		segment_id int,
		user_id text,
		created_at bigint,
		stream_url text,
		start_offset text,
		end_offset text,
		text text,
		embedding text,
		PRIMARY KEY ((transcript_id), segment_id)
	)`,
	`CREATE TABLE IF NOT EXISTS segments_by_user (
		user_id text,
		created_at bigint,
		segment_id int,
		transcript_id text,
		stream_url text,
		start_offset text,
		end_offset text,
		text text,
		embedding text,
		PRIMARY KEY ((user_id), created_at, segment_id, transcript_id)
	)`,
}

// Store is a Cassandra-backed repo.Store.
type Store struct {
	client   *cqlclient.Client
	jobs     *JobStore
	segments *SegmentStore
}

var _ repo.Store = (*Store)(nil)

func New(client *cqlclient.Client) *Store {
	return &Store{
		client:   client,
		jobs:     &JobStore{session: client.Session},
		segments: &SegmentStore{session: client.Session},
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.client.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
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

func micros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

// rangeQuery appends the created_at restriction of r to a by-user select.
func rangeQuery(base string, user string, r repo.TimeRange) (string, []any) {
	lower, upper, hasUpper := r.Bounds()
	args := []any{user, micros(lower)}
	stmt := base + ` WHERE user_id = ? AND created_at >= ?`
	if hasUpper {
		stmt += ` AND created_at <= ?`
		args = append(args, micros(upper))
	}
	return stmt, args
}

func execBatch(ctx context.Context, session *gocql.Session, stmts []string, args [][]any) error {
	batch := session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for i, stmt := range stmts {
		batch.Query(stmt, args[i]...)
	}
	return session.ExecuteBatch(batch)
}
