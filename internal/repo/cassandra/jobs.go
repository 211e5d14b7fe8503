package cassandra

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

type JobStore struct {
	session *gocql.Session
}

func (s *JobStore) GetByID(ctx context.Context, jobID string) (*transcript.Job, error) {
	iter := s.session.Query(
		`SELECT job_id, created_at, user_id, status, stream_url FROM jobs WHERE job_id = ? LIMIT 2`, jobID,
	).WithContext(ctx).Iter()

	var found []transcript.Job
	var (
		id, user, status, url string
		created               int64
	)
	for iter.Scan(&id, &created, &user, &status, &url) {
		found = append(found, transcript.Job{
			JobID: id, CreatedAt: fromMicros(created), User: user,
			Status: transcript.JobStatus(status), StreamURL: url,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("querying job %s: %w", jobID, err)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("job %s: %w", jobID, apperrors.ErrNotFound)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("job %s has several created_at values: %w", jobID, apperrors.ErrAmbiguous)
	}
}

func (s *JobStore) GetByUser(ctx context.Context, user string, r repo.TimeRange) ([]transcript.Job, error) {
	stmt, args := rangeQuery(`SELECT job_id, created_at, user_id, status, stream_url FROM jobs_by_user`, user, r)
	iter := s.session.Query(stmt, args...).WithContext(ctx).Iter()

	jobs := []transcript.Job{}
	var (
		id, u, status, url string
		created            int64
	)
	for iter.Scan(&id, &created, &u, &status, &url) {
		jobs = append(jobs, transcript.Job{
			JobID: id, CreatedAt: fromMicros(created), User: u,
			Status: transcript.JobStatus(status), StreamURL: url,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("querying jobs for %s: %w", user, err)
	}
	return jobs, nil
}

const insertJobByUser = `INSERT INTO jobs_by_user (user_id, created_at, job_id, status, stream_url) VALUES (?, ?, ?, ?, ?)`

func (s *JobStore) Upsert(ctx context.Context, job *transcript.Job, failIfExists bool) (*transcript.Job, error) {
	out := *job
	repo.PrepareJob(&out)
	created := micros(out.CreatedAt)
	indexArgs := []any{out.User, created, out.JobID, string(out.Status), out.StreamURL}

	if failIfExists {
		applied, err := s.session.Query(
			`INSERT INTO jobs (job_id, created_at, user_id, status, stream_url) VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`,
			out.JobID, created, out.User, string(out.Status), out.StreamURL,
		).WithContext(ctx).MapScanCAS(map[string]any{})
		if err != nil {
			return nil, fmt.Errorf("inserting job %s: %w", out.JobID, err)
		}
		if !applied {
			return nil, fmt.Errorf("job %s: %w", out.JobID, apperrors.ErrConflict)
		}
		if err := s.session.Query(insertJobByUser, indexArgs...).WithContext(ctx).Exec(); err != nil {
			return nil, fmt.Errorf("indexing job %s: %w", out.JobID, err)
		}
		return &out, nil
	}

	var prevUser string
	err := s.session.Query(`SELECT user_id FROM jobs WHERE job_id = ? AND created_at = ?`, out.JobID, created).
		WithContext(ctx).Scan(&prevUser)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("reading job %s: %w", out.JobID, err)
	}

	stmts := []string{
		`UPDATE jobs SET user_id = ?, status = ?, stream_url = ? WHERE job_id = ? AND created_at = ?`,
		insertJobByUser,
	}
	args := [][]any{
		{out.User, string(out.Status), out.StreamURL, out.JobID, created},
		indexArgs,
	}
	if prevUser != "" && prevUser != out.User {
		stmts = append(stmts, `DELETE FROM jobs_by_user WHERE user_id = ? AND created_at = ? AND job_id = ?`)
		args = append(args, []any{prevUser, created, out.JobID})
	}
	if err := execBatch(ctx, s.session, stmts, args); err != nil {
		return nil, fmt.Errorf("upserting job %s: %w", out.JobID, err)
	}
	return &out, nil
}
