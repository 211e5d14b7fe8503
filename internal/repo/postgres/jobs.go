package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

type JobStore struct {
	db *sql.DB
}

const jobColumns = `job_id, created_at, user_id, status, stream_url`

func scanJob(row interface{ Scan(...any) error }) (transcript.Job, error) {
	var j transcript.Job
	err := row.Scan(&j.JobID, &j.CreatedAt, &j.User, &j.Status, &j.StreamURL)
	j.CreatedAt = j.CreatedAt.UTC()
	return j, err
}

func (s *JobStore) GetByID(ctx context.Context, jobID string) (*transcript.Job, error) {
	// Two rows are enough to detect the ambiguous case.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 ORDER BY created_at LIMIT 2`, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying job %s: %w", jobID, err)
	}
	defer rows.Close()
	var found []transcript.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		found = append(found, j)
	}
	if err := rows.Err(); err != nil {
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
	clause, args := rangeClause(r, []any{user})
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1`+clause+` ORDER BY created_at, job_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs for %s: %w", user, err)
	}
	defer rows.Close()
	jobs := []transcript.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *JobStore) Upsert(ctx context.Context, job *transcript.Job, failIfExists bool) (*transcript.Job, error) {
	out := *job
	repo.PrepareJob(&out)
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES ($1, $2, $3, $4, $5)`
	if failIfExists {
		query += ` ON CONFLICT (job_id, created_at) DO NOTHING RETURNING job_id`
	} else {
		query += ` ON CONFLICT (job_id, created_at) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			status = EXCLUDED.status,
			stream_url = EXCLUDED.stream_url
		RETURNING job_id`
	}
	var id string
	err := s.db.QueryRowContext(ctx, query, out.JobID, out.CreatedAt, out.User, out.Status, out.StreamURL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", out.JobID, apperrors.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("upserting job %s: %w", out.JobID, err)
	}
	return &out, nil
}
