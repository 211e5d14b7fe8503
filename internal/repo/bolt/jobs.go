package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

// JobStore keys jobs by job_id|created_at and indexes them by
// user|created_at|job_id.
type JobStore struct {
	db *bbolt.DB
}

func jobKey(j *transcript.Job) []byte {
	return appendTime(appendString(nil, j.JobID), j.CreatedAt)
}

func jobUserKey(j *transcript.Job) []byte {
	return append(appendTime(appendString(nil, j.User), j.CreatedAt), j.JobID...)
}

func (s *JobStore) GetByID(ctx context.Context, jobID string) (*transcript.Job, error) {
	var found []transcript.Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := appendString(nil, jobID)
		c := tx.Bucket(bucketJobs).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var job transcript.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("decoding job %s: %w", jobID, err)
			}
			found = append(found, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("job %s: %w", jobID, apperrors.ErrNotFound)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("job %s has %d created_at values: %w", jobID, len(found), apperrors.ErrAmbiguous)
	}
}

func (s *JobStore) GetByUser(ctx context.Context, user string, r repo.TimeRange) ([]transcript.Job, error) {
	jobs := []transcript.Job{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		primary := tx.Bucket(bucketJobs)
		return scanRange(tx.Bucket(bucketJobsByUser), user, r, func(key []byte) error {
			v := primary.Get(key)
			if v == nil {
				return nil
			}
			var job transcript.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("decoding job: %w", err)
			}
			jobs = append(jobs, job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *JobStore) Upsert(ctx context.Context, job *transcript.Job, failIfExists bool) (*transcript.Job, error) {
	out := *job
	repo.PrepareJob(&out)
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		primary := tx.Bucket(bucketJobs)
		byUser := tx.Bucket(bucketJobsByUser)
		key := jobKey(&out)
		if existing := primary.Get(key); existing != nil {
			if failIfExists {
				return fmt.Errorf("job %s: %w", out.JobID, apperrors.ErrConflict)
			}
			var prev transcript.Job
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("decoding job %s: %w", out.JobID, err)
			}
			if err := byUser.Delete(jobUserKey(&prev)); err != nil {
				return err
			}
		}
		if err := primary.Put(key, data); err != nil {
			return err
		}
		return byUser.Put(jobUserKey(&out), key)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
