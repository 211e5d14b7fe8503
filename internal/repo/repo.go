// Package repo defines the job and segment store contracts. Backends live in
// the postgres, cassandra and bolt subpackages; all of them honour the same
// key, conflict and ordering rules.
package repo

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
)

// TimeRange bounds a by-user query on created_at. A nil CreatedAfter means
// the Unix epoch and a nil CreatedBefore means no upper bound. Both bounds
// are inclusive.
type TimeRange struct {
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Bounds resolves the range to concrete inclusive limits. hasUpper is false
// when the range is open-ended.
func (r TimeRange) Bounds() (lower time.Time, upper time.Time, hasUpper bool) {
	lower = time.Unix(0, 0).UTC()
	if r.CreatedAfter != nil {
		lower = transcript.NormalizeTime(*r.CreatedAfter)
	}
	if r.CreatedBefore != nil {
		return lower, transcript.NormalizeTime(*r.CreatedBefore), true
	}
	return lower, time.Time{}, false
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	lower, upper, hasUpper := r.Bounds()
	if t.Before(lower) {
		return false
	}
	return !hasUpper || !t.After(upper)
}

// JobStore persists ingestion jobs.
type JobStore interface {
	// GetByID returns the single job with jobID. It fails with
	// apperrors.ErrNotFound when there is none and apperrors.ErrAmbiguous
	// when several created_at values share the id.
	GetByID(ctx context.Context, jobID string) (*transcript.Job, error)
	// GetByUser returns the user's jobs in range, ordered by created_at.
	GetByUser(ctx context.Context, user string, r TimeRange) ([]transcript.Job, error)
	// Upsert writes job. An empty JobID is generated. With failIfExists an
	// existing key fails with apperrors.ErrConflict and nothing is written;
	// otherwise every non-key field is overwritten.
	Upsert(ctx context.Context, job *transcript.Job, failIfExists bool) (*transcript.Job, error)
}

// SegmentStore persists transcript segments.
type SegmentStore interface {
	// GetByTranscript returns every segment of one transcript by segment_id.
	GetByTranscript(ctx context.Context, transcriptID string) ([]transcript.Segment, error)
	// GetByUser returns the user's segments in range, ordered by
	// (created_at, segment_id).
	GetByUser(ctx context.Context, user string, r TimeRange) ([]transcript.Segment, error)
	// Upsert has the same conflict semantics as JobStore.Upsert.
	Upsert(ctx context.Context, seg *transcript.Segment, failIfExists bool) (*transcript.Segment, error)
}

// Store bundles both stores of one backend.
type Store interface {
	Jobs() JobStore
	Segments() SegmentStore
	Ping(ctx context.Context) error
	Close() error
}

// SortSegments orders segments by (created_at, segment_id), with
// transcript_id as the final tie-breaker.
func SortSegments(segs []transcript.Segment) {
	slices.SortStableFunc(segs, func(a, b transcript.Segment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.SegmentID != b.SegmentID {
			return a.SegmentID - b.SegmentID
		}
		return strings.Compare(a.TranscriptID, b.TranscriptID)
	})
}

// SortJobs orders jobs by (created_at, job_id).
func SortJobs(jobs []transcript.Job) {
	slices.SortStableFunc(jobs, func(a, b transcript.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.JobID, b.JobID)
	})
}

// PrepareJob fills defaults before a write: a generated id, the anonymous
// user, the processing status and a normalized created_at.
func PrepareJob(job *transcript.Job) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.User == "" {
		job.User = transcript.AnonymousUser
	}
	if job.Status == "" {
		job.Status = transcript.StatusProcessing
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = transcript.Now()
	} else {
		job.CreatedAt = transcript.NormalizeTime(job.CreatedAt)
	}
}

// PrepareSegment normalizes created_at and the default user before a write.
func PrepareSegment(seg *transcript.Segment) {
	if seg.User == "" {
		seg.User = transcript.AnonymousUser
	}
	seg.CreatedAt = transcript.NormalizeTime(seg.CreatedAt)
}
