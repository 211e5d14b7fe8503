// Package transcript defines the Job and Segment records shared by the
// stores, the ingestion pipeline and the search engine.
package transcript

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnonymousUser owns jobs and segments submitted without a user.
const AnonymousUser = "anonymous"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s == StatusProcessing || s == StatusDone
}

// Job is one unit of ingestion work. (JobID, CreatedAt) is its key.
type Job struct {
	JobID     string    `json:"job_id"`
	User      string    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	Status    JobStatus `json:"status"`
	StreamURL string    `json:"stream_url"`
}

// Segment is one transcribed, embedded span of a stream.
// (TranscriptID, SegmentID) is its key.
type Segment struct {
	TranscriptID string          `json:"transcript_id"`
	SegmentID    int             `json:"segment_id"`
	User         string          `json:"user"`
	CreatedAt    time.Time       `json:"created_at"`
	StreamURL    string          `json:"stream_url"`
	Start        decimal.Decimal `json:"start"`
	End          decimal.Decimal `json:"end"`
	Text         string          `json:"text"`
	Embedding    string          `json:"embedding,omitempty"`
}

// WithoutEmbedding returns a copy with the serialized vector dropped.
func (s Segment) WithoutEmbedding() Segment {
	s.Embedding = ""
	return s
}

// Now returns the current UTC time at microsecond precision, the finest
// precision every store backend keeps.
func Now() time.Time {
	return NormalizeTime(time.Now())
}

// NormalizeTime truncates t to microseconds in UTC so values round-trip
// through every backend unchanged.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
