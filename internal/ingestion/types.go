// Package ingestion defines the request and response bodies of the job and
// segment endpoints.
package ingestion

import "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"

// JobCreate is one requested job. An empty User means anonymous.
type JobCreate struct {
	StreamURL string `json:"stream_url"`
	User      string `json:"user,omitempty"`
}

// JobsCreateRequest is the body of POST /user-jobs.
type JobsCreateRequest struct {
	Jobs []JobCreate `json:"jobs"`
}

// JobsResponse lists jobs.
type JobsResponse struct {
	Jobs []transcript.Job `json:"jobs"`
}

// SegmentsResponse lists segments.
type SegmentsResponse struct {
	Segments []transcript.Segment `json:"segments"`
}
