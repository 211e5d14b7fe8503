// Package analytics publishes job and search events to Kafka and folds them
// into in-memory usage statistics on the consuming side.
package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventJobCreated EventType = "job_created"
)

// Search outcomes carried on SearchEvent.
const (
	OutcomeOK         = "ok"
	OutcomeEmptyQuery = "empty_query"
	OutcomeNoCorpus   = "no_corpus"
	OutcomeInvalid    = "invalid"
	OutcomeError      = "error"
)

type SearchEvent struct {
	Type             EventType `json:"type"`
	User             string    `json:"user"`
	K                int       `json:"k"`
	TextQueries      []string  `json:"text_queries"`
	EmbeddingQueries int       `json:"embedding_queries"`
	Returned         int       `json:"returned"`
	Outcome          string    `json:"outcome"`
	LatencyMs        int64     `json:"latency_ms"`
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id,omitempty"`
}

type JobEvent struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	User      string    `json:"user"`
	StreamURL string    `json:"stream_url"`
	Timestamp time.Time `json:"timestamp"`
}

// envelope is decoded first to pick the concrete event type.
type envelope struct {
	Type EventType `json:"type"`
}
