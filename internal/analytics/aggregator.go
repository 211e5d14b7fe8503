package analytics

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/kafka"
)

// latencyWindow is how many recent search latencies feed the percentiles.
const latencyWindow = 10000

// topEntries is the length of every ranked list in AggregatedStats.
const topEntries = 10

type AggregatedStats struct {
	TotalSearches       int64        `json:"total_searches"`
	TotalJobsCreated    int64        `json:"total_jobs_created"`
	EmptyQueryCount     int64        `json:"empty_query_count"`
	NoCorpusCount       int64        `json:"no_corpus_count"`
	ErrorCount          int64        `json:"error_count"`
	EmbeddingQueryCount int64        `json:"embedding_query_count"`
	AvgLatencyMs        float64      `json:"avg_latency_ms"`
	P50LatencyMs        int64        `json:"p50_latency_ms"`
	P95LatencyMs        int64        `json:"p95_latency_ms"`
	P99LatencyMs        int64        `json:"p99_latency_ms"`
	TopQueries          []QueryCount `json:"top_queries"`
	TopSearchUsers      []QueryCount `json:"top_search_users"`
	TopIngestUsers      []QueryCount `json:"top_ingest_users"`
	NoCorpusUsers       []QueryCount `json:"no_corpus_users"`
	SearchesPerMinute   float64      `json:"searches_per_minute"`
}

// QueryCount is one ranked entry: a normalized query text or a user name.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// tally counts occurrences per key.
type tally map[string]int64

func (t tally) seed(entries []QueryCount) {
	for _, e := range entries {
		t[e.Query] = e.Count
	}
}

// top ranks by count, ties broken by key so the order is stable.
func (t tally) top(n int) []QueryCount {
	out := make([]QueryCount, 0, len(t))
	for k, c := range t {
		out = append(out, QueryCount{Query: k, Count: c})
	}
	slices.SortFunc(out, func(a, b QueryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Query, b.Query)
	})
	return out[:min(n, len(out))]
}

// ring keeps the last len(buf) latencies.
type ring struct {
	buf  []int64
	next int
	full bool
}

func (r *ring) add(v int64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) sorted() []int64 {
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	out := slices.Clone(r.buf[:n])
	slices.Sort(out)
	return out
}

// Aggregator folds job and search events into running totals. Totals are
// lock-free counters; the rankings and the latency window share mu.
type Aggregator struct {
	totalSearches    atomic.Int64
	jobsCreated      atomic.Int64
	emptyQueries     atomic.Int64
	noCorpus         atomic.Int64
	errors           atomic.Int64
	embeddingQueries atomic.Int64

	mu            sync.RWMutex
	latencies     ring
	queries       tally
	searchUsers   tally
	ingestUsers   tally
	noCorpusUsers tally

	startTime time.Time
	logger    *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:     ring{buf: make([]int64, latencyWindow)},
		queries:       tally{},
		searchUsers:   tally{},
		ingestUsers:   tally{},
		noCorpusUsers: tally{},
		startTime:     time.Now(),
		logger:        slog.Default().With("component", "analytics-aggregator"),
	}
}

// Restore seeds totals and rankings from a snapshot so they survive a
// restart. Only the ranked heads were saved, so keys below them start at
// zero; the latency window starts empty.
func (a *Aggregator) Restore(s AggregatedStats) {
	a.totalSearches.Store(s.TotalSearches)
	a.jobsCreated.Store(s.TotalJobsCreated)
	a.emptyQueries.Store(s.EmptyQueryCount)
	a.noCorpus.Store(s.NoCorpusCount)
	a.errors.Store(s.ErrorCount)
	a.embeddingQueries.Store(s.EmbeddingQueryCount)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries.seed(s.TopQueries)
	a.searchUsers.seed(s.TopSearchUsers)
	a.ingestUsers.seed(s.TopIngestUsers)
	a.noCorpusUsers.seed(s.NoCorpusUsers)
}

// HandleEvent returns the consumer callback feeding agg. Events that cannot
// be decoded come back as kafka.ErrSkip so the consumer commits past them;
// unknown types are acknowledged silently.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		env, err := kafka.DecodeJSON[envelope](value)
		if err != nil {
			return err
		}
		switch env.Type {
		case EventSearch:
			event, err := kafka.DecodeJSON[SearchEvent](value)
			if err != nil {
				return fmt.Errorf("search event: %w", err)
			}
			agg.RecordSearch(event)
		case EventJobCreated:
			event, err := kafka.DecodeJSON[JobEvent](value)
			if err != nil {
				return fmt.Errorf("job event: %w", err)
			}
			agg.RecordJob(event)
		default:
			agg.logger.Debug("ignoring analytics event", "type", env.Type, "key", string(key))
		}
		return nil
	}
}

func (a *Aggregator) RecordSearch(event SearchEvent) {
	a.totalSearches.Add(1)
	a.embeddingQueries.Add(int64(event.EmbeddingQueries))
	switch event.Outcome {
	case OutcomeEmptyQuery:
		a.emptyQueries.Add(1)
	case OutcomeNoCorpus:
		a.noCorpus.Add(1)
	case OutcomeError, OutcomeInvalid:
		a.errors.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.latencies.add(event.LatencyMs)
	a.searchUsers[event.User]++
	for _, q := range event.TextQueries {
		if q = normalizeQuery(q); q != "" {
			a.queries[q]++
		}
	}
	if event.Outcome == OutcomeNoCorpus {
		a.noCorpusUsers[event.User]++
	}
}

// normalizeQuery folds case and whitespace so "Red  Fox " ranks with "red fox".
func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func (a *Aggregator) RecordJob(event JobEvent) {
	a.jobsCreated.Add(1)
	a.mu.Lock()
	a.ingestUsers[event.User]++
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	stats := AggregatedStats{
		TotalSearches:       a.totalSearches.Load(),
		TotalJobsCreated:    a.jobsCreated.Load(),
		EmptyQueryCount:     a.emptyQueries.Load(),
		NoCorpusCount:       a.noCorpus.Load(),
		ErrorCount:          a.errors.Load(),
		EmbeddingQueryCount: a.embeddingQueries.Load(),
	}
	if minutes := time.Since(a.startTime).Minutes(); minutes > 0 {
		stats.SearchesPerMinute = float64(stats.TotalSearches) / minutes
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if lat := a.latencies.sorted(); len(lat) > 0 {
		var sum int64
		for _, l := range lat {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(lat))
		stats.P50LatencyMs = percentile(lat, 50)
		stats.P95LatencyMs = percentile(lat, 95)
		stats.P99LatencyMs = percentile(lat, 99)
	}
	stats.TopQueries = a.queries.top(topEntries)
	stats.TopSearchUsers = a.searchUsers.top(topEntries)
	stats.TopIngestUsers = a.ingestUsers.top(topEntries)
	stats.NoCorpusUsers = a.noCorpusUsers.top(topEntries)
	return stats
}

// UserActivity is one user's share of the counters.
type UserActivity struct {
	User        string `json:"user"`
	Searches    int64  `json:"searches"`
	JobsCreated int64  `json:"jobs_created"`
	NoCorpus    int64  `json:"no_corpus"`
}

// UserActivity reports the counts recorded for user. After a Restore, users
// outside the saved rankings start at zero.
func (a *Aggregator) UserActivity(user string) UserActivity {
	if user == "" {
		user = transcript.AnonymousUser
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return UserActivity{
		User:        user,
		Searches:    a.searchUsers[user],
		JobsCreated: a.ingestUsers[user],
		NoCorpus:    a.noCorpusUsers[user],
	}
}

func (a *Aggregator) Uptime() time.Duration {
	return time.Since(a.startTime)
}

// percentile picks the element pct percent of the way into sorted.
func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[min(pct*len(sorted)/100, len(sorted)-1)]
}
