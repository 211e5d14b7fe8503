// Package searcher ranks a user's transcript segments against text and raw
// embedding queries.
package searcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher/index"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/tracing"
)

// MinK is the smallest accepted number of matches per query.
const MinK = 2

// Request is one search. Text queries are embedded; Embeddings are used as
// given.
type Request struct {
	User              string
	K                 int
	Text              []string
	Embeddings        [][]float32
	ExcludeEmbeddings bool
}

// Result holds one ranked row per query, text queries and raw queries kept
// apart and in input order.
type Result struct {
	Text       [][]transcript.Segment `json:"text"`
	Embeddings [][]transcript.Segment `json:"embeddings"`
}

// Engine builds an exact index over the user's corpus on every call.
type Engine struct {
	segments repo.SegmentStore
	embedder embedding.Embedder
	metrics  *metrics.Metrics
}

// NewEngine creates an Engine. m may be nil.
func NewEngine(segments repo.SegmentStore, embedder embedding.Embedder, m *metrics.Metrics) *Engine {
	return &Engine{segments: segments, embedder: embedder, metrics: m}
}

func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, outcome, err := e.search(ctx, req)
	if e.metrics != nil {
		e.metrics.SearchesTotal.WithLabelValues(outcome).Inc()
		e.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	}
	return res, err
}

func (e *Engine) search(ctx context.Context, req Request) (*Result, string, error) {
	if req.K < MinK {
		return nil, "invalid", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "k must be at least %d, got %d", MinK, req.K)
	}
	if len(req.Text) == 0 && len(req.Embeddings) == 0 {
		return &Result{Text: [][]transcript.Segment{}, Embeddings: [][]transcript.Segment{}}, "empty_query", nil
	}

	ctx, span := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log()
	}()
	span.SetAttr("user", req.User)
	log := logger.FromContext(ctx).With("component", "search-engine", "user", req.User)

	_, loadSpan := tracing.StartChildSpan(ctx, "load_corpus")
	corpus, err := e.segments.GetByUser(ctx, req.User, repo.TimeRange{})
	loadSpan.RecordError(err)
	loadSpan.End()
	if err != nil {
		return nil, "error", fmt.Errorf("loading corpus for %s: %w", req.User, err)
	}
	if len(corpus) == 0 {
		return nil, "no_corpus", fmt.Errorf("user %s: %w", req.User, apperrors.ErrNoCorpus)
	}
	if e.metrics != nil {
		e.metrics.SearchCorpusSize.Observe(float64(len(corpus)))
	}

	flat, err := buildIndex(corpus)
	if err != nil {
		return nil, "error", err
	}

	_, embedSpan := tracing.StartChildSpan(ctx, "embed_queries")
	queries, err := e.resolveQueries(ctx, req, flat.Dim())
	embedSpan.RecordError(err)
	embedSpan.End()
	if err != nil {
		return nil, "error", err
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "rank")
	hits, err := flat.Search(queries, req.K)
	rankSpan.RecordError(err)
	rankSpan.End()
	if err != nil {
		return nil, "error", err
	}

	res := &Result{
		Text:       make([][]transcript.Segment, len(req.Text)),
		Embeddings: make([][]transcript.Segment, len(req.Embeddings)),
	}
	for qi, row := range hits {
		segs := make([]transcript.Segment, len(row))
		for i, h := range row {
			segs[i] = corpus[h.Index]
			if req.ExcludeEmbeddings {
				segs[i] = segs[i].WithoutEmbedding()
			}
		}
		if qi < len(req.Text) {
			res.Text[qi] = segs
		} else {
			res.Embeddings[qi-len(req.Text)] = segs
		}
	}

	log.Debug("search completed", "corpus", len(corpus), "queries", len(queries), "k", req.K)
	return res, "ok", nil
}

// buildIndex decodes and normalizes the corpus. The dimension is taken from
// the first segment and every other segment must match it.
func buildIndex(corpus []transcript.Segment) (*index.Flat, error) {
	vectors := make([][]float32, len(corpus))
	for i, seg := range corpus {
		v, err := transcript.DecodeEmbedding(seg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("segment %s/%d: %w", seg.TranscriptID, seg.SegmentID, err)
		}
		if i > 0 && len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("segment %s/%d has dimension %d, corpus has %d: %w",
				seg.TranscriptID, seg.SegmentID, len(v), len(vectors[0]), apperrors.ErrDimensionMismatch)
		}
		vectors[i] = index.NormalizeL2(v)
	}
	flat := index.NewFlat(len(vectors[0]))
	if err := flat.Add(vectors...); err != nil {
		return nil, err
	}
	return flat, nil
}

// resolveQueries returns the normalized text query vectors followed by the
// normalized raw ones.
func (e *Engine) resolveQueries(ctx context.Context, req Request, dim int) ([][]float32, error) {
	queries := make([][]float32, 0, len(req.Text)+len(req.Embeddings))
	if len(req.Text) > 0 {
		vectors, err := e.embedder.Embed(ctx, req.Text)
		if err != nil {
			return nil, fmt.Errorf("embedding queries: %w: %w", apperrors.ErrUpstream, err)
		}
		if len(vectors) != len(req.Text) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d queries: %w",
				len(vectors), len(req.Text), apperrors.ErrUpstream)
		}
		for i, v := range vectors {
			if len(v) != dim {
				return nil, fmt.Errorf("text query %d embeds to dimension %d, corpus has %d: %w",
					i, len(v), dim, apperrors.ErrDimensionMismatch)
			}
			queries = append(queries, index.NormalizeL2(v))
		}
	}
	for i, v := range req.Embeddings {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding query %d has dimension %d, corpus has %d: %w",
				i, len(v), dim, apperrors.ErrDimensionMismatch)
		}
		queries = append(queries, index.NormalizeL2(v))
	}
	return queries, nil
}
