// Package handler serves POST /search over the search engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/middleware"
)

// maxBodyBytes bounds a search request; raw embeddings make bodies large.
const maxBodyBytes = 16 << 20

type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Result, error)
}

// SearchTracker is satisfied by *analytics.Collector.
type SearchTracker interface {
	TrackSearch(event analytics.SearchEvent)
}

// SearchRequest is the POST /search body. Each embeddings entry is either a
// JSON array of numbers or a string holding one, the form segments store.
type SearchRequest struct {
	User              string            `json:"user"`
	K                 *int              `json:"k"`
	Text              []string          `json:"text"`
	Embeddings        []json.RawMessage `json:"embeddings"`
	ExcludeEmbeddings *bool             `json:"exclude_embeddings"`
}

type Handler struct {
	tracker  SearchTracker
	engine   Searcher
	defaultK int
	maxK     int
	logger   *slog.Logger
}

// New creates a Handler. tracker may be nil.
func New(engine Searcher, tracker SearchTracker, cfg config.SearchConfig) *Handler {
	defaultK := cfg.DefaultK
	if defaultK < searcher.MinK {
		defaultK = 3
	}
	maxK := cfg.MaxK
	if maxK < defaultK {
		maxK = defaultK
	}
	return &Handler{
		tracker:  tracker,
		engine:   engine,
		defaultK: defaultK,
		maxK:     maxK,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts POST {prefix}/search.
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/search", h.Search)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var body SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.User == "" {
		body.User = transcript.AnonymousUser
	}
	if msg := validator.CheckUser(body.User); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	k := h.defaultK
	if body.K != nil {
		k = *body.K
	}
	if k > h.maxK {
		k = h.maxK
	}
	if k < searcher.MinK {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("k must be at least %d", searcher.MinK))
		h.track(ctx, body, k, 0, analytics.OutcomeInvalid, start)
		return
	}

	embeddings, err := decodeEmbeddings(body.Embeddings)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		h.track(ctx, body, k, 0, analytics.OutcomeInvalid, start)
		return
	}

	if len(body.Text) == 0 && len(embeddings) == 0 {
		h.writeJSON(w, http.StatusOK, &searcher.Result{
			Text:       [][]transcript.Segment{},
			Embeddings: [][]transcript.Segment{},
		})
		h.track(ctx, body, k, 0, analytics.OutcomeEmptyQuery, start)
		return
	}

	exclude := true
	if body.ExcludeEmbeddings != nil {
		exclude = *body.ExcludeEmbeddings
	}

	result, err := h.engine.Search(ctx, searcher.Request{
		User:              body.User,
		K:                 k,
		Text:              body.Text,
		Embeddings:        embeddings,
		ExcludeEmbeddings: exclude,
	})
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("search failed", "user", body.User, "error", err, "status_code", status)
		} else {
			log.Warn("search rejected", "user", body.User, "error", err, "status_code", status)
		}
		h.writeError(w, status, errorMessage(err, status))
		h.track(ctx, body, k, 0, outcome(err), start)
		return
	}

	returned := 0
	for _, row := range result.Text {
		returned += len(row)
	}
	for _, row := range result.Embeddings {
		returned += len(row)
	}
	log.Info("search completed",
		"user", body.User,
		"k", k,
		"text_queries", len(body.Text),
		"embedding_queries", len(embeddings),
		"returned", returned,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.track(ctx, body, k, returned, analytics.OutcomeOK, start)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) track(ctx context.Context, body SearchRequest, k, returned int, outcome string, start time.Time) {
	if h.tracker == nil {
		return
	}
	h.tracker.TrackSearch(analytics.SearchEvent{
		User:             body.User,
		K:                k,
		TextQueries:      body.Text,
		EmbeddingQueries: len(body.Embeddings),
		Returned:         returned,
		Outcome:          outcome,
		LatencyMs:        time.Since(start).Milliseconds(),
		Timestamp:        time.Now().UTC(),
		RequestID:        middleware.GetRequestID(ctx),
	})
}

func decodeEmbeddings(raw []json.RawMessage) ([][]float32, error) {
	out := make([][]float32, 0, len(raw))
	for i, msg := range raw {
		var vec []float32
		var encoded string
		if err := json.Unmarshal(msg, &encoded); err == nil {
			vec, err = transcript.DecodeEmbedding(encoded)
			if err != nil {
				return nil, fmt.Errorf("embeddings[%d]: %v", i, err)
			}
		} else if err := json.Unmarshal(msg, &vec); err != nil {
			return nil, fmt.Errorf("embeddings[%d] must be an array of numbers", i)
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("embeddings[%d] is empty", i)
		}
		out = append(out, vec)
	}
	return out, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNoCorpus):
		return analytics.OutcomeNoCorpus
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrDimensionMismatch):
		return analytics.OutcomeInvalid
	default:
		return analytics.OutcomeError
	}
}

func errorMessage(err error, status int) string {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Message
	case errors.Is(err, apperrors.ErrNoCorpus):
		return apperrors.ErrNoCorpus.Error()
	case errors.Is(err, apperrors.ErrDimensionMismatch):
		return err.Error()
	case errors.Is(err, apperrors.ErrUpstream):
		return "embedding service failed"
	case errors.Is(err, apperrors.ErrPersistence):
		return "storage unavailable"
	default:
		return http.StatusText(status)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
