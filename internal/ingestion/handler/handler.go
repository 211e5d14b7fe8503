// Package handler serves the job and segment endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
)

const maxBodyBytes = 1 << 20

type JobSubmitter interface {
	Submit(ctx context.Context, reqs []ingestion.JobCreate) ([]transcript.Job, error)
}

type StreamProcessor interface {
	ProcessStream(ctx context.Context, streamURL, user string) (*pipeline.Result, error)
}

type Handler struct {
	submitter JobSubmitter
	processor StreamProcessor
	jobs      repo.JobStore
	segments  repo.SegmentStore
	logger    *slog.Logger
}

func New(sub JobSubmitter, proc StreamProcessor, jobs repo.JobStore, segments repo.SegmentStore) *Handler {
	return &Handler{
		submitter: sub,
		processor: proc,
		jobs:      jobs,
		segments:  segments,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the handler's routes under prefix.
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/user-jobs", h.CreateJobs)
	mux.HandleFunc("GET "+prefix+"/user-jobs", h.ListJobs)
	mux.HandleFunc("GET "+prefix+"/user-jobs/{job_id}", h.GetJob)
	mux.HandleFunc("GET "+prefix+"/user-segments", h.ListUserSegments)
	mux.HandleFunc("GET "+prefix+"/transcripts/{transcript_id}/segments", h.ListTranscriptSegments)
	mux.HandleFunc("POST "+prefix+"/dev-process-streams", h.DevProcessStream)
}

func (h *Handler) CreateJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.JobsCreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateJobsCreate(&req); err != nil {
		h.writeValidation(w, err)
		return
	}

	jobs, err := h.submitter.Submit(ctx, req.Jobs)
	if err != nil {
		h.fail(w, log, "job creation failed", err)
		return
	}
	log.Info("jobs created", "count", len(jobs))
	h.writeJSON(w, http.StatusOK, ingestion.JobsResponse{Jobs: jobs})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	user, rng, ok := h.userAndRange(w, r)
	if !ok {
		return
	}
	jobs, err := h.jobs.GetByUser(r.Context(), user, rng)
	if err != nil {
		h.fail(w, logger.FromContext(r.Context()), "listing jobs failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ingestion.JobsResponse{Jobs: jobs})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetByID(r.Context(), r.PathValue("job_id"))
	if err != nil {
		h.fail(w, logger.FromContext(r.Context()), "fetching job failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) ListUserSegments(w http.ResponseWriter, r *http.Request) {
	user, rng, ok := h.userAndRange(w, r)
	if !ok {
		return
	}
	exclude, ok := h.excludeEmbeddings(w, r)
	if !ok {
		return
	}
	segs, err := h.segments.GetByUser(r.Context(), user, rng)
	if err != nil {
		h.fail(w, logger.FromContext(r.Context()), "listing segments failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ingestion.SegmentsResponse{Segments: trim(segs, exclude)})
}

func (h *Handler) ListTranscriptSegments(w http.ResponseWriter, r *http.Request) {
	exclude, ok := h.excludeEmbeddings(w, r)
	if !ok {
		return
	}
	segs, err := h.segments.GetByTranscript(r.Context(), r.PathValue("transcript_id"))
	if err != nil {
		h.fail(w, logger.FromContext(r.Context()), "listing transcript failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ingestion.SegmentsResponse{Segments: trim(segs, exclude)})
}

// DevProcessStream runs the pipeline synchronously without creating a job.
func (h *Handler) DevProcessStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	q := r.URL.Query()
	streamURL, user := q.Get("stream_url"), q.Get("user")
	if err := validator.ValidateStreamURL(streamURL); err != nil {
		h.writeValidation(w, err)
		return
	}
	if msg := validator.CheckUser(user); msg != "" {
		h.writeValidation(w, &validator.ValidationError{Fields: map[string]string{"user": msg}})
		return
	}

	res, err := h.processor.ProcessStream(ctx, streamURL, user)
	if err != nil {
		h.fail(w, log, "processing stream failed", err)
		return
	}
	log.Info("stream processed", "stream_url", streamURL, "transcript_id", res.TranscriptID, "segments", len(res.Segments))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userAndRange(w http.ResponseWriter, r *http.Request) (string, repo.TimeRange, bool) {
	q := r.URL.Query()
	user := q.Get("user")
	if user == "" {
		user = transcript.AnonymousUser
	}
	var rng repo.TimeRange
	fields := map[string]string{}
	for name, dst := range map[string]**time.Time{
		"created_after":  &rng.CreatedAfter,
		"created_before": &rng.CreatedBefore,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := ParseTime(raw)
		if err != nil {
			fields[name] = err.Error()
			continue
		}
		*dst = &t
	}
	if len(fields) > 0 {
		h.writeValidation(w, &validator.ValidationError{Fields: fields})
		return "", rng, false
	}
	return user, rng, true
}

func (h *Handler) excludeEmbeddings(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("exclude_embeddings")
	if raw == "" {
		return true, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		h.writeValidation(w, &validator.ValidationError{Fields: map[string]string{
			"exclude_embeddings": "must be a boolean",
		}})
		return false, false
	}
	return v, true
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ParseTime accepts RFC 3339 timestamps and, as UTC, timestamps or dates
// without a zone.
func ParseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp", raw)
}

func trim(segs []transcript.Segment, exclude bool) []transcript.Segment {
	if !exclude {
		return segs
	}
	out := make([]transcript.Segment, len(segs))
	for i, s := range segs {
		out[i] = s.WithoutEmbedding()
	}
	return out
}

func (h *Handler) fail(w http.ResponseWriter, log *slog.Logger, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err, "status_code", status)
	} else {
		log.Warn(msg, "error", err, "status_code", status)
	}
	h.writeError(w, status, errorMessage(err, status))
}

func errorMessage(err error, status int) string {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Message
	case errors.Is(err, apperrors.ErrNotFound):
		return "not found"
	case errors.Is(err, apperrors.ErrAmbiguous):
		return "job id matches more than one job"
	case errors.Is(err, apperrors.ErrUpstream):
		return "upstream service failed"
	case errors.Is(err, apperrors.ErrPersistence):
		return "storage unavailable"
	default:
		return http.StatusText(status)
	}
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
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
