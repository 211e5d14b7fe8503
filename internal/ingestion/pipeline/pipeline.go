// Package pipeline turns one stream URL into a durable transcript: fetch,
// transcribe, embed, persist every segment, and only then mark the job done.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/fetch"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcription"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/tracing"
)

const defaultMaxConcurrentWrites = 16

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Jobs        repo.JobStore
	Segments    repo.SegmentStore
	Fetcher     fetch.Fetcher
	Transcriber transcription.Transcriber
	Embedder    embedding.Embedder
	Metrics     *metrics.Metrics
}

// Result describes one completed run.
type Result struct {
	TranscriptID string
	Segments     []transcript.Segment
}

// ProgressFunc is called after each segment write with the number written
// so far and the total. It may be called from several goroutines.
type ProgressFunc func(written, total int)

type Pipeline struct {
	deps      Deps
	language  string
	maxWrites int
	progress  ProgressFunc
	logger    *slog.Logger
}

func New(deps Deps, cfg config.PipelineConfig) *Pipeline {
	maxWrites := cfg.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = defaultMaxConcurrentWrites
	}
	return &Pipeline{
		deps:      deps,
		language:  cfg.Language,
		maxWrites: maxWrites,
		logger:    slog.Default().With("component", "pipeline"),
	}
}

// WithProgress returns a copy of p that reports segment writes to fn.
func (p *Pipeline) WithProgress(fn ProgressFunc) *Pipeline {
	cp := *p
	cp.progress = fn
	return &cp
}

// ProcessJob loads jobID and runs it. A job that is already done is
// returned as is, so a redelivered dispatch does not write a second
// transcript.
func (p *Pipeline) ProcessJob(ctx context.Context, jobID string) (*transcript.Job, error) {
	job, err := p.deps.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if job.Status == transcript.StatusDone {
		logger.FromContext(ctx).Info("job already done, skipping", "job_id", jobID)
		return job, nil
	}
	if _, err := p.Process(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Process runs job's stream through the pipeline and marks job done once
// every segment is stored. On any failure the job keeps its processing
// status. job.Status is updated in place on success.
func (p *Pipeline) Process(ctx context.Context, job *transcript.Job) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "process_job", logger.RequestID(ctx))
	span.SetAttr("job_id", job.JobID)
	defer func() {
		span.End()
		span.Log()
	}()
	log := logger.FromContext(ctx).With("component", "pipeline", "job_id", job.JobID)

	res, err := p.run(ctx, job.StreamURL, job.User)
	if err != nil {
		span.RecordError(err)
		p.observeOutcome(err)
		log.Error("pipeline run failed, job left processing", "stream_url", job.StreamURL, "error", err)
		return nil, err
	}

	done := *job
	done.Status = transcript.StatusDone
	if _, err := p.deps.Jobs.Upsert(ctx, &done, false); err != nil {
		err = fmt.Errorf("marking job %s done: %w: %w", job.JobID, apperrors.ErrPersistence, err)
		span.RecordError(err)
		p.observeOutcome(err)
		return nil, err
	}
	job.Status = transcript.StatusDone
	p.observeOutcome(nil)

	log.Info("job done", "transcript_id", res.TranscriptID, "segments", len(res.Segments))
	return res, nil
}

// ProcessStream runs a stream without a job. It is the development path and
// leaves no job record.
func (p *Pipeline) ProcessStream(ctx context.Context, streamURL, user string) (*Result, error) {
	if user == "" {
		user = transcript.AnonymousUser
	}
	ctx, span := tracing.StartSpan(ctx, "process_stream", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log()
	}()
	return p.run(ctx, streamURL, user)
}

func (p *Pipeline) run(ctx context.Context, streamURL, user string) (*Result, error) {
	var audio *fetch.Audio
	err := p.stage(ctx, "fetch", func(ctx context.Context) error {
		var err error
		audio, err = p.deps.Fetcher.Fetch(ctx, streamURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w: %w", streamURL, apperrors.ErrUpstream, err)
	}
	defer func() {
		if cerr := audio.Close(); cerr != nil {
			p.logger.Warn("removing downloaded audio", "path", audio.Path, "error", cerr)
		}
	}()

	var units []transcription.Unit
	err = p.stage(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		units, err = p.deps.Transcriber.Transcribe(ctx, audio.Path, p.language)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("transcribing %s: %w: %w", streamURL, apperrors.ErrUpstream, err)
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}
	var vectors [][]float32
	if len(texts) > 0 {
		err = p.stage(ctx, "embed", func(ctx context.Context) error {
			var err error
			vectors, err = p.deps.Embedder.Embed(ctx, texts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w: %w", streamURL, apperrors.ErrUpstream, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d segments: %w",
				len(vectors), len(texts), apperrors.ErrUpstream)
		}
	}

	res := &Result{
		TranscriptID: uuid.NewString(),
		Segments:     make([]transcript.Segment, len(units)),
	}
	createdAt := transcript.Now()
	for i, u := range units {
		enc, err := transcript.EncodeEmbedding(vectors[i])
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w: %w", u.ID, apperrors.ErrUpstream, err)
		}
		res.Segments[i] = transcript.Segment{
			TranscriptID: res.TranscriptID,
			SegmentID:    u.ID,
			User:         user,
			CreatedAt:    createdAt,
			StreamURL:    streamURL,
			Start:        u.Start,
			End:          u.End,
			Text:         u.Text,
			Embedding:    enc,
		}
	}

	err = p.stage(ctx, "persist", func(ctx context.Context) error {
		return p.persist(ctx, res.Segments)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting transcript %s: %w: %w", res.TranscriptID, apperrors.ErrPersistence, err)
	}
	return res, nil
}

// persist writes every segment concurrently. The first failure cancels the
// remaining writes.
func (p *Pipeline) persist(ctx context.Context, segs []transcript.Segment) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWrites)

	var written atomic.Int64
	for i := range segs {
		g.Go(func() error {
			if _, err := p.deps.Segments.Upsert(gctx, &segs[i], false); err != nil {
				return fmt.Errorf("segment %d: %w", segs[i].SegmentID, err)
			}
			n := written.Add(1)
			if p.deps.Metrics != nil {
				p.deps.Metrics.SegmentsPersisted.Inc()
			}
			if p.progress != nil {
				p.progress(int(n), len(segs))
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	start := time.Now()
	err := fn(ctx)
	span.RecordError(err)
	span.End()
	if p.deps.Metrics != nil {
		p.deps.Metrics.PipelineStageLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return err
}

func (p *Pipeline) observeOutcome(err error) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.JobsProcessedTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, apperrors.ErrUpstream):
		return "upstream_error"
	case errors.Is(err, apperrors.ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}
