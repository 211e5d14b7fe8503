package submitter

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/bolt"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	ids      []string
	failures int
}

func (d *recordingDispatcher) Enqueue(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return errors.New("queue unavailable")
	}
	d.ids = append(d.ids, jobID)
	return nil
}

func (d *recordingDispatcher) Close() error { return nil }

type failingJobs struct {
	repo.JobStore
	failURL string
}

func (f *failingJobs) Upsert(ctx context.Context, job *transcript.Job, failIfExists bool) (*transcript.Job, error) {
	if job.StreamURL == f.failURL {
		return nil, errors.New("write rejected")
	}
	return f.JobStore.Upsert(ctx, job, failIfExists)
}

type countingSink struct{ n int }

func (c *countingSink) JobCreated(transcript.Job) { c.n++ }

func openStore(t *testing.T) *bolt.Store {
	t.Helper()
	s, err := bolt.Open(config.BoltConfig{Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var fastRetry = config.DispatchConfig{RetryAttempts: 3, RetryDelay: time.Millisecond}

func TestSubmitCreatesAndDispatches(t *testing.T) {
	store := openStore(t)
	d := &recordingDispatcher{}
	sink := &countingSink{}
	s := New(store.Jobs(), d, fastRetry, nil, sink)

	jobs, err := s.Submit(context.Background(), []ingestion.JobCreate{
		{StreamURL: "https://example/a", User: "alice"},
		{StreamURL: "https://example/b"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(jobs) != 2 || len(d.ids) != 2 || sink.n != 2 {
		t.Fatalf("jobs=%d dispatched=%d events=%d", len(jobs), len(d.ids), sink.n)
	}
	if jobs[0].User != "alice" || jobs[1].User != transcript.AnonymousUser {
		t.Errorf("users = %s, %s", jobs[0].User, jobs[1].User)
	}
	if !jobs[0].CreatedAt.Equal(jobs[1].CreatedAt) {
		t.Error("jobs of one request should share created_at")
	}
	for _, j := range jobs {
		if j.Status != transcript.StatusProcessing || j.JobID == "" {
			t.Errorf("unexpected job %+v", j)
		}
		stored, err := store.Jobs().GetByID(context.Background(), j.JobID)
		if err != nil || stored.StreamURL != j.StreamURL {
			t.Errorf("stored job %v: %v", stored, err)
		}
	}
}

func TestSubmitCreateFailureDispatchesNothing(t *testing.T) {
	store := openStore(t)
	d := &recordingDispatcher{}
	s := New(&failingJobs{JobStore: store.Jobs(), failURL: "https://example/bad"}, d, fastRetry, nil, nil)

	_, err := s.Submit(context.Background(), []ingestion.JobCreate{
		{StreamURL: "https://example/ok"},
		{StreamURL: "https://example/bad"},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(d.ids) != 0 {
		t.Errorf("dispatched %v after a failed create", d.ids)
	}
}

func TestSubmitRetriesDispatch(t *testing.T) {
	store := openStore(t)
	d := &recordingDispatcher{failures: 2}
	s := New(store.Jobs(), d, fastRetry, nil, nil)

	jobs, err := s.Submit(context.Background(), []ingestion.JobCreate{{StreamURL: "https://example/a"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(d.ids) != 1 || d.ids[0] != jobs[0].JobID {
		t.Errorf("dispatched %v", d.ids)
	}
}

func TestSubmitDispatchFailureKeepsJob(t *testing.T) {
	store := openStore(t)
	d := &recordingDispatcher{failures: 100}
	s := New(store.Jobs(), d, fastRetry, nil, nil)

	jobs, err := s.Submit(context.Background(), []ingestion.JobCreate{{StreamURL: "https://example/a"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	stored, err := store.Jobs().GetByID(context.Background(), jobs[0].JobID)
	if err != nil || stored.Status != transcript.StatusProcessing {
		t.Errorf("job = %+v, %v", stored, err)
	}
}
