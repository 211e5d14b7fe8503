package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion/submitter"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher"
	searchhandler "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/ratelimit"
)

// upstreams fakes the media host and the transcription service.
func upstreams(t *testing.T) (audioURL, whisperURL string) {
	t.Helper()
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3 fake mp3 bytes"))
	}))
	t.Cleanup(media.Close)

	whisper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"language":"en","segments":[
			{"id":0,"start":0.0,"end":1.5,"text":"red fox"},
			{"id":1,"start":1.5,"end":3.25,"text":"lazy dog sleeps"},
			{"id":2,"start":3.25,"end":6.0,"text":"distant thunder rolls"}]}`))
	}))
	t.Cleanup(whisper.Close)
	return media.URL + "/talk.mp3", whisper.URL
}

func testConfig(t *testing.T, whisperURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Store:         config.StoreConfig{Backend: config.StoreBolt},
		Bolt:          config.BoltConfig{Path: filepath.Join(t.TempDir(), "api.db")},
		Dispatch:      config.DispatchConfig{Backend: config.DispatchInline, RetryAttempts: 1},
		Worker:        config.WorkerConfig{Concurrency: 1, JobTimeout: 10 * time.Second},
		Pipeline:      config.PipelineConfig{Language: "en", MaxConcurrentWrites: 4},
		Fetch:         config.FetchConfig{Backend: config.FetchHTTP, TempDir: t.TempDir(), Timeout: 5 * time.Second},
		Transcription: config.TranscriptionConfig{BaseURL: whisperURL, Model: "whisper-1", Timeout: 5 * time.Second},
		Embedding:     config.EmbeddingConfig{Backend: config.EmbeddingHash, Dimension: 64},
		Search:        config.SearchConfig{DefaultK: 3, MaxK: 10},
	}
}

type testAPI struct {
	handler    http.Handler
	aggregator *analytics.Aggregator
}

func newTestAPI(t *testing.T, cfg *config.Config, limiter *ratelimit.Limiter) *testAPI {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())

	store, err := bootstrap.OpenStore(cfg)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipe, err := bootstrap.Pipeline(cfg, store, m)
	if err != nil {
		t.Fatalf("building pipeline: %v", err)
	}
	dispatcher, err := bootstrap.Dispatcher(cfg, nil, pipe, m)
	if err != nil {
		t.Fatalf("building dispatcher: %v", err)
	}
	t.Cleanup(func() { dispatcher.Close() })

	embedder, err := bootstrap.Embedder(cfg.Embedding, m)
	if err != nil {
		t.Fatal(err)
	}
	agg := analytics.NewAggregator()
	events := &directEvents{agg: agg}

	checker := health.NewChecker()
	bootstrap.RegisterChecks(checker, cfg, store, nil)

	sub := submitter.New(store.Jobs(), dispatcher, cfg.Dispatch, m, events)
	return &testAPI{
		handler: New(Deps{
			Ingestion: ingesthandler.New(sub, pipe, store.Jobs(), store.Segments()),
			Search:    searchhandler.New(searcher.NewEngine(store.Segments(), embedder, m), events, cfg.Search),
			Analytics: analytics.NewHandler(agg),
			Checker:   checker,
			Metrics:   m,
			Limiter:   limiter,
		}),
		aggregator: agg,
	}
}

// directEvents feeds the aggregator without Kafka in between.
type directEvents struct {
	agg *analytics.Aggregator
}

func (d *directEvents) JobCreated(job transcript.Job) {
	d.agg.RecordJob(analytics.JobEvent{Type: analytics.EventJobCreated, JobID: job.JobID, User: job.User})
}

func (d *directEvents) TrackSearch(event analytics.SearchEvent) {
	d.agg.RecordSearch(event)
}

func (a *testAPI) do(t *testing.T, method, target, body string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	if out != nil && rec.Code < 300 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, target, err)
		}
	}
	return rec.Code
}

func TestIngestThenSearch(t *testing.T) {
	audioURL, whisperURL := upstreams(t)
	a := newTestAPI(t, testConfig(t, whisperURL), nil)

	var created ingestion.JobsResponse
	body := `{"jobs":[{"stream_url":"` + audioURL + `","user":"alice"}]}`
	if code := a.do(t, http.MethodPost, "/api/v1/user-jobs", body, &created); code != http.StatusOK {
		t.Fatalf("create jobs status = %d", code)
	}
	if len(created.Jobs) != 1 || created.Jobs[0].Status != transcript.StatusProcessing {
		t.Fatalf("created = %+v", created.Jobs)
	}
	jobID := created.Jobs[0].JobID

	deadline := time.Now().Add(5 * time.Second)
	for {
		var job transcript.Job
		if code := a.do(t, http.MethodGet, "/api/v1/user-jobs/"+jobID, "", &job); code != http.StatusOK {
			t.Fatalf("get job status = %d", code)
		}
		if job.Status == transcript.StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still %s", jobID, job.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	var segs ingestion.SegmentsResponse
	if code := a.do(t, http.MethodGet, "/api/v1/user-segments?user=alice", "", &segs); code != http.StatusOK {
		t.Fatalf("list segments status = %d", code)
	}
	if len(segs.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs.Segments))
	}
	for _, s := range segs.Segments {
		if s.Embedding != "" {
			t.Errorf("segment %d listed with embedding", s.SegmentID)
		}
	}

	var res searcher.Result
	if code := a.do(t, http.MethodPost, "/api/v1/search", `{"user":"alice","k":2,"text":["red fox"]}`, &res); code != http.StatusOK {
		t.Fatalf("search status = %d", code)
	}
	if len(res.Text) != 1 || len(res.Text[0]) != 2 {
		t.Fatalf("search shape = %+v", res)
	}
	if res.Text[0][0].Text != "red fox" {
		t.Errorf("best match = %q, want %q", res.Text[0][0].Text, "red fox")
	}

	if code := a.do(t, http.MethodPost, "/api/v1/search", `{"user":"bob","text":["fox"]}`, nil); code != http.StatusNotFound {
		t.Errorf("search without corpus = %d, want 404", code)
	}

	var stats analytics.AggregatedStats
	if code := a.do(t, http.MethodGet, "/api/v1/analytics", "", &stats); code != http.StatusOK {
		t.Fatalf("analytics status = %d", code)
	}
	if stats.TotalJobsCreated != 1 || stats.TotalSearches != 2 || stats.NoCorpusCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHealthRoutes(t *testing.T) {
	_, whisperURL := upstreams(t)
	a := newTestAPI(t, testConfig(t, whisperURL), nil)

	var status map[string]string
	if code := a.do(t, http.MethodGet, "/health", "", &status); code != http.StatusOK || status["status"] != "OK" {
		t.Errorf("GET /health = %d %v", code, status)
	}
	var report health.Report
	if code := a.do(t, http.MethodGet, "/health/ready", "", &report); code != http.StatusOK {
		t.Errorf("GET /health/ready = %d", code)
	}
	if _, ok := report.Components[config.StoreBolt]; !ok {
		t.Errorf("ready report lacks the store check: %+v", report)
	}
}

func TestRateLimitApplies(t *testing.T) {
	_, whisperURL := upstreams(t)
	limiter := ratelimit.New(1, time.Minute)
	defer limiter.Close()
	a := newTestAPI(t, testConfig(t, whisperURL), limiter)

	if code := a.do(t, http.MethodPost, "/api/v1/search", `{}`, nil); code != http.StatusOK {
		t.Fatalf("first search = %d", code)
	}
	if code := a.do(t, http.MethodPost, "/api/v1/search", `{}`, nil); code != http.StatusTooManyRequests {
		t.Errorf("second search = %d, want 429", code)
	}
}

func TestUnknownJob(t *testing.T) {
	_, whisperURL := upstreams(t)
	a := newTestAPI(t, testConfig(t, whisperURL), nil)
	if code := a.do(t, http.MethodGet, "/api/v1/user-jobs/nope", "", nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}
