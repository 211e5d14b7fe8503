package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/bolt"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

type recordingEngine struct {
	req    searcher.Request
	calls  int
	result *searcher.Result
	err    error
}

func (e *recordingEngine) Search(ctx context.Context, req searcher.Request) (*searcher.Result, error) {
	e.calls++
	e.req = req
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &searcher.Result{Text: [][]transcript.Segment{}, Embeddings: [][]transcript.Segment{}}, nil
}

type recordingTracker struct {
	events []analytics.SearchEvent
}

func (t *recordingTracker) TrackSearch(event analytics.SearchEvent) {
	t.events = append(t.events, event)
}

func serve(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux, "/api/v1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body)))
	return rec
}

func TestSearchRequestMapping(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantUser    string
		wantK       int
		wantExclude bool
		wantRaw     int
	}{
		{"defaults", `{"text":["fox"]}`, transcript.AnonymousUser, 3, true, 0},
		{"explicit", `{"user":"alice","k":5,"text":["fox"],"exclude_embeddings":false}`, "alice", 5, false, 0},
		{"k capped", `{"k":1000,"text":["fox"]}`, transcript.AnonymousUser, 10, true, 0},
		{"raw array", `{"embeddings":[[0.1,0.2]]}`, transcript.AnonymousUser, 3, true, 1},
		{"raw string", `{"embeddings":["[0.1,0.2]",[1,2]]}`, transcript.AnonymousUser, 3, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &recordingEngine{}
			rec := serve(t, New(eng, nil, config.SearchConfig{DefaultK: 3, MaxK: 10}), tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
			}
			if eng.req.User != tt.wantUser || eng.req.K != tt.wantK || eng.req.ExcludeEmbeddings != tt.wantExclude {
				t.Errorf("request = %+v", eng.req)
			}
			if len(eng.req.Embeddings) != tt.wantRaw {
				t.Errorf("raw queries = %d, want %d", len(eng.req.Embeddings), tt.wantRaw)
			}
		})
	}
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	eng := &recordingEngine{}
	tracker := &recordingTracker{}
	rec := serve(t, New(eng, tracker, config.SearchConfig{DefaultK: 3, MaxK: 10}), `{"user":"alice","text":[],"embeddings":[]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"text":[],"embeddings":[]}` {
		t.Errorf("body = %s", rec.Body)
	}
	if eng.calls != 0 {
		t.Errorf("engine called %d times", eng.calls)
	}
	if len(tracker.events) != 1 || tracker.events[0].Outcome != analytics.OutcomeEmptyQuery {
		t.Errorf("tracked %+v", tracker.events)
	}
}

func TestSearchRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"text":`},
		{"k too small", `{"k":1,"text":["fox"]}`},
		{"bad raw", `{"embeddings":[{"x":1}]}`},
		{"bad raw string", `{"embeddings":["nope"]}`},
		{"empty raw", `{"embeddings":[[]]}`},
		{"blank user", `{"user":"   ","text":["fox"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &recordingEngine{}
			rec := serve(t, New(eng, nil, config.SearchConfig{DefaultK: 3, MaxK: 10}), tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if eng.calls != 0 {
				t.Errorf("engine reached")
			}
		})
	}
}

func TestSearchErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
		wantOutcome string
	}{
		{"no corpus", apperrors.ErrNoCorpus, http.StatusNotFound, "no matches available", analytics.OutcomeNoCorpus},
		{"dimension", apperrors.ErrDimensionMismatch, http.StatusUnprocessableEntity, "embedding dimension mismatch", analytics.OutcomeInvalid},
		{"upstream", apperrors.ErrUpstream, http.StatusBadGateway, "embedding service failed", analytics.OutcomeError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "Internal Server Error", analytics.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &recordingTracker{}
			rec := serve(t, New(&recordingEngine{err: tt.err}, tracker, config.SearchConfig{DefaultK: 3, MaxK: 10}), `{"text":["fox"]}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["error"] != tt.wantMessage {
				t.Errorf("error = %q, want %q", body["error"], tt.wantMessage)
			}
			if len(tracker.events) != 1 || tracker.events[0].Outcome != tt.wantOutcome {
				t.Errorf("tracked %+v", tracker.events)
			}
		})
	}
}

func TestSearchOverStore(t *testing.T) {
	s, err := bolt.Open(config.BoltConfig{Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	vectors := []string{"[1,0]", "[0,1]", "[1,1]"}
	for i, v := range vectors {
		_, err := s.Segments().Upsert(context.Background(), &transcript.Segment{
			TranscriptID: "t1",
			SegmentID:    i,
			User:         "bob",
			Start:        decimal.NewFromInt(int64(i)),
			End:          decimal.NewFromInt(int64(i + 1)),
			Text:         "segment",
			Embedding:    v,
		}, true)
		if err != nil {
			t.Fatalf("seeding segment %d: %v", i, err)
		}
	}

	engine := searcher.NewEngine(s.Segments(), embedding.NewHashEmbedder(2), nil)
	h := New(engine, nil, config.SearchConfig{DefaultK: 2, MaxK: 10})

	rec := serve(t, h, `{"user":"bob","embeddings":[[3,0]]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res searcher.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if len(res.Text) != 0 || len(res.Embeddings) != 1 || len(res.Embeddings[0]) != 2 {
		t.Fatalf("result shape = %+v", res)
	}
	if res.Embeddings[0][0].SegmentID != 0 || res.Embeddings[0][1].SegmentID != 2 {
		t.Errorf("ranking = %d,%d, want 0,2", res.Embeddings[0][0].SegmentID, res.Embeddings[0][1].SegmentID)
	}
	if res.Embeddings[0][0].Embedding != "" {
		t.Error("embedding returned despite exclude default")
	}

	rec = serve(t, h, `{"user":"nobody","text":["fox"]}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}
}
