package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
)

func writeConfig(t *testing.T) (configPath, audioURL string) {
	t.Helper()
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3 fake mp3 bytes"))
	}))
	t.Cleanup(media.Close)

	whisper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"language":"en","segments":[
			{"id":0,"start":0.0,"end":1.5,"text":"red fox"},
			{"id":1,"start":1.5,"end":3.25,"text":"lazy dog sleeps"},
			{"id":2,"start":3.25,"end":6.0,"text":"distant thunder rolls"}]}`))
	}))
	t.Cleanup(whisper.Close)

	dir := t.TempDir()
	yaml := fmt.Sprintf(`store:
  backend: bolt
bolt:
  path: %s
dispatch:
  backend: inline
fetch:
  backend: http
  tempDir: %s
transcription:
  baseURL: %s
embedding:
  backend: hash
  dimension: 64
logging:
  level: error
`, filepath.Join(dir, "cli.db"), dir, whisper.URL)

	configPath = filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, media.URL + "/talk.mp3"
}

// run executes one command line and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	jobsUser, jobsAfter, jobsBefore = "", "", ""
	segmentsUser, segmentsAfter, segmentsBefore, segmentsEmbeddings = "", "", "", false
	searchUser, searchK, searchText, searchEmbeddings, searchWithVector = "", 0, nil, nil, false
	processUser, processQuiet, processWithVecs = "", false, false

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

func TestMigrate(t *testing.T) {
	configPath, _ := writeConfig(t)
	out, err := run(t, "--config", configPath, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "bolt store is up to date") {
		t.Errorf("output = %q", out)
	}
}

func TestSubmitThenInspect(t *testing.T) {
	configPath, audioURL := writeConfig(t)

	out, err := run(t, "--config", configPath, "jobs", "submit", "--user", "alice", audioURL)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var created ingestion.JobsResponse
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decoding submit output %q: %v", out, err)
	}
	if len(created.Jobs) != 1 || created.Jobs[0].User != "alice" {
		t.Fatalf("created = %+v", created.Jobs)
	}

	// Inline jobs finish before submit returns.
	out, err = run(t, "--config", configPath, "jobs", "get", created.Jobs[0].JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var job transcript.Job
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatal(err)
	}
	if job.Status != transcript.StatusDone {
		t.Errorf("status = %q, want done", job.Status)
	}

	out, err = run(t, "--config", configPath, "jobs", "list", "--user", "alice")
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	var listed ingestion.JobsResponse
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Jobs) != 1 {
		t.Errorf("listed %d jobs, want 1", len(listed.Jobs))
	}

	out, err = run(t, "--config", configPath, "segments", "list", "--user", "alice")
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	var segs ingestion.SegmentsResponse
	if err := json.Unmarshal([]byte(out), &segs); err != nil {
		t.Fatal(err)
	}
	if len(segs.Segments) != 3 {
		t.Fatalf("listed %d segments, want 3", len(segs.Segments))
	}
	for _, s := range segs.Segments {
		if s.Embedding != "" {
			t.Errorf("segment %d carries an embedding", s.SegmentID)
		}
	}

	out, err = run(t, "--config", configPath, "segments", "transcript", segs.Segments[0].TranscriptID, "--embeddings")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &segs); err != nil {
		t.Fatal(err)
	}
	if len(segs.Segments) != 3 || segs.Segments[0].Embedding == "" {
		t.Errorf("transcript segments = %+v", segs.Segments)
	}

	out, err = run(t, "--config", configPath, "search", "--user", "alice", "-k", "2", "-t", "red fox")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var res searcher.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Text) != 1 || len(res.Text[0]) != 2 {
		t.Fatalf("result rows = %+v", res.Text)
	}
	if res.Text[0][0].Text != "red fox" {
		t.Errorf("best match = %q, want red fox", res.Text[0][0].Text)
	}

	if _, err := run(t, "--config", configPath, "search", "--user", "bob", "-t", "red fox"); err == nil {
		t.Error("search over an empty corpus succeeded")
	}
}

func TestProcess(t *testing.T) {
	configPath, audioURL := writeConfig(t)

	out, err := run(t, "--config", configPath, "process", "--quiet", "--user", "carol", audioURL)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	var segs ingestion.SegmentsResponse
	if err := json.Unmarshal([]byte(out), &segs); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if len(segs.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs.Segments))
	}
	if segs.Segments[0].User != "carol" || segs.Segments[0].Embedding != "" {
		t.Errorf("first segment = %+v", segs.Segments[0])
	}

	if _, err := run(t, "--config", configPath, "process", "ftp://example.com/a.mp3"); err == nil {
		t.Error("non-http stream url accepted")
	}
}

func TestParseEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{"json array", "[0.5, 1, -2]", 3, false},
		{"padded", "  [1, 2] ", 2, false},
		{"empty array", "[]", 0, true},
		{"bad json", "[1,", 0, true},
		{"garbage", "0.5,1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseEmbedding(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(v) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(v), tt.wantLen)
			}
		})
	}
}

func TestTimeRange(t *testing.T) {
	r, err := timeRange("2024-01-01", "")
	if err != nil {
		t.Fatal(err)
	}
	if r.CreatedAfter == nil || r.CreatedBefore != nil {
		t.Errorf("range = %+v", r)
	}
	if _, err := timeRange("", "yesterday"); err == nil {
		t.Error("accepted an unparsable --before")
	}
}
