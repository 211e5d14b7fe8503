package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/resilience"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o600); err != nil {
		t.Fatalf("writing audio: %v", err)
	}
	return path
}

func TestWhisperClientParsesSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing form: %v", err)
			return
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q", got)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file: %v", err)
		}
		w.Write([]byte(`{"language":"en","segments":[
			{"id":0,"start":0.0,"end":2.5,"text":"hello"},
			{"id":1,"start":2.5,"end":5.12,"text":"world"}]}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(config.TranscriptionConfig{BaseURL: srv.URL, Model: "whisper-1"}, nil)
	units, err := c.Transcribe(context.Background(), writeAudio(t), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units", len(units))
	}
	if units[1].ID != 1 || units[1].Text != "world" {
		t.Errorf("unexpected unit %+v", units[1])
	}
	if units[1].End.String() != "5.12" || units[0].End.String() != "2.5" {
		t.Errorf("offsets not exact: %s, %s", units[0].End, units[1].End)
	}
}

func TestWhisperClientOpensBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("test", resilience.CircuitBreakerConfig{FailureThreshold: 2})
	c := NewWhisperClient(config.TranscriptionConfig{BaseURL: srv.URL}, cb)
	path := writeAudio(t)
	for i := 0; i < 3; i++ {
		if _, err := c.Transcribe(context.Background(), path, "en"); err == nil {
			t.Fatal("expected an error")
		}
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2 before the breaker opened", calls)
	}
	if cb.GetState() != resilience.StateOpen {
		t.Errorf("breaker state = %v", cb.GetState())
	}
}

func TestWhisperClientMissingFile(t *testing.T) {
	c := NewWhisperClient(config.TranscriptionConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	if _, err := c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope"), "en"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
