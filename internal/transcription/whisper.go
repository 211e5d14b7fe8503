package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/resilience"
)

type verboseResponse struct {
	Language string           `json:"language"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	ID    int         `json:"id"`
	Start json.Number `json:"start"`
	End   json.Number `json:"end"`
	Text  string      `json:"text"`
}

// WhisperClient posts audio to {baseURL}/audio/transcriptions and asks for
// verbose_json so segment timings come back.
type WhisperClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewWhisperClient(cfg config.TranscriptionConfig, breaker *resilience.CircuitBreaker) *WhisperClient {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("transcription", resilience.CircuitBreakerConfig{})
	}
	return &WhisperClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  slog.Default().With("component", "transcription"),
	}
}

func (c *WhisperClient) Transcribe(ctx context.Context, path, language string) ([]Unit, error) {
	units, err := resilience.Call(c.breaker, func() ([]Unit, error) {
		return c.transcribe(ctx, path, language)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("transcribed audio", "path", path, "units", len(units))
	return units, nil
}

func (c *WhisperClient) transcribe(ctx context.Context, path, language string) ([]Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
	}
	if language != "" {
		fields["language"] = language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("writing field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("copying audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("creating transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &apperrors.StatusError{Service: "transcription service", StatusCode: resp.StatusCode, Body: string(b)}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var parsed verboseResponse
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing transcription response: %w", err)
	}
	return toUnits(parsed.Segments)
}

func toUnits(segs []verboseSegment) ([]Unit, error) {
	units := make([]Unit, 0, len(segs))
	for _, s := range segs {
		start, err := decimal.NewFromString(s.Start.String())
		if err != nil {
			return nil, fmt.Errorf("segment %d start %q: %w", s.ID, s.Start, err)
		}
		end, err := decimal.NewFromString(s.End.String())
		if err != nil {
			return nil, fmt.Errorf("segment %d end %q: %w", s.ID, s.End, err)
		}
		units = append(units, Unit{ID: s.ID, Start: start, End: end, Text: s.Text})
	}
	return units, nil
}
