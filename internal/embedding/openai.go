package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/resilience"
)

const defaultBatchSize = 100

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// OpenAIClient calls {baseURL}/embeddings in batches of cfg.BatchSize.
type OpenAIClient struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	batchSize int
	client    *http.Client
	breaker   *resilience.CircuitBreaker
	logger    *slog.Logger
}

func NewOpenAIClient(cfg config.EmbeddingConfig, breaker *resilience.CircuitBreaker) *OpenAIClient {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("embedding", resilience.CircuitBreakerConfig{})
	}
	return &OpenAIClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batch,
		client:    &http.Client{Timeout: cfg.Timeout},
		breaker:   breaker,
		logger:    slog.Default().With("component", "embedding"),
	}
}

func (c *OpenAIClient) Dimension() int {
	return c.dimension
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := min(i+c.batchSize, len(texts))
		batch, err := resilience.Call(c.breaker, func() ([][]float32, error) {
			return c.embedBatch(ctx, texts[i:end])
		})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	c.logger.Debug("embedded texts", "count", len(texts), "model", c.model)
	return out, nil
}

func (c *OpenAIClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apperrors.StatusError{Service: "embedding service", StatusCode: resp.StatusCode, Body: preview(raw)}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing embedding response (body: %s): %w", preview(raw), err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding service error: %s", parsed.Error.Message)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", d.Index, len(texts))
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding service returned no vector for input %d", i)
		}
	}
	return vectors, nil
}

func preview(b []byte) string {
	if len(b) > 200 {
		return string(b[:200])
	}
	return string(b)
}
