// Package embedding turns text into dense vectors. OpenAIClient talks to any
// OpenAI-compatible /embeddings endpoint; HashEmbedder is a local
// deterministic model for development and tests.
package embedding

import "context"

// Embedder maps each text to one vector of Dimension() floats, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
