package transcript

import (
	"encoding/json"
	"fmt"
	"math"
)

// EncodeEmbedding serializes a vector as a JSON array of numbers, the
// storage form of Segment.Embedding.
func EncodeEmbedding(vec []float32) (string, error) {
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return "", fmt.Errorf("embedding component %d is not finite", i)
		}
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("encoding embedding: %w", err)
	}
	return string(b), nil
}

// DecodeEmbedding parses the JSON array form back into a vector.
func DecodeEmbedding(s string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	return vec, nil
}
