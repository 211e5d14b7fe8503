package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder projects lower-cased word tokens into a fixed number of
// signed buckets. Texts sharing words land close together, which is enough
// for local runs without a model server.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 768
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimension))
		if sum&(1<<63) != 0 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}
	return v
}
