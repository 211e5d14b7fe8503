// Package index is an exact, in-memory nearest-neighbour index over dense
// vectors. It is built per query batch and never shared.
package index

import (
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

// Hit is one match: the position of the vector in insertion order and its
// squared L2 distance to the query.
type Hit struct {
	Index    int
	Distance float32
}

// Flat scans every stored vector for each query.
type Flat struct {
	dim     int
	vectors [][]float32
}

func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

func (f *Flat) Dim() int { return f.dim }
func (f *Flat) Len() int { return len(f.vectors) }

// Add appends vectors. Every vector must have the index dimension; on a
// mismatch nothing is added.
func (f *Flat) Add(vectors ...[]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("vector %d has dimension %d, index has %d: %w",
				len(f.vectors)+i, len(v), f.dim, apperrors.ErrDimensionMismatch)
		}
	}
	f.vectors = append(f.vectors, vectors...)
	return nil
}

// Search returns, per query, up to k hits by ascending distance. Equal
// distances are ordered by lower Index. When k exceeds Len every vector is
// returned.
func (f *Flat) Search(queries [][]float32, k int) ([][]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d: %w", k, apperrors.ErrInvalidInput)
	}
	out := make([][]Hit, len(queries))
	for qi, q := range queries {
		if len(q) != f.dim {
			return nil, fmt.Errorf("query %d has dimension %d, index has %d: %w",
				qi, len(q), f.dim, apperrors.ErrDimensionMismatch)
		}
		top := newTopK(k)
		for i, v := range f.vectors {
			top.offer(Hit{Index: i, Distance: squaredL2(q, v)})
		}
		out[qi] = top.sorted()
	}
	return out, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// NormalizeL2 returns v scaled to unit length. The zero vector is returned
// unchanged.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
