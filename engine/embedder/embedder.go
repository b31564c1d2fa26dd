// Package embedder produces L2-normalized dense vectors for chunk and query
// text, behind two interchangeable providers.
package embedder

import (
	"context"
	"math"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// Embedder embeds one or more texts into fixed-dimension, L2-normalized
// vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ErrDimensionMismatch is returned when a provider's output does not match
// the configured dimension.
var ErrDimensionMismatch = engmodels.ErrEmbeddingDimension

// Normalize L2-normalizes v in place and returns it.
func Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// CosineDistance computes 1 - cosine_similarity(a, b). Both vectors are
// assumed L2-normalized, so the dot product alone is the cosine similarity.
func CosineDistance(a, b []float32) float64 {
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

func validateDimension(vectors [][]float32, dim int) error {
	for _, v := range vectors {
		if len(v) != dim {
			return engmodels.ErrEmbeddingDimension
		}
	}
	return nil
}
