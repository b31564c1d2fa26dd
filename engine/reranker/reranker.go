// Package reranker reorders retrieval candidates by query relevance, with a
// cosine-similarity fallback when no cross-encoder model is available
// model is available.
package reranker

import (
	"context"
	"sort"

	"github.com/docrag-dev/docrag/engine/embedder"
)

// Scored is one reranked candidate.
type Scored struct {
	Index int
	Score float64
}

// Reranker scores candidate texts against a query.
type Reranker interface {
	// Rerank returns one Scored entry per candidate, in the order given.
	// Applied reports whether cross-encoder reranking actually ran, vs.
	// the cosine-similarity fallback.
	Rerank(ctx context.Context, query string, candidates []string) (scores []Scored, applied bool, err error)
}

// SortByScoreDescending reorders scores in place by descending Score,
// breaking ties by Index ascending per the deterministic ordering
// requirement of the caller.
func SortByScoreDescending(scores []Scored) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Index < scores[j].Index
	})
}

// CosineFallback scores each candidate by cosine similarity between its
// embedding and the query embedding — the degradation path used when no
// cross-encoder model is available at startup.
type CosineFallback struct {
	Embedder embedder.Embedder
}

// Rerank implements Reranker by embedding the query and every candidate and
// scoring by cosine similarity (1 - CosineDistance).
func (c *CosineFallback) Rerank(ctx context.Context, query string, candidates []string) ([]Scored, bool, error) {
	texts := append([]string{query}, candidates...)
	vectors, err := c.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, false, err
	}
	queryVec := vectors[0]
	scores := make([]Scored, len(candidates))
	for i, v := range vectors[1:] {
		scores[i] = Scored{Index: i, Score: 1 - embedder.CosineDistance(queryVec, v)}
	}
	return scores, false, nil
}
