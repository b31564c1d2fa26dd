package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrag-dev/docrag/engine/reranker"
	"github.com/docrag-dev/docrag/engine/store"
)

type stubEmbedder struct{ dim int }

func (s stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}
func (s stubEmbedder) Dimension() int { return s.dim }

type stubStore struct {
	nearest []store.NearestResult
	hybrid  []store.HybridResult
}

func (s stubStore) Nearest(ctx context.Context, queryVec []float32, k int) ([]store.NearestResult, error) {
	if k < len(s.nearest) {
		return s.nearest[:k], nil
	}
	return s.nearest, nil
}

func (s stubStore) Hybrid(ctx context.Context, queryVec []float32, queryText string, k int) ([]store.HybridResult, error) {
	if k < len(s.hybrid) {
		return s.hybrid[:k], nil
	}
	return s.hybrid, nil
}

type stubReranker struct {
	scores  []reranker.Scored
	applied bool
}

func (s stubReranker) Rerank(ctx context.Context, query string, candidates []string) ([]reranker.Scored, bool, error) {
	return s.scores, s.applied, nil
}

func TestQueryVectorModeOrdersByAscendingDistance(t *testing.T) {
	e := &Engine{
		Embedder: stubEmbedder{dim: 3},
		Store: stubStore{nearest: []store.NearestResult{
			{ChunkID: 1, URL: "https://a", Content: "a", Distance: 0.1},
			{ChunkID: 2, URL: "https://b", Content: "b", Distance: 0.05},
		}},
	}

	resp, err := e.Query(context.Background(), "how do I install", 2)
	require.NoError(t, err)
	assert.Equal(t, SearchModeVector, resp.SearchMode)
	assert.False(t, resp.RerankingApplied)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://b", resp.Results[0].URL)
	assert.InDelta(t, 0.95, resp.Results[0].Similarity, 1e-9)
}

func TestQueryHybridModeUsesHybridStore(t *testing.T) {
	e := &Engine{
		Embedder: stubEmbedder{dim: 3},
		Store: stubStore{hybrid: []store.HybridResult{
			{ChunkID: 1, URL: "https://a", Content: "a", CombinedScore: 0.6},
			{ChunkID: 2, URL: "https://b", Content: "b", CombinedScore: 0.9},
		}},
		Cfg: Config{UseHybridSearch: true},
	}

	resp, err := e.Query(context.Background(), "query", 2)
	require.NoError(t, err)
	assert.Equal(t, SearchModeHybrid, resp.SearchMode)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://b", resp.Results[0].URL)
}

func TestQueryAppliesRerankerAndReordersTopK(t *testing.T) {
	e := &Engine{
		Embedder: stubEmbedder{dim: 3},
		Store: stubStore{nearest: []store.NearestResult{
			{ChunkID: 1, URL: "https://a", Content: "a", Distance: 0.1},
			{ChunkID: 2, URL: "https://b", Content: "b", Distance: 0.2},
			{ChunkID: 3, URL: "https://c", Content: "c", Distance: 0.3},
		}},
		Reranker: stubReranker{
			applied: true,
			scores: []reranker.Scored{
				{Index: 0, Score: 0.1},
				{Index: 1, Score: 0.9},
				{Index: 2, Score: 0.5},
			},
		},
		Cfg: Config{UseReranking: true},
	}

	resp, err := e.Query(context.Background(), "query", 2)
	require.NoError(t, err)
	assert.True(t, resp.RerankingApplied)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://b", resp.Results[0].URL)
	assert.Equal(t, "https://c", resp.Results[1].URL)
}

func TestQueryTiesBreakByChunkIDAscending(t *testing.T) {
	e := &Engine{
		Embedder: stubEmbedder{dim: 3},
		Store: stubStore{nearest: []store.NearestResult{
			{ChunkID: 5, URL: "https://five", Content: "x", Distance: 0.2},
			{ChunkID: 2, URL: "https://two", Content: "y", Distance: 0.2},
		}},
	}

	resp, err := e.Query(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://two", resp.Results[0].URL)
}
