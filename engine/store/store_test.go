package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorLiteralRoundTrip(t *testing.T) {
	v := []float32{0.1, -0.25, 3}
	lit := vectorLiteral(v)
	assert.Equal(t, "[0.1,-0.25,3]", lit)

	parsed, err := parseVector(lit)
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	assert.InDelta(t, 0.1, parsed[0], 1e-6)
	assert.InDelta(t, -0.25, parsed[1], 1e-6)
	assert.InDelta(t, 3, parsed[2], 1e-6)
}

func TestParseVectorEmpty(t *testing.T) {
	parsed, err := parseVector("[]")
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestSortHybridResultsOrdersByCombinedScoreDescending(t *testing.T) {
	results := []HybridResult{
		{ChunkID: 3, CombinedScore: 0.5},
		{ChunkID: 1, CombinedScore: 0.9},
		{ChunkID: 2, CombinedScore: 0.7},
	}
	sortHybridResults(results)
	require.Equal(t, []int64{1, 2, 3}, chunkIDs(results))
}

func TestSortHybridResultsBreaksTiesByVectorScoreThenID(t *testing.T) {
	results := []HybridResult{
		{ChunkID: 5, CombinedScore: 0.5, VectorScore: 0.2},
		{ChunkID: 2, CombinedScore: 0.5, VectorScore: 0.6},
		{ChunkID: 4, CombinedScore: 0.5, VectorScore: 0.6},
	}
	sortHybridResults(results)
	require.Equal(t, []int64{2, 4, 5}, chunkIDs(results))
}

func chunkIDs(results []HybridResult) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}
