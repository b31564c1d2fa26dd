// Package retrieval composes the embedder, store, and reranker into the
// query(text, k) contract.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/docrag-dev/docrag/engine/embedder"
	"github.com/docrag-dev/docrag/engine/reranker"
	"github.com/docrag-dev/docrag/engine/store"
)

// SearchMode reports which candidate-generation path served a query.
type SearchMode string

const (
	SearchModeVector SearchMode = "vector"
	SearchModeHybrid SearchMode = "hybrid"
)

// Result is one ranked chunk returned to the caller.
type Result struct {
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Response is the full query(text, k) contract.
type Response struct {
	Results          []Result   `json:"results"`
	SearchMode       SearchMode `json:"search_mode"`
	RerankingApplied bool       `json:"reranking_applied"`
	Count            int        `json:"count"`
}

// Config toggles the optional hybrid-search and reranking stages.
type Config struct {
	UseHybridSearch bool
	UseReranking    bool
}

// candidateStore is the read-path slice of *store.Store the engine needs.
type candidateStore interface {
	Nearest(ctx context.Context, queryVec []float32, k int) ([]store.NearestResult, error)
	Hybrid(ctx context.Context, queryVec []float32, queryText string, k int) ([]store.HybridResult, error)
}

// Engine answers natural-language queries against the store.
type Engine struct {
	Embedder embedder.Embedder
	Store    candidateStore
	Reranker reranker.Reranker
	Cfg      Config
}

type candidate struct {
	chunkID int64
	url     string
	content string
	score   float64 // vector cosine similarity, or hybrid combined score
}

// Query embeds text, composes candidates from the store (hybrid or vector
// depending on Cfg), optionally reranks, and returns the top k results in
// deterministic order: ties broken by chunk id ascending.
func (e *Engine) Query(ctx context.Context, text string, k int) (Response, error) {
	if k <= 0 {
		k = 1
	}

	vectors, err := e.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return Response{}, fmt.Errorf("retrieval: embed query: %w", err)
	}
	queryVec := vectors[0]

	oversample := 1
	if e.Cfg.UseReranking {
		oversample = 3
	}

	candidates, mode, err := e.composeCandidates(ctx, queryVec, text, k*oversample)
	if err != nil {
		return Response{}, err
	}

	applied := false
	if e.Cfg.UseReranking && len(candidates) > 0 && e.Reranker != nil {
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = c.content
		}
		scores, rerankApplied, err := e.Reranker.Rerank(ctx, text, texts)
		if err != nil {
			return Response{}, fmt.Errorf("retrieval: rerank: %w", err)
		}
		applied = rerankApplied
		for _, s := range scores {
			candidates[s.Index].score = s.Score
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{URL: c.url, Content: c.content, Similarity: c.score}
	}

	return Response{
		Results:          results,
		SearchMode:       mode,
		RerankingApplied: applied,
		Count:            len(results),
	}, nil
}

func (e *Engine) composeCandidates(ctx context.Context, queryVec []float32, text string, k int) ([]candidate, SearchMode, error) {
	if e.Cfg.UseHybridSearch {
		hits, err := e.Store.Hybrid(ctx, queryVec, text, k)
		if err != nil {
			return nil, "", fmt.Errorf("retrieval: hybrid search: %w", err)
		}
		out := make([]candidate, len(hits))
		for i, h := range hits {
			out[i] = candidate{chunkID: h.ChunkID, url: h.URL, content: h.Content, score: h.CombinedScore}
		}
		return out, SearchModeHybrid, nil
	}

	hits, err := e.Store.Nearest(ctx, queryVec, k)
	if err != nil {
		return nil, "", fmt.Errorf("retrieval: nearest search: %w", err)
	}
	out := make([]candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate{chunkID: h.ChunkID, url: h.URL, content: h.Content, score: 1 - h.Distance}
	}
	return out, SearchModeVector, nil
}
