package store

import (
	"context"
	"fmt"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// ReplaceChunks atomically replaces all chunks for a page and updates its
// content/processed_at/updated_at fields. On any
// failure the transaction rolls back and the page's prior chunk set is
// preserved.
func (s *Store) ReplaceChunks(ctx context.Context, page engmodels.Page, chunks []engmodels.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin replace-chunks tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after Commit

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE page_url = $1`, page.URL); err != nil {
		return fmt.Errorf("store: delete prior chunks: %w", err)
	}

	for i, c := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (page_url, ordinal, content, break_type, char_start, char_end, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::vector, now())`,
			page.URL, i, c.Content, string(c.BreakType), c.CharStart, c.CharEnd, vectorLiteral(c.Embedding),
		); err != nil {
			return fmt.Errorf("store: insert chunk %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE pages SET content = $2, processed_at = now(), updated_at = now() WHERE url = $1`,
		page.URL, page.Content,
	); err != nil {
		return fmt.Errorf("store: update page: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit replace-chunks tx: %w", err)
	}
	return nil
}

// NearestResult is one vector-search hit.
type NearestResult struct {
	ChunkID  int64
	URL      string
	Content  string
	Distance float64
}

// Nearest returns up to k chunks ordered by ascending cosine distance to
// queryVec.
func (s *Store) Nearest(ctx context.Context, queryVec []float32, k int) ([]NearestResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, page_url, content, embedding <=> $1::vector AS distance
		 FROM chunks
		 ORDER BY distance ASC, id ASC
		 LIMIT $2`,
		vectorLiteral(queryVec), k,
	)
	if err != nil {
		return nil, fmt.Errorf("store: nearest query: %w", err)
	}
	defer rows.Close()

	var out []NearestResult
	for rows.Next() {
		var r NearestResult
		if err := rows.Scan(&r.ChunkID, &r.URL, &r.Content, &r.Distance); err != nil {
			return nil, fmt.Errorf("store: scan nearest row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// KeywordResult is one lexical-search hit.
type KeywordResult struct {
	ChunkID int64
	URL     string
	Content string
	Rank    float64
}

// Keyword returns up to k chunks ranked by lexical match against
// queryText's tsquery.
func (s *Store) Keyword(ctx context.Context, queryText string, k int) ([]KeywordResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, page_url, content,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		 FROM chunks
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY rank DESC, id ASC
		 LIMIT $2`,
		queryText, k,
	)
	if err != nil {
		return nil, fmt.Errorf("store: keyword query: %w", err)
	}
	defer rows.Close()

	var out []KeywordResult
	for rows.Next() {
		var r KeywordResult
		if err := rows.Scan(&r.ChunkID, &r.URL, &r.Content, &r.Rank); err != nil {
			return nil, fmt.Errorf("store: scan keyword row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HybridResult is one fused vector+lexical hit.
type HybridResult struct {
	ChunkID      int64
	URL          string
	Content      string
	VectorScore  float64
	LexScore     float64
	CombinedScore float64
}

// Hybrid unions the vector and keyword candidate sets, de-duplicated by
// chunk id, re-scored as 0.7*vector_score + 0.3*lex_score (vector_score =
// 1 - distance, lex_score = rank divided by the highest rank in the
// candidate set, so it lies in [0,1]), ties broken by vector_score
// descending then chunk id ascending.
func (s *Store) Hybrid(ctx context.Context, queryVec []float32, queryText string, k int) ([]HybridResult, error) {
	// Oversample both legs generously so fusion has enough material to
	// re-rank from; final truncation to k happens after scoring.
	fetchK := k * 4
	if fetchK < k {
		fetchK = k // overflow guard, unreachable at realistic k
	}

	nearest, err := s.Nearest(ctx, queryVec, fetchK)
	if err != nil {
		return nil, err
	}
	keyword, err := s.Keyword(ctx, queryText, fetchK)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		url, content    string
		vectorScore     float64
		hasVector       bool
		lexRank         float64
		hasLex          bool
	}
	byID := make(map[int64]*candidate)
	var order []int64
	for _, n := range nearest {
		c, ok := byID[n.ChunkID]
		if !ok {
			c = &candidate{url: n.URL, content: n.Content}
			byID[n.ChunkID] = c
			order = append(order, n.ChunkID)
		}
		c.vectorScore = 1 - n.Distance
		c.hasVector = true
	}
	var maxRank float64
	for _, kw := range keyword {
		c, ok := byID[kw.ChunkID]
		if !ok {
			c = &candidate{url: kw.URL, content: kw.Content}
			byID[kw.ChunkID] = c
			order = append(order, kw.ChunkID)
		}
		c.lexRank = kw.Rank
		c.hasLex = true
		if kw.Rank > maxRank {
			maxRank = kw.Rank
		}
	}

	out := make([]HybridResult, 0, len(order))
	for _, id := range order {
		c := byID[id]
		lexScore := 0.0
		if c.hasLex && maxRank > 0 {
			lexScore = c.lexRank / maxRank
		}
		vectorScore := 0.0
		if c.hasVector {
			vectorScore = c.vectorScore
		}
		out = append(out, HybridResult{
			ChunkID:       id,
			URL:           c.url,
			Content:       c.content,
			VectorScore:   vectorScore,
			LexScore:      lexScore,
			CombinedScore: 0.7*vectorScore + 0.3*lexScore,
		})
	}

	sortHybridResults(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// sortHybridResults orders by descending combined score, ties broken by
// descending vector_score then ascending chunk id for determinism.
func sortHybridResults(results []HybridResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && hybridLess(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func hybridLess(a, b HybridResult) bool {
	if a.CombinedScore != b.CombinedScore {
		return a.CombinedScore > b.CombinedScore
	}
	if a.VectorScore != b.VectorScore {
		return a.VectorScore > b.VectorScore
	}
	return a.ChunkID < b.ChunkID
}
