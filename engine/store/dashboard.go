package store

import (
	"context"
	"fmt"
	"time"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

var pageSortColumns = map[string]string{
	"url":             "url",
	"crawl_count":     "crawl_count",
	"last_crawled_at": "last_crawled_at",
	"created_at":      "created_at",
	"updated_at":      "updated_at",
}

// ListPages returns pages ordered by sortCol/order, optionally filtered by
// a case-insensitive substring match on url or content, for the dashboard's
// /api/pages endpoint.
func (s *Store) ListPages(ctx context.Context, sortCol, order, search string) ([]engmodels.Page, error) {
	col, ok := pageSortColumns[sortCol]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if order == "desc" {
		dir = "DESC"
	}

	query := fmt.Sprintf(
		`SELECT url, content, crawl_count, last_crawled_at, processed_at, created_at, updated_at
		 FROM pages
		 WHERE ($1 = '' OR url ILIKE '%%' || $1 || '%%' OR content ILIKE '%%' || $1 || '%%')
		 ORDER BY %s %s`, col, dir)

	rows, err := s.pool.Query(ctx, query, search)
	if err != nil {
		return nil, fmt.Errorf("store: list pages: %w", err)
	}
	defer rows.Close()

	var out []engmodels.Page
	for rows.Next() {
		var p engmodels.Page
		var lastCrawled, processed *time.Time
		if err := rows.Scan(&p.URL, &p.Content, &p.CrawlCount, &lastCrawled, &processed, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan page row: %w", err)
		}
		if lastCrawled != nil {
			p.LastCrawledAt = *lastCrawled
		}
		if processed != nil {
			p.ProcessedAt = *processed
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ChunkPage is one row of a paginated chunk listing.
type ChunkPage struct {
	ID      int64
	PageURL string
	Ordinal int
	Content string
}

// ListChunks returns one page of chunks (1-indexed), optionally filtered by
// a substring match on content, plus the total row count for pagination.
func (s *Store) ListChunks(ctx context.Context, page, size int, search string) ([]ChunkPage, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	offset := (page - 1) * size

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE ($1 = '' OR content ILIKE '%' || $1 || '%')`, search,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count chunks: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, page_url, ordinal, content FROM chunks
		 WHERE ($1 = '' OR content ILIKE '%' || $1 || '%')
		 ORDER BY id ASC
		 LIMIT $2 OFFSET $3`, search, size, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkPage
	for rows.Next() {
		var c ChunkPage
		if err := rows.Scan(&c.ID, &c.PageURL, &c.Ordinal, &c.Content); err != nil {
			return nil, 0, fmt.Errorf("store: scan chunk row: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Stats summarizes corpus coverage for the dashboard's /api/stats endpoint.
type Stats struct {
	PagesCount           int
	ChunksCount          int
	PagesWithContent     int
	ContentPercentage    float64
	PagesProcessed       int
	ProcessingPercentage float64
}

// Stats computes corpus-wide counters in a single round trip.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM pages),
			(SELECT count(*) FROM chunks),
			(SELECT count(*) FROM pages WHERE content <> ''),
			(SELECT count(*) FROM pages WHERE processed_at IS NOT NULL)
	`).Scan(&st.PagesCount, &st.ChunksCount, &st.PagesWithContent, &st.PagesProcessed)
	if err != nil {
		return Stats{}, fmt.Errorf("store: compute stats: %w", err)
	}
	if st.PagesCount > 0 {
		st.ContentPercentage = 100 * float64(st.PagesWithContent) / float64(st.PagesCount)
		st.ProcessingPercentage = 100 * float64(st.PagesProcessed) / float64(st.PagesCount)
	}
	return st, nil
}
