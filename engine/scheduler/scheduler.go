// Package scheduler dispatches crawl work from the persistent frontier
// (the pages table) under lease semantics that survive crashes and
// restarts, and never hand the same URL to two workers concurrently
// (frontier leasing and backoff).
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// Config tunes dispatch batching and pacing.
type Config struct {
	BatchSize     int           // reference 30
	MaxConcurrent int           // reference 30
	CrawlInterval time.Duration // reference 500ms
}

// DefaultConfig returns the reference tuning values.
func DefaultConfig() Config {
	return Config{BatchSize: 30, MaxConcurrent: 30, CrawlInterval: 500 * time.Millisecond}
}

// Scheduler leases batches of URLs from a pgx pool.
type Scheduler struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New constructs a Scheduler over an already-open pool (typically
// obtained from an *store.Store, which owns connection lifecycle).
func New(pool *pgxpool.Pool, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.CrawlInterval <= 0 {
		cfg.CrawlInterval = DefaultConfig().CrawlInterval
	}
	return &Scheduler{pool: pool, cfg: cfg}
}

// LeaseBatch selects up to batchSize URLs ordered by crawl_count ascending
// then last_crawled_at ascending (NULLS FIRST), skipping rows already
// locked by a concurrent lease, and atomically advances their counter and
// timestamp before returning them — the lease itself. No
// rollback of crawl_count happens on later failure; the counter-ordering
// alone provides backoff.
func (s *Scheduler) LeaseBatch(ctx context.Context, batchSize int) ([]engmodels.FrontierEntry, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE pages
		SET crawl_count = crawl_count + 1, last_crawled_at = now(), updated_at = now()
		WHERE url IN (
			SELECT url FROM pages
			ORDER BY crawl_count ASC, last_crawled_at ASC NULLS FIRST
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING url, crawl_count, last_crawled_at`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("scheduler: lease batch: %w", err)
	}
	defer rows.Close()

	var out []engmodels.FrontierEntry
	for rows.Next() {
		var e engmodels.FrontierEntry
		if err := rows.Scan(&e.URL, &e.CrawlCount, &e.LastCrawledAt); err != nil {
			return nil, fmt.Errorf("scheduler: scan leased row: %w", err)
		}
		e.Leased = true
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduler: iterate leased rows: %w", err)
	}
	return out, nil
}

// Seed inserts the initial start URL if it does not already exist, so a
// brand-new frontier has something to lease (the crawler invariant:
// start URL is always in scope).
func (s *Scheduler) Seed(ctx context.Context, startURL string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pages (url, content, crawl_count, created_at, updated_at)
		 VALUES ($1, '', 0, now(), now()) ON CONFLICT (url) DO NOTHING`, startURL)
	if err != nil {
		return fmt.Errorf("scheduler: seed start url: %w", err)
	}
	return nil
}
