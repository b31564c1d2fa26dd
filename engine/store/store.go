// Package store is the Postgres-backed persistence layer for pages and
// chunks, including vector and lexical search and the atomic
// replace-chunks write path.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Config configures the store's connection pool.
type Config struct {
	DSN             string
	MinConns        int32
	MaxConns        int32
	Dimension       int
	UseANNIndex     bool // opt-in only: adds an HNSW index, whose nearest-neighbor search is approximate
	HealthCheckTTL  time.Duration
}

// Store wraps a pgx connection pool.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// Open creates the connection pool, pings the database (an unreachable
// database fails Open) and runs embedded migrations. A connection is held
// only for the duration of a single query or the write transaction in
// ReplaceChunks.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.HealthCheckTTL > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckTTL
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: unreachable database at startup: %w", err)
	}

	s := &Store{pool: pool, dimension: cfg.Dimension}
	if err := s.migrate(ctx, cfg); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pgx pool for the scheduler, which leases
// frontier rows with a raw UPDATE ... FOR UPDATE SKIP LOCKED statement
// against the same pages table this Store owns.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) migrate(ctx context.Context, cfg Config) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	for _, e := range entries {
		sqlBytes, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", e.Name(), err)
		}
		stmt := string(sqlBytes)
		if e.Name() == "0001_schema.sql" {
			stmt = fmt.Sprintf(stmt, cfg.Dimension)
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: apply migration %s: %w", e.Name(), err)
		}
	}
	if cfg.UseANNIndex && cfg.Dimension <= 2000 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw ON chunks
			 USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`)); err != nil {
			return fmt.Errorf("store: create hnsw index: %w", err)
		}
	}
	return nil
}

// GetPage fetches a single page row, or pgx.ErrNoRows if absent.
func (s *Store) GetPage(ctx context.Context, url string) (engmodels.Page, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT url, content, crawl_count, last_crawled_at, processed_at, created_at, updated_at
		 FROM pages WHERE url = $1`, url)
	var p engmodels.Page
	var lastCrawled, processed *time.Time
	if err := row.Scan(&p.URL, &p.Content, &p.CrawlCount, &lastCrawled, &processed, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return engmodels.Page{}, err
	}
	if lastCrawled != nil {
		p.LastCrawledAt = *lastCrawled
	}
	if processed != nil {
		p.ProcessedAt = *processed
	}
	return p, nil
}

// UpsertFrontierURLs inserts newly discovered URLs with crawl_count = 0,
// doing nothing on conflict so existing rows keep their counters.
func (s *Store) UpsertFrontierURLs(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range urls {
		batch.Queue(`INSERT INTO pages (url, content, crawl_count, created_at, updated_at)
		             VALUES ($1, '', 0, now(), now()) ON CONFLICT (url) DO NOTHING`, u)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range urls {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: upsert frontier url: %w", err)
		}
	}
	return nil
}
