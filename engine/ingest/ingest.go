// Package ingest runs the per-URL ingestion pipeline — fetch, extract,
// chunk, embed, persist, discover — in bounded waves over leased frontier
// URLs.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docrag-dev/docrag/engine/chunker"
	"github.com/docrag-dev/docrag/engine/embedder"
	"github.com/docrag-dev/docrag/engine/extractor"
	"github.com/docrag-dev/docrag/engine/fetcher"
	engmodels "github.com/docrag-dev/docrag/engine/models"
	"github.com/docrag-dev/docrag/engine/resources"
	"github.com/docrag-dev/docrag/engine/telemetry/events"
	"github.com/docrag-dev/docrag/engine/telemetry/metrics"
)

// Config tunes per-wave batching and chunking.
type Config struct {
	ProcessorBatchSize int // reference 5
	ChunkSize          int // reference 5000
}

// DefaultConfig returns the reference tuning values.
func DefaultConfig() Config {
	return Config{ProcessorBatchSize: 5, ChunkSize: 5000}
}

// Persister is the slice of *store.Store the ingestion pipeline needs: the
// atomic replace-chunks write and frontier growth. Narrowed to an
// interface so the pipeline is testable without a database.
type Persister interface {
	ReplaceChunks(ctx context.Context, page engmodels.Page, chunks []engmodels.Chunk) error
	UpsertFrontierURLs(ctx context.Context, urls []string) error
}

// Processor wires together the fetcher, extractor, chunker, embedder and
// store into the per-URL pipeline.
type Processor struct {
	Fetcher    fetcher.Fetcher
	Embedder   embedder.Embedder
	Store      Persister
	ExtractCfg extractor.Config
	Cfg        Config

	// Resources is optional; nil skips the extracted-content cache and every
	// URL is fetched and re-extracted fresh. When set, a successful
	// fetch+extract is cached so a retry of the same URL (a later stage
	// failed, or the URL was rediscovered mid-wave) reuses it instead of
	// refetching, and a successful persist checkpoints the URL.
	Resources *resources.Manager
	// Metrics is optional; nil leaves counters unrecorded.
	Metrics metrics.Provider
	// Events is optional; nil leaves wave completions unpublished.
	Events events.Bus

	metricsOnce sync.Once
	itemsTotal  metrics.Counter
	chunksTotal metrics.Counter
}

func (p *Processor) initMetrics() {
	p.metricsOnce.Do(func() {
		if p.Metrics == nil {
			return
		}
		p.itemsTotal = p.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "docrag", Subsystem: "ingest", Name: "items_total", Help: "Ingested URLs by outcome stage",
			Labels: []string{"stage"},
		}})
		p.chunksTotal = p.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "docrag", Subsystem: "ingest", Name: "chunks_total", Help: "Chunks persisted",
		}})
	})
}

// ItemResult is the outcome of processing a single leased URL.
type ItemResult struct {
	URL              string
	DiscoveredURLs   []string
	ChunkCount       int
	Err              error
	// Stage records where processing stopped, for observability only; it
	// never changes partial-failure semantics.
	Stage string
}

// ProcessWave runs the per-URL pipeline for every entry concurrently,
// bounded by Cfg.ProcessorBatchSize, and returns once the whole wave has
// completed. The caller (the scheduler loop) blocks on this before
// leasing the next wave.
func (p *Processor) ProcessWave(ctx context.Context, entries []engmodels.FrontierEntry) []ItemResult {
	p.initMetrics()
	results := make([]ItemResult, len(entries))

	batchSize := p.Cfg.ProcessorBatchSize
	if batchSize <= 0 {
		batchSize = DefaultConfig().ProcessorBatchSize
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchSize)

	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = p.processOne(gctx, entry.URL)
			return nil // per-URL errors are carried in ItemResult, not propagated
		})
	}
	_ = g.Wait() // never returns a non-nil error; goroutines never return one

	if p.Events != nil {
		succeeded := 0
		for _, r := range results {
			if r.Err == nil {
				succeeded++
			}
		}
		_ = p.Events.PublishCtx(ctx, events.Event{
			Category: events.CategoryPipeline,
			Type:     "wave_complete",
			Fields: map[string]interface{}{
				"leased":    len(entries),
				"succeeded": succeeded,
			},
		})
	}

	return results
}

func (p *Processor) processOne(ctx context.Context, url string) ItemResult {
	res := ItemResult{URL: url}
	defer func() {
		if p.itemsTotal == nil {
			return
		}
		stage := res.Stage
		if stage == "" {
			stage = "ok"
		}
		p.itemsTotal.Inc(1, stage)
		if p.chunksTotal != nil && res.ChunkCount > 0 {
			p.chunksTotal.Inc(float64(res.ChunkCount))
		}
	}()

	var extracted string
	var cacheHit bool
	if p.Resources != nil {
		if cached, hit, err := p.Resources.GetPage(url); err == nil && hit && cached != nil {
			extracted = cached.Content
			cacheHit = true
		}
	}

	if !cacheHit {
		fetched, err := p.Fetcher.Fetch(ctx, url)
		if err != nil {
			res.Err = fmt.Errorf("ingest: fetch: %w", err)
			res.Stage = "fetch"
			return res // transient failure: row untouched beyond the lease counter
		}
		res.DiscoveredURLs = fetched.DiscoveredURLs

		extracted, err = extractor.Extract(fetched.HTML, url, p.ExtractCfg)
		if err != nil {
			res.Err = fmt.Errorf("ingest: extract: %w", err)
			res.Stage = "extract"
			return res
		}
		if len(extracted) < engmodels.MinContentLength {
			res.Err = engmodels.ErrContentTooShort
			res.Stage = "extract"
			return res // treated as transient-blocked: not persisted as empty
		}

		if p.Resources != nil {
			cached := engmodels.Page{URL: url, Content: extracted, CreatedAt: time.Now(), UpdatedAt: time.Now()}
			_ = p.Resources.StorePage(url, &cached) // best-effort; a cache-store failure never blocks ingestion
		}
	}

	chunkSize := p.Cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultConfig().ChunkSize
	}
	spans := chunker.Split(extracted, chunkSize)
	if len(spans) == 0 {
		res.Err = engmodels.ErrNoChunks
		res.Stage = "chunk"
		return res
	}

	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = sp.Content
	}
	vectors, err := p.Embedder.Embed(ctx, texts)
	if err != nil {
		res.Err = fmt.Errorf("ingest: embed: %w", err)
		res.Stage = "embed"
		return res
	}

	now := time.Now()
	page := engmodels.Page{URL: url, Content: extracted, CreatedAt: now, UpdatedAt: now}
	chunks := make([]engmodels.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = engmodels.Chunk{
			PageURL:   url,
			Ordinal:   i,
			Content:   sp.Content,
			BreakType: sp.BreakType,
			CharStart: sp.Start,
			CharEnd:   sp.End,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	if err := p.Store.ReplaceChunks(ctx, page, chunks); err != nil {
		res.Err = fmt.Errorf("ingest: persist: %w", err)
		res.Stage = "persist"
		return res // transaction rolled back: prior chunk set preserved
	}
	res.ChunkCount = len(chunks)
	if p.Resources != nil {
		p.Resources.Checkpoint(url)
	}

	if len(res.DiscoveredURLs) > 0 {
		if err := p.Store.UpsertFrontierURLs(ctx, res.DiscoveredURLs); err != nil {
			res.Err = fmt.Errorf("ingest: insert discovered urls: %w", err)
			res.Stage = "discover"
			// page content already committed; discovery failure does not
			// roll that back, it only means new URLs are missed this cycle.
		}
	}
	return res
}
