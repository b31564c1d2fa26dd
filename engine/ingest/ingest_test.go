package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrag-dev/docrag/engine/extractor"
	"github.com/docrag-dev/docrag/engine/fetcher"
	engmodels "github.com/docrag-dev/docrag/engine/models"
	"github.com/docrag-dev/docrag/engine/resources"
	"github.com/docrag-dev/docrag/engine/telemetry/events"
	"github.com/docrag-dev/docrag/engine/telemetry/metrics"
)

type fakeCounter struct {
	mu    sync.Mutex
	calls []string
}

func (c *fakeCounter) Inc(delta float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(labels) > 0 {
		c.calls = append(c.calls, labels[0])
	} else {
		c.calls = append(c.calls, "")
	}
}

type fakeProvider struct {
	items  *fakeCounter
	chunks *fakeCounter
}

func (p *fakeProvider) NewCounter(opts metrics.CounterOpts) metrics.Counter {
	if opts.Name == "items_total" {
		return p.items
	}
	return p.chunks
}
func (p *fakeProvider) NewGauge(metrics.GaugeOpts) metrics.Gauge { return nil }
func (p *fakeProvider) NewHistogram(metrics.HistogramOpts) metrics.Histogram { return nil }
func (p *fakeProvider) NewTimer(metrics.HistogramOpts) func() metrics.Timer {
	return func() metrics.Timer { return nil }
}
func (p *fakeProvider) Health(context.Context) error { return nil }

type stubFetcher struct {
	result fetcher.Result
	err    error
}

func (s stubFetcher) Fetch(ctx context.Context, rawURL string) (fetcher.Result, error) {
	return s.result, s.err
}

type stubEmbedder struct {
	dim int
	err error
}

func (s stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s stubEmbedder) Dimension() int { return s.dim }

type stubPersister struct {
	mu           sync.Mutex
	replaceCalls int
	upsertCalls  int
	replaceErr   error
	upsertErr    error
	lastChunks   []engmodels.Chunk
}

func (s *stubPersister) ReplaceChunks(ctx context.Context, page engmodels.Page, chunks []engmodels.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	s.lastChunks = chunks
	return s.replaceErr
}

func (s *stubPersister) UpsertFrontierURLs(ctx context.Context, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	return s.upsertErr
}

const sampleHTML = `<html><body><article><h2>Heading</h2><p>Some useful documentation content that is long enough to survive the minimum length checks comfortably.</p><a href="/next">Next</a></article></body></html>`

func TestProcessOneHappyPath(t *testing.T) {
	persister := &stubPersister{}
	p := &Processor{
		Fetcher: stubFetcher{result: fetcher.Result{
			Status:         200,
			HTML:           sampleHTML,
			DiscoveredURLs: []string{"https://docs.example.com/next"},
		}},
		Embedder:   stubEmbedder{dim: 4},
		Store:      persister,
		ExtractCfg: extractor.DefaultConfig(),
		Cfg:        Config{ProcessorBatchSize: 2, ChunkSize: 5000},
	}

	res := p.processOne(context.Background(), "https://docs.example.com/page")
	require.NoError(t, res.Err)
	assert.Equal(t, 1, persister.replaceCalls)
	assert.Equal(t, 1, persister.upsertCalls)
	assert.Greater(t, res.ChunkCount, 0)
	assert.Len(t, persister.lastChunks, res.ChunkCount)
}

func TestProcessOneReusesCachedPageWithoutRefetching(t *testing.T) {
	mgr, err := resources.NewManager(resources.Config{CacheCapacity: 4})
	require.NoError(t, err)
	defer mgr.Close()

	url := "https://docs.example.com/page"
	require.NoError(t, mgr.StorePage(url, &engmodels.Page{URL: url, Content: "Cached documentation content long enough to pass the minimum length guard, padded past one hundred characters."}))

	persister := &stubPersister{}
	p := &Processor{
		Fetcher:    stubFetcher{err: errors.New("fetch should not be called on a cache hit")},
		Embedder:   stubEmbedder{dim: 4},
		Store:      persister,
		ExtractCfg: extractor.DefaultConfig(),
		Resources:  mgr,
	}

	res := p.processOne(context.Background(), url)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, persister.replaceCalls)
}

func TestProcessOneFetchFailureLeavesStoreUntouched(t *testing.T) {
	persister := &stubPersister{}
	p := &Processor{
		Fetcher:  stubFetcher{err: errors.New("boom")},
		Embedder: stubEmbedder{dim: 4},
		Store:    persister,
	}

	res := p.processOne(context.Background(), "https://docs.example.com/page")
	require.Error(t, res.Err)
	assert.Equal(t, "fetch", res.Stage)
	assert.Zero(t, persister.replaceCalls)
}

func TestProcessOneShortContentNotPersisted(t *testing.T) {
	persister := &stubPersister{}
	p := &Processor{
		Fetcher: stubFetcher{result: fetcher.Result{
			Status: 200,
			HTML:   `<html><body><article><p>Too short.</p></article></body></html>`,
		}},
		Embedder:   stubEmbedder{dim: 4},
		Store:      persister,
		ExtractCfg: extractor.DefaultConfig(),
	}

	res := p.processOne(context.Background(), "https://docs.example.com/page")
	require.ErrorIs(t, res.Err, engmodels.ErrContentTooShort)
	assert.Equal(t, "extract", res.Stage)
	assert.Zero(t, persister.replaceCalls)
}

func TestProcessOneEmbedFailureLeavesStoreUntouched(t *testing.T) {
	persister := &stubPersister{}
	p := &Processor{
		Fetcher:    stubFetcher{result: fetcher.Result{Status: 200, HTML: sampleHTML}},
		Embedder:   stubEmbedder{dim: 4, err: errors.New("embed down")},
		Store:      persister,
		ExtractCfg: extractor.DefaultConfig(),
	}

	res := p.processOne(context.Background(), "https://docs.example.com/page")
	require.Error(t, res.Err)
	assert.Equal(t, "embed", res.Stage)
	assert.Zero(t, persister.replaceCalls)
}

func TestProcessOnePersistFailureReportsStage(t *testing.T) {
	persister := &stubPersister{replaceErr: errors.New("tx rolled back")}
	p := &Processor{
		Fetcher:    stubFetcher{result: fetcher.Result{Status: 200, HTML: sampleHTML}},
		Embedder:   stubEmbedder{dim: 4},
		Store:      persister,
		ExtractCfg: extractor.DefaultConfig(),
	}

	res := p.processOne(context.Background(), "https://docs.example.com/page")
	require.Error(t, res.Err)
	assert.Equal(t, "persist", res.Stage)
	assert.Zero(t, res.ChunkCount)
}

func TestProcessWaveBoundsConcurrencyAndProcessesAll(t *testing.T) {
	persister := &stubPersister{}
	p := &Processor{
		Fetcher:    stubFetcher{result: fetcher.Result{Status: 200, HTML: sampleHTML}},
		Embedder:   stubEmbedder{dim: 4},
		Store:      persister,
		ExtractCfg: extractor.DefaultConfig(),
		Cfg:        Config{ProcessorBatchSize: 2, ChunkSize: 5000},
	}

	entries := []engmodels.FrontierEntry{
		{URL: "https://docs.example.com/a"},
		{URL: "https://docs.example.com/b"},
		{URL: "https://docs.example.com/c"},
	}
	results := p.ProcessWave(context.Background(), entries)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.Equal(t, 3, persister.replaceCalls)
}

func TestProcessWaveRecordsMetricsPerItem(t *testing.T) {
	provider := &fakeProvider{items: &fakeCounter{}, chunks: &fakeCounter{}}
	persister := &stubPersister{}
	p := &Processor{
		Fetcher:    stubFetcher{result: fetcher.Result{Status: 200, HTML: sampleHTML}},
		Embedder:   stubEmbedder{dim: 4},
		Store:      persister,
		ExtractCfg: extractor.DefaultConfig(),
		Cfg:        Config{ProcessorBatchSize: 2, ChunkSize: 5000},
		Metrics:    provider,
	}

	entries := []engmodels.FrontierEntry{
		{URL: "https://docs.example.com/a"},
		{URL: "https://docs.example.com/b"},
	}
	p.ProcessWave(context.Background(), entries)

	assert.Len(t, provider.items.calls, 2)
	for _, label := range provider.items.calls {
		assert.Equal(t, "ok", label)
	}
	assert.Len(t, provider.chunks.calls, 2)
}

func TestProcessWavePublishesCompletionEvent(t *testing.T) {
	bus := events.NewBus(metrics.NewNoopProvider())
	sub, err := bus.Subscribe(4)
	require.NoError(t, err)
	defer sub.Close()

	persister := &stubPersister{}
	p := &Processor{
		Fetcher:    stubFetcher{result: fetcher.Result{Status: 200, HTML: sampleHTML}},
		Embedder:   stubEmbedder{dim: 4},
		Store:      persister,
		ExtractCfg: extractor.DefaultConfig(),
		Cfg:        Config{ProcessorBatchSize: 2, ChunkSize: 5000},
		Events:     bus,
	}

	entries := []engmodels.FrontierEntry{
		{URL: "https://docs.example.com/a"},
		{URL: "https://docs.example.com/b"},
	}
	p.ProcessWave(context.Background(), entries)

	select {
	case ev := <-sub.C():
		assert.Equal(t, events.CategoryPipeline, ev.Category)
		assert.Equal(t, "wave_complete", ev.Type)
		assert.Equal(t, 2, ev.Fields["succeeded"])
	default:
		t.Fatal("expected a wave_complete event to be published")
	}
}
