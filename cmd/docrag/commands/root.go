// Package commands implements the docrag CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	engconfig "github.com/docrag-dev/docrag/engine/config"
	"github.com/docrag-dev/docrag/engine/embedder"
	"github.com/docrag-dev/docrag/engine/fetcher"
	"github.com/docrag-dev/docrag/engine/ratelimit"
	"github.com/docrag-dev/docrag/engine/reranker"
	"github.com/docrag-dev/docrag/engine/store"
	"github.com/docrag-dev/docrag/engine/telemetry/events"
	"github.com/docrag-dev/docrag/engine/telemetry/metrics"
)

// metricsProvider is shared process-wide: every command registers its
// counters against the same Prometheus registry so crawl and serve report
// under one /metrics surface when run as sidecars of the same deployment.
var metricsProvider = metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})

// eventBus carries structured pipeline events (ingest wave completions) to
// in-process subscribers; there is no external sink.
var eventBus = events.NewBus(metricsProvider)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "A retrieval-augmented documentation knowledge engine",
	Long: `docrag continuously crawls a documentation tree, chunks and embeds its
content into a vector-capable store, and answers natural-language queries
with a blend of dense-vector, lexical, and cross-encoder-reranked retrieval.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config overlay")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the immutable Config for this invocation.
func loadConfig() (engconfig.Config, error) {
	return engconfig.Load(cfgFile)
}

// buildEmbedder constructs the configured Embedder provider.
func buildEmbedder(ctx context.Context, cfg engconfig.Config) (embedder.Embedder, error) {
	switch cfg.EmbeddingMode {
	case engconfig.EmbeddingModeLocal:
		return embedder.NewLocalProvider(ctx, embedder.LocalConfig{
			SidecarURL: cfg.EmbeddingEndpoint,
			Model:      cfg.EmbeddingModel,
			Dimension:  cfg.EmbeddingDimension,
		})
	default:
		return embedder.NewRemoteProvider(embedder.RemoteConfig{
			Endpoint:  cfg.EmbeddingEndpoint,
			APIKey:    cfg.EmbeddingAPIKey,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		})
	}
}

// buildReranker constructs the cross-encoder reranker, falling back to
// cosine similarity when the sidecar is unreachable at startup.
func buildReranker(ctx context.Context, cfg engconfig.Config, emb embedder.Embedder) reranker.Reranker {
	if !cfg.UseReranking {
		return nil
	}
	ce, err := reranker.NewCrossEncoder(ctx, reranker.CrossEncoderConfig{
		SidecarURL: cfg.RerankerEndpoint,
		Model:      cfg.RerankerModel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "reranker sidecar unavailable, falling back to cosine similarity: %v\n", err)
		return &reranker.CosineFallback{Embedder: emb}
	}
	return ce
}

// buildFetcher constructs the stealth-primary/static-secondary composite
// fetcher, wrapped with adaptive per-domain rate limiting.
func buildFetcher(cfg engconfig.Config) fetcher.Fetcher {
	policy := fetcher.DefaultPolicy()
	policy.RespectRobots = cfg.RespectRobots

	primary := fetcher.NewChromedpFetcher(policy)
	secondary := fetcher.NewCollyFetcher(policy)
	composite := &fetcher.CompositeFetcher{Primary: primary, Secondary: secondary}

	if !cfg.RateLimit.Enabled {
		return composite
	}
	return &fetcher.RateLimitedFetcher{
		Inner:   composite,
		Limiter: ratelimit.NewAdaptiveRateLimiter(cfg.RateLimit),
	}
}

// openStore opens the Postgres-backed store.
func openStore(ctx context.Context, cfg engconfig.Config) (*store.Store, error) {
	return store.Open(ctx, store.Config{
		DSN:       cfg.DatabaseDSN,
		Dimension: cfg.EmbeddingDimension,
	})
}
