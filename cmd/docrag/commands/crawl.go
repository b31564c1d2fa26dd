package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docrag-dev/docrag/engine/extractor"
	"github.com/docrag-dev/docrag/engine/ingest"
	"github.com/docrag-dev/docrag/engine/resources"
	"github.com/docrag-dev/docrag/engine/scheduler"
	"github.com/docrag-dev/docrag/engine/telemetry/logging"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Continuously crawl, chunk, and embed the configured documentation tree",
	RunE:  runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New(nil)

	sub, err := eventBus.Subscribe(16)
	if err != nil {
		return fmt.Errorf("subscribe to event bus: %w", err)
	}
	defer sub.Close()
	go func() {
		for ev := range sub.C() {
			log.InfoCtx(ctx, "pipeline event", "type", ev.Type, "fields", ev.Fields)
		}
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	emb, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}

	f := buildFetcher(cfg)
	if closer, ok := f.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	sched := scheduler.New(st.Pool(), scheduler.Config{
		BatchSize:     cfg.CrawlerBatchSize,
		MaxConcurrent: cfg.CrawlerMaxConcurrent,
		CrawlInterval: cfg.CrawlInterval,
	})
	if err := sched.Seed(ctx, cfg.TargetURL); err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}

	resourceMgr, err := resources.NewManager(resources.Config{
		CacheCapacity: cfg.ProcessorBatchSize * 4,
	})
	if err != nil {
		return fmt.Errorf("build resource manager: %w", err)
	}
	defer resourceMgr.Close()

	extractCfg := extractor.DefaultConfig()
	if len(cfg.PollutionPatterns) > 0 {
		extractCfg.PollutionPatterns = cfg.PollutionPatterns
	}

	processor := &ingest.Processor{
		Fetcher:    f,
		Embedder:   emb,
		Store:      st,
		ExtractCfg: extractCfg,
		Cfg:        ingest.Config{ProcessorBatchSize: cfg.ProcessorBatchSize, ChunkSize: cfg.ChunkSize},
		Resources:  resourceMgr,
		Metrics:    metricsProvider,
		Events:     eventBus,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := sched.LeaseBatch(ctx, cfg.CrawlerBatchSize)
		if err != nil {
			return fmt.Errorf("lease batch: %w", err)
		}
		if len(entries) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.CrawlInterval):
				continue
			}
		}

		results := processor.ProcessWave(ctx, entries)
		for _, r := range results {
			if r.Err != nil {
				log.ErrorCtx(ctx, "crawl item failed", "url", r.URL, "stage", r.Stage, "error", r.Err)
			}
		}
	}
}
