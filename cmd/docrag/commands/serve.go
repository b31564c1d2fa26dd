package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docrag-dev/docrag/engine/retrieval"
	"github.com/docrag-dev/docrag/engine/telemetry/health"
	"github.com/docrag-dev/docrag/engine/telemetry/logging"
	"github.com/docrag-dev/docrag/internal/dashboardapi"
	"github.com/docrag-dev/docrag/internal/toolapi"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API and the perform_rag_query tool endpoint",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "HTTP listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New(nil)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	evaluator := health.NewEvaluator(5*time.Second, health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		if err := st.Pool().Ping(ctx); err != nil {
			return health.Unhealthy("postgres", err.Error())
		}
		return health.Healthy("postgres")
	}))

	emb, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}

	engine := &retrieval.Engine{
		Embedder: emb,
		Store:    st,
		Reranker: buildReranker(ctx, cfg, emb),
		Cfg:      retrieval.Config{UseHybridSearch: cfg.UseHybridSearch, UseReranking: cfg.UseReranking},
	}

	dash := &dashboardapi.Handlers{Store: st}
	tools := &toolapi.Handler{Engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/pages", dash.Pages)
	mux.HandleFunc("/api/chunks", dash.Chunks)
	mux.HandleFunc("/api/stats", dash.Stats)
	mux.HandleFunc("/tools/perform_rag_query", tools.PerformRAGQuery)
	mux.Handle("/metrics", metricsProvider.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := evaluator.Evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if snap.Overall != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	})

	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	log.InfoCtx(ctx, "docrag serving", "addr", listenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.ErrorCtx(ctx, "server exited with error", "error", err)
		return err
	}
	return nil
}
