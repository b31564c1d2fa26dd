package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docrag-dev/docrag/engine/retrieval"
)

var matchCount int

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run a single retrieval query and print the ranked results as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&matchCount, "match-count", 5, "number of results to return")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

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

	engine := &retrieval.Engine{
		Embedder: emb,
		Store:    st,
		Reranker: buildReranker(ctx, cfg, emb),
		Cfg:      retrieval.Config{UseHybridSearch: cfg.UseHybridSearch, UseReranking: cfg.UseReranking},
	}

	resp, err := engine.Query(ctx, args[0], matchCount)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
