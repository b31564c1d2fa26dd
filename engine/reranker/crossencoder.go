package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CrossEncoderConfig configures the primary reranking strategy: a
// cross-encoder model served by a sidecar, presented with the templated
// prompt "query: {q}\ndocument: {c}\nRelevant (yes/no)?" and scored on the
// affirmative token's final-position probability. The
// tokenizer's padding side is left, so the predicted position lands at the
// rightmost index — a sidecar contract detail. NewCrossEncoder checks only
// that the sidecar answers /healthz; the padding side is not verified.
type CrossEncoderConfig struct {
	SidecarURL string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Calibration applies the optional 3rd-degree polynomial score mapping;
	// disabled by default.
	Calibration *Polynomial
}

// CrossEncoder is the primary Reranker strategy.
type CrossEncoder struct {
	cfg    CrossEncoderConfig
	client *http.Client
}

// NewCrossEncoder constructs a CrossEncoder. Returns an error if the
// sidecar is unreachable; callers should fall back to CosineFallback in
// that case.
func NewCrossEncoder(ctx context.Context, cfg CrossEncoderConfig) (*CrossEncoder, error) {
	if cfg.SidecarURL == "" {
		return nil, fmt.Errorf("reranker: sidecar url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	ce := &CrossEncoder{cfg: cfg, client: client}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.SidecarURL+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: sidecar unavailable at startup: %w", err)
	}
	resp.Body.Close()
	return ce, nil
}

type rerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank implements Reranker.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, candidates []string) ([]Scored, bool, error) {
	if len(candidates) == 0 {
		return nil, true, nil
	}
	body, err := json.Marshal(rerankRequest{Query: query, Candidates: candidates, Model: c.cfg.Model})
	if err != nil {
		return nil, false, fmt.Errorf("reranker: encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SidecarURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("reranker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("reranker: sidecar call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("reranker: sidecar returned status %d", resp.StatusCode)
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, false, fmt.Errorf("reranker: decode response: %w", err)
	}
	if len(decoded.Scores) != len(candidates) {
		return nil, false, fmt.Errorf("reranker: sidecar returned %d scores for %d candidates", len(decoded.Scores), len(candidates))
	}

	scores := make([]Scored, len(candidates))
	for i, s := range decoded.Scores {
		if c.cfg.Calibration != nil {
			s = c.cfg.Calibration.Apply(s)
		}
		scores[i] = Scored{Index: i, Score: clip01(s)}
	}
	return scores, true, nil
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Polynomial is a 3rd-degree calibration mapping fit to a calibration set:
// score' = a*x^3 + b*x^2 + c*x + d.
type Polynomial struct {
	A, B, C, D float64
}

// Apply maps a raw score through the polynomial and clips to [0, 1].
func (p Polynomial) Apply(x float64) float64 {
	return clip01(p.A*x*x*x + p.B*x*x + p.C*x + p.D)
}
