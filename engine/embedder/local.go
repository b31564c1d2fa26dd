package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docrag-dev/docrag/engine/resources"
)

// LocalConfig configures the local-inference embedding provider. Actual
// tensor computation is not vendored into this module; instead this
// provider talks to a co-located inference sidecar over HTTP, so the
// accelerator/model-loading concerns stay out of the Go process while the
// exact contract (provider interchangeability) is preserved.
type LocalConfig struct {
	SidecarURL string
	Model      string
	Dimension  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// capabilities is the sidecar's declared inference contract, asserted once
// at startup against the configured dimension.
type capabilities struct {
	Precision      string `json:"precision"`       // must be "fp32"
	Pooling        string `json:"pooling"`         // must be "last_token"
	PaddingSide    string `json:"padding_side"`     // must be "right"
	Dimension      int    `json:"dimension"`
	EvaluationOnly bool   `json:"evaluation_only"` // no gradient bookkeeping
}

// LocalProvider embeds text via a local inference sidecar, serialized
// through a single-slot semaphore so the shared I/O loop never blocks on
// accelerator compute directly.
type LocalProvider struct {
	cfg    LocalConfig
	client *http.Client
	worker *resources.Manager
}

// NewLocalProvider constructs a LocalProvider after verifying the sidecar's
// declared capabilities satisfy the cross-language numeric-parity contract.
func NewLocalProvider(ctx context.Context, cfg LocalConfig) (*LocalProvider, error) {
	if cfg.SidecarURL == "" {
		return nil, fmt.Errorf("embedder: local sidecar url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	worker, err := resources.NewManager(resources.Config{MaxInFlight: 1})
	if err != nil {
		return nil, fmt.Errorf("embedder: build dedicated worker: %w", err)
	}
	p := &LocalProvider{cfg: cfg, client: client, worker: worker}

	caps, err := p.fetchCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedder: query sidecar capabilities: %w", err)
	}
	if err := assertNumericParity(caps, cfg.Dimension); err != nil {
		return nil, err
	}
	return p, nil
}

func assertNumericParity(caps capabilities, wantDim int) error {
	if caps.Precision != "fp32" {
		return fmt.Errorf("embedder: local sidecar precision %q violates 32-bit parity requirement", caps.Precision)
	}
	if caps.Pooling != "last_token" {
		return fmt.Errorf("embedder: local sidecar pooling %q violates last-token pooling requirement", caps.Pooling)
	}
	if caps.PaddingSide != "right" {
		return fmt.Errorf("embedder: local sidecar padding side %q violates right-padding requirement", caps.PaddingSide)
	}
	if !caps.EvaluationOnly {
		return fmt.Errorf("embedder: local sidecar is not evaluation-only")
	}
	if caps.Dimension != wantDim {
		return fmt.Errorf("embedder: local sidecar dimension %d does not match configured %d", caps.Dimension, wantDim)
	}
	return nil
}

func (p *LocalProvider) fetchCapabilities(ctx context.Context) (capabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.SidecarURL+"/capabilities", nil)
	if err != nil {
		return capabilities{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return capabilities{}, err
	}
	defer resp.Body.Close()
	var caps capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return capabilities{}, err
	}
	return caps, nil
}

type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements Embedder, serializing calls through the dedicated worker.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := p.worker.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.worker.Release()

	body, err := json.Marshal(localEmbedRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedder: encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.SidecarURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: sidecar call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedder: sidecar returned status %d", resp.StatusCode)
	}

	var decoded localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}
	for _, v := range decoded.Embeddings {
		Normalize(v)
	}
	if err := validateDimension(decoded.Embeddings, p.cfg.Dimension); err != nil {
		return nil, err
	}
	return decoded.Embeddings, nil
}

// Dimension implements Embedder.
func (p *LocalProvider) Dimension() int { return p.cfg.Dimension }
