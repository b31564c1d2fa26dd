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

// RemoteConfig configures the hosted-API embedding provider.
type RemoteConfig struct {
	Endpoint      string
	APIKey        string
	Model         string
	Dimension     int
	Timeout       time.Duration
	MaxConcurrent int
	HTTPClient    *http.Client
}

// RemoteProvider embeds text via a hosted HTTP API, bounding concurrent
// in-flight requests through the same slot-semaphore pattern the ingestion
// pipeline uses for its resource manager.
type RemoteProvider struct {
	cfg     RemoteConfig
	client  *http.Client
	slots   *resources.Manager
}

// NewRemoteProvider constructs a RemoteProvider. Concurrency is bounded by
// cfg.MaxConcurrent (reference: 4 concurrent remote calls).
func NewRemoteProvider(cfg RemoteConfig) (*RemoteProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedder: remote endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	slots, err := resources.NewManager(resources.Config{MaxInFlight: cfg.MaxConcurrent})
	if err != nil {
		return nil, fmt.Errorf("embedder: build slot manager: %w", err)
	}
	return &RemoteProvider{cfg: cfg, client: client, slots: slots}, nil
}

type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (p *RemoteProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := p.slots.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.slots.Release()

	body, err := json.Marshal(remoteEmbedRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedder: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: remote call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedder: remote returned status %d", resp.StatusCode)
	}

	var decoded remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}

	vectors := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		vectors[i] = Normalize(d.Embedding)
	}
	if err := validateDimension(vectors, p.cfg.Dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimension implements Embedder.
func (p *RemoteProvider) Dimension() int { return p.cfg.Dimension }
