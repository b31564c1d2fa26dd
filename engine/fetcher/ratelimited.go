package fetcher

import (
	"context"
	"net/url"
	"time"

	engmodels "github.com/docrag-dev/docrag/engine/models"
	"github.com/docrag-dev/docrag/engine/ratelimit"
)

// RateLimitedFetcher wraps another Fetcher with per-domain adaptive rate
// limiting: it acquires a permit before every fetch and reports latency and
// outcome back to the limiter afterward, so a misbehaving or struggling
// origin is throttled without hand-tuned fixed delays, reusing the same
// adaptive limiter the ingestion pipeline already relies on.
type RateLimitedFetcher struct {
	Inner   Fetcher
	Limiter ratelimit.RateLimiter
}

// Fetch implements Fetcher.
func (f *RateLimitedFetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	domain := hostOf(rawURL)

	permit, err := f.Limiter.Acquire(ctx, domain)
	if err != nil {
		return Result{}, engmodels.NewPipelineError(rawURL, "fetch", engmodels.FailureTransient, err)
	}
	defer permit.Release()

	started := time.Now()
	result, fetchErr := f.Inner.Fetch(ctx, rawURL)
	latency := time.Since(started)

	f.Limiter.Feedback(domain, ratelimit.Feedback{
		StatusCode: result.Status,
		Latency:    latency,
		Err:        fetchErr,
	})
	return result, fetchErr
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
