package fetcher

import (
	"context"
	"errors"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// CompositeFetcher tries a primary (stealth, browser-rendered) strategy and
// falls back to a secondary (static) one on transient/blocked failure,
// matching the two-strategy design.
type CompositeFetcher struct {
	Primary   Fetcher
	Secondary Fetcher
}

// Fetch implements Fetcher.
func (c *CompositeFetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	result, err := c.Primary.Fetch(ctx, rawURL)
	if err == nil {
		return result, nil
	}
	if c.Secondary == nil {
		return result, err
	}
	var pe *engmodels.PipelineError
	if errors.As(err, &pe) && pe.Class == engmodels.FailurePermanent {
		return result, err
	}
	return c.Secondary.Fetch(ctx, rawURL)
}

// Close releases any closeable strategy (the stealth browser allocator),
// ignoring strategies that don't hold resources.
func (c *CompositeFetcher) Close() error {
	for _, f := range []Fetcher{c.Primary, c.Secondary} {
		if closer, ok := f.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
