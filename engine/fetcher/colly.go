package fetcher

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// CollyFetcher is the static-HTML fallback: used when a page needs no
// client-side rendering (fixtures, tests, plain-HTML origins) and when the
// ChromedpFetcher itself is unavailable in the runtime environment.
type CollyFetcher struct {
	policy Policy
	mu     sync.Mutex
	robots *RobotsChecker
}

// NewCollyFetcher returns a static fetcher restricted to
// policy.AllowedDomains; each Fetch call builds its own colly collector.
func NewCollyFetcher(policy Policy) *CollyFetcher {
	if policy.Timeout <= 0 {
		policy.Timeout = 15 * time.Second
	}
	f := &CollyFetcher{policy: policy}
	if policy.RespectRobots {
		f.robots = NewRobotsChecker()
	}
	return f
}

// Fetch implements Fetcher using a single-shot colly visit.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	started := time.Now()

	base, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, engmodels.NewPipelineError(rawURL, "fetch", engmodels.FailurePermanent, err)
	}
	if !isAllowedURL(base, f.policy.AllowedDomains) {
		return Result{}, engmodels.NewPipelineError(rawURL, "fetch", engmodels.FailurePermanent, engmodels.ErrURLNotAllowed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c := colly.NewCollector()
	c.SetRequestTimeout(f.policy.Timeout)
	if f.policy.UserAgent != "" {
		c.UserAgent = f.policy.UserAgent
	}
	for k, v := range clientHints {
		c.OnRequest(func(r *colly.Request) { r.Headers.Set(k, v) })
	}

	var (
		html       string
		status     int
		discovered []string
		fetchErr   error
	)

	c.OnResponse(func(r *colly.Response) {
		html = string(r.Body)
		status = r.StatusCode
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return
		}
		var hrefs []string
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				hrefs = append(hrefs, href)
			}
		})
		discovered = filterRobots(f.robots, canonicalizeDiscovered(base, hrefs, f.policy.AllowedDomains))
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			status = r.StatusCode
		}
	})

	visitErr := c.Visit(rawURL)
	duration := time.Since(started)
	if visitErr != nil {
		fetchErr = visitErr
	}

	class := Classify(status, len(html), html, fetchErr)
	switch class {
	case engmodels.FailureTransient, engmodels.FailurePermanent, engmodels.FailureBlocked:
		errCause := fetchErr
		if errCause == nil {
			errCause = engmodels.ErrHTTPError
		}
		return Result{Status: status, HTML: html, FetchDuration: duration},
			engmodels.NewPipelineError(rawURL, "fetch", class, errCause)
	}

	return Result{
		Status:         status,
		HTML:           html,
		DiscoveredURLs: discovered,
		FetchDuration:  duration,
	}, nil
}
