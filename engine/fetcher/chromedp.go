package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// ChromedpFetcher is the primary Fetcher implementation: a stealth-configured
// headless Chrome instance that renders client-side content before
// extraction under a stealth posture.
type ChromedpFetcher struct {
	policy    Policy
	allocCtx  context.Context
	cancelAll context.CancelFunc
	robots    *RobotsChecker
}

// NewChromedpFetcher starts a shared browser allocator. Call Close when done.
func NewChromedpFetcher(policy Policy) *ChromedpFetcher {
	if policy.UserAgent == "" {
		def := DefaultPolicy()
		policy.UserAgent = def.UserAgent
	}
	if policy.Timeout <= 0 {
		policy.Timeout = 15 * time.Second
	}
	if policy.SettleDelay <= 0 {
		policy.SettleDelay = 3 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], stealthExecAllocatorOptions()...)
	opts = append(opts, chromedp.UserAgent(policy.UserAgent))
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	f := &ChromedpFetcher{policy: policy, allocCtx: allocCtx, cancelAll: cancel}
	if policy.RespectRobots {
		f.robots = NewRobotsChecker()
	}
	return f
}

// stealthExecAllocatorOptions returns Chrome flags that suppress the
// automation-controlled indicator and other headless tells.
func stealthExecAllocatorOptions() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("disable-infobars", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("lang", "en-US,en"),
	}
}

// Close releases the browser allocator.
func (f *ChromedpFetcher) Close() error {
	if f.cancelAll != nil {
		f.cancelAll()
	}
	return nil
}

// Fetch implements Fetcher.
func (f *ChromedpFetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	started := time.Now()

	base, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, engmodels.NewPipelineError(rawURL, "fetch", engmodels.FailurePermanent, err)
	}
	if !isAllowedURL(base, f.policy.AllowedDomains) {
		return Result{}, engmodels.NewPipelineError(rawURL, "fetch", engmodels.FailurePermanent, engmodels.ErrURLNotAllowed)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(f.allocCtx)
	defer cancelBrowser()
	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, f.policy.Timeout)
	defer cancelTimeout()

	var html string
	var statusCode int64 = 200
	actions := []chromedp.Action{
		injectStealthScript(),
		setExtraHeaders(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(f.policy.SettleDelay),
		chromedp.OuterHTML("html", &html),
	}

	runErr := chromedp.Run(timeoutCtx, actions...)
	duration := time.Since(started)
	if runErr != nil {
		if ctx.Err() != nil || timeoutCtx.Err() != nil || strings.Contains(runErr.Error(), "deadline exceeded") {
			return Result{FetchDuration: duration}, engmodels.NewPipelineError(rawURL, "fetch", engmodels.FailureTransient, runErr)
		}
		return Result{FetchDuration: duration}, engmodels.NewPipelineError(rawURL, "fetch", engmodels.FailureTransient, runErr)
	}

	if class := Classify(int(statusCode), len(html), html, nil); class == engmodels.FailureBlocked {
		return Result{Status: int(statusCode), HTML: html, FetchDuration: duration},
			engmodels.NewPipelineError(rawURL, "fetch", engmodels.FailureBlocked, engmodels.ErrChallengePage)
	}

	links, err := discoverLinks(html, base, f.policy.AllowedDomains)
	if err != nil {
		links = nil
	}
	links = filterRobots(f.robots, links)

	return Result{
		Status:         int(statusCode),
		HTML:           html,
		DiscoveredURLs: links,
		FetchDuration:  duration,
	}, nil
}

// injectStealthScript registers stealthScript to run before any page script,
// so detection probes see the patched navigator object from first paint.
func injectStealthScript() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}

// setExtraHeaders attaches the Accept/Client-Hint/Sec-Fetch-* header set a
// real top-level navigation carries.
func setExtraHeaders() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		headers := make(network.Headers, len(clientHints))
		for k, v := range clientHints {
			headers[k] = v
		}
		return network.SetExtraHTTPHeaders(headers).Do(ctx)
	})
}

func discoverLinks(html string, base *url.URL, allowedDomains []string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html for discovery: %w", err)
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return canonicalizeDiscovered(base, hrefs, allowedDomains), nil
}
