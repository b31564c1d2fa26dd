// Package fetcher retrieves rendered HTML for a single documentation URL
// under a stealth posture and discovers same-origin outbound links.
package fetcher

import (
	"context"
	"net/url"
	"strings"
	"time"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// Result is the outcome of a successful fetch.
type Result struct {
	Status         int
	HTML           string
	DiscoveredURLs []string
	FetchDuration  time.Duration
}

// Fetcher retrieves a single URL's rendered content and discovered links.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Result, error)
}

// Policy configures fetch behavior common to every implementation.
type Policy struct {
	UserAgent      string
	AllowedDomains []string
	Timeout        time.Duration
	SettleDelay    time.Duration
	RespectRobots  bool
}

// DefaultPolicy returns the default stealth posture: a 15s total
// timeout and a 3s settle wait after DOMContentLoaded.
func DefaultPolicy() Policy {
	return Policy{
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Timeout:     15 * time.Second,
		SettleDelay: 3 * time.Second,
	}
}

// Classify maps a raw fetch outcome onto the transient/permanent/blocked
// taxonomy, independent of which strategy produced it.
func Classify(status int, bodyLen int, body string, err error) engmodels.FailureClass {
	if err != nil {
		return engmodels.FailureTransient
	}
	if looksBlocked(bodyLen, body) {
		return engmodels.FailureBlocked
	}
	switch {
	case status == 429:
		return engmodels.FailureTransient
	case status >= 500:
		return engmodels.FailureTransient
	case status >= 400:
		return engmodels.FailurePermanent
	default:
		return ""
	}
}

// looksBlocked implements the heuristic: body shorter than 500 chars and
// containing an anti-bot marker.
func looksBlocked(bodyLen int, body string) bool {
	if bodyLen >= 500 {
		return false
	}
	lower := strings.ToLower(body)
	markers := []string{
		"just a moment", "attention required", "cf-challenge", "cf_chl_opt",
		"cf-turnstile", "hcaptcha.com", "h-captcha", "g-recaptcha",
		"access denied", "bot detection", "robot or human",
	}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// isAllowedURL reports whether u's host is in allowedDomains (or any
// subdomain of one).
func isAllowedURL(u *url.URL, allowedDomains []string) bool {
	if len(allowedDomains) == 0 {
		return true
	}
	host := u.Hostname()
	for _, allowed := range allowedDomains {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// canonicalizeDiscovered resolves href against base, drops non-http(s)
// schemes and fragments-only links, and restricts to allowedDomains,
// collapsing duplicates into a set.
func canonicalizeDiscovered(base *url.URL, hrefs []string, allowedDomains []string) []string {
	seen := make(map[string]struct{}, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "tel:") {
			continue
		}
		link, err := url.Parse(href)
		if err != nil {
			continue
		}
		if !link.IsAbs() {
			link = base.ResolveReference(link)
		}
		if link.Scheme != "http" && link.Scheme != "https" {
			continue
		}
		if !isAllowedURL(link, allowedDomains) {
			continue
		}
		canon, err := engmodels.CanonicalizeURL(link.String())
		if err != nil {
			continue
		}
		if _, ok := seen[canon]; ok {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	return out
}

// filterRobots drops URLs disallowed by their host's robots.txt. checker
// may be nil, in which case every URL passes through unfiltered.
func filterRobots(checker *RobotsChecker, urls []string) []string {
	if checker == nil {
		return urls
	}
	out := urls[:0]
	for _, u := range urls {
		if checker.Allowed(u) {
			out = append(out, u)
		}
	}
	return out
}
