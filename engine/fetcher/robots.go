package fetcher

import (
	"bufio"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// robotsRules is the minimal subset of robots.txt directives enforced:
// User-agent: * Disallow lines only (no Crawl-delay or Allow patterns).
type robotsRules struct {
	denyAll   bool
	disallows []string
	fetchedAt time.Time
}

// RobotsChecker caches per-host robots.txt rules and evaluates whether a
// path may be crawled, so politeness is opt-in per Policy.RespectRobots
// rather than hard-wired into every fetch.
type RobotsChecker struct {
	client *http.Client
	mu     sync.RWMutex
	rules  map[string]*robotsRules
}

// NewRobotsChecker constructs a checker with its own short-timeout client,
// separate from the fetch policy's own timeout since robots.txt lookups
// should not block a page fetch for long.
func NewRobotsChecker() *RobotsChecker {
	return &RobotsChecker{
		client: &http.Client{Timeout: 5 * time.Second},
		rules:  make(map[string]*robotsRules),
	}
}

// Allowed reports whether rawURL may be fetched under its host's
// robots.txt. Network or parse errors are treated as allow-all.
func (c *RobotsChecker) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	if u.Path == "/robots.txt" {
		return true
	}

	rules := c.fetch(u)
	if rules == nil {
		return true
	}
	if rules.denyAll {
		return false
	}
	for _, d := range rules.disallows {
		if strings.HasPrefix(u.Path, d) {
			return false
		}
	}
	return true
}

func (c *RobotsChecker) fetch(u *url.URL) *robotsRules {
	host := u.Host
	c.mu.RLock()
	r, ok := c.rules[host]
	c.mu.RUnlock()
	if ok {
		return r
	}

	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	resp, err := c.client.Get(robotsURL)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		rr := &robotsRules{fetchedAt: time.Now()}
		c.store(host, rr)
		return rr
	}
	defer resp.Body.Close()

	rr := &robotsRules{fetchedAt: time.Now()}
	active := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			active = strings.TrimSpace(line[len("user-agent:"):]) == "*"
		case active && strings.HasPrefix(lower, "disallow:"):
			path := strings.TrimSpace(line[len("disallow:"):])
			switch path {
			case "":
			case "/":
				rr.denyAll = true
			default:
				rr.disallows = append(rr.disallows, path)
			}
		}
	}

	c.store(host, rr)
	return rr
}

func (c *RobotsChecker) store(host string, rr *robotsRules) {
	c.mu.Lock()
	c.rules[host] = rr
	c.mu.Unlock()
}
