package models

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Page is a single crawled URL and its extracted textual content.
type Page struct {
	URL           string    `json:"url"`
	Content       string    `json:"content"`
	CrawlCount    int       `json:"crawl_count"`
	LastCrawledAt time.Time `json:"last_crawled_at,omitempty"`
	ProcessedAt   time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BreakType is the rule that produced a chunk's trailing boundary.
type BreakType string

const (
	BreakMarkdownHeader BreakType = "markdown_header"
	BreakParagraph      BreakType = "paragraph"
	BreakNewline        BreakType = "newline"
	BreakSentence       BreakType = "sentence"
	BreakForce          BreakType = "force"
)

// Chunk is a segment of a page with an embedding.
type Chunk struct {
	ID        string    `json:"id"`
	PageURL   string    `json:"page_url"`
	Ordinal   int       `json:"ordinal"`
	Content   string    `json:"content"`
	BreakType BreakType `json:"break_type"`
	CharStart int       `json:"char_start"`
	CharEnd   int       `json:"char_end"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextualContent is the optional {context, content} wrapper. Embeddings
// are produced over Context + "\n\n" + Content when a context is present.
type ContextualContent struct {
	Context string `json:"context"`
	Content string `json:"content"`
}

// EmbeddingInput returns the text that should actually be embedded for a chunk.
func (c ContextualContent) EmbeddingInput() string {
	if c.Context == "" {
		return c.Content
	}
	return c.Context + "\n\n" + c.Content
}

// FrontierEntry is the scheduler's view of a URL awaiting or under crawl.
type FrontierEntry struct {
	URL           string
	CrawlCount    int
	LastCrawledAt time.Time
	Leased        bool
}

// CanonicalizeURL lower-cases scheme and host and drops the fragment.
func CanonicalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

// RateLimitConfig defines adaptive per-domain rate limiting applied by the
// fetcher, so polite crawling does not degrade into hammering the
// documentation origin.
type RateLimitConfig struct {
	Enabled             bool    `json:"enabled"`
	InitialRPS          float64 `json:"initial_rps"`
	MinRPS              float64 `json:"min_rps"`
	MaxRPS              float64 `json:"max_rps"`
	TokenBucketCapacity float64 `json:"token_bucket_capacity"`

	AIMDIncrease         float64       `json:"aimd_increase"`
	AIMDDecrease         float64       `json:"aimd_decrease"`
	LatencyTarget        time.Duration `json:"latency_target"`
	LatencyDegradeFactor float64       `json:"latency_degrade_factor"`

	ErrorRateThreshold       float64       `json:"error_rate_threshold"`
	MinSamplesToTrip         int           `json:"min_samples_to_trip"`
	ConsecutiveFailThreshold int           `json:"consecutive_fail_threshold"`
	OpenStateDuration        time.Duration `json:"open_state_duration"`
	HalfOpenProbes           int           `json:"half_open_probes"`

	RetryBaseDelay   time.Duration `json:"retry_base_delay"`
	RetryMaxDelay    time.Duration `json:"retry_max_delay"`
	RetryMaxAttempts int           `json:"retry_max_attempts"`

	StatsWindow    time.Duration `json:"stats_window"`
	StatsBucket    time.Duration `json:"stats_bucket"`
	DomainStateTTL time.Duration `json:"domain_state_ttl"`
	Shards         int           `json:"shards"`
}

// FailureClass is the error taxonomy used to decide retry/backoff behavior.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
	FailureBlocked   FailureClass = "blocked"
)

// MinContentLength is the minimum extracted-content length, in characters,
// below which a page is treated as malformed or empty rather than persisted.
const MinContentLength = 100

// Sentinel errors, kept package-level so callers classify with errors.Is
// rather than string matching.
var (
	ErrEmptyURL           = errors.New("models: url is empty")
	ErrMissingStartURL    = errors.New("models: start url is required")
	ErrContentTooShort    = errors.New("models: extracted content below minimum length")
	ErrContentNotFound    = errors.New("models: main content not found on page")
	ErrMalformedHTML      = errors.New("models: content appears to be malformed HTML")
	ErrChallengePage      = errors.New("models: response resembles an anti-bot challenge page")
	ErrHTTPError          = errors.New("models: http request failed")
	ErrEmbeddingDimension = errors.New("models: embedding dimension mismatch")
	ErrNoChunks           = errors.New("models: no chunks produced for page")
	ErrURLNotAllowed      = errors.New("models: url is not in allowed domains")
)

// PipelineError wraps a failure with the URL, pipeline stage, and failure
// class it occurred under.
type PipelineError struct {
	URL   string
	Stage string
	Class FailureClass
	Err   error
}

func (e *PipelineError) Error() string {
	return e.Stage + "(" + e.URL + "): " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError constructs a classified pipeline error.
func NewPipelineError(rawURL, stage string, class FailureClass, err error) *PipelineError {
	return &PipelineError{URL: rawURL, Stage: stage, Class: class, Err: err}
}
