// Package config builds the single immutable configuration snapshot the
// rest of the engine is constructed from: environment variables bound
// through viper, an optional YAML overlay, and fsnotify-driven hot-reload
// of that overlay for values safe to change without a restart (pollution
// patterns only; never credentials or the database DSN).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// EmbeddingMode selects between a remote API provider and a local sidecar.
type EmbeddingMode string

const (
	EmbeddingModeAPI   EmbeddingMode = "api"
	EmbeddingModeLocal EmbeddingMode = "local"
)

// Config is the complete, immutable set of values every component is
// constructed from. It is built once at startup by Load; nothing in the
// engine re-reads viper afterward.
type Config struct {
	TargetURL string

	EmbeddingMode      EmbeddingMode
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingMaxLength int
	EmbeddingAPIKey    string
	EmbeddingEndpoint  string

	RerankerModel    string
	RerankerEndpoint string
	UseReranking     bool
	UseHybridSearch  bool

	DatabaseDSN string

	CrawlerBatchSize      int
	CrawlerMaxConcurrent  int
	ProcessorBatchSize    int
	CrawlInterval         time.Duration
	ChunkSize             int

	// PollutionPatterns is a data table, not code, driving the extractor's
	// line-filter stage; safe to hot-reload from the optional YAML overlay.
	PollutionPatterns []string

	RespectRobots bool
	RateLimit     engmodels.RateLimitConfig
}

// Load reads unprefixed environment variables, an optional YAML
// config file, and applies defaults, returning one immutable Config.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	return build(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embedding_mode", string(EmbeddingModeAPI))
	v.SetDefault("embedding_max_length", 512)
	v.SetDefault("use_reranking", false)
	v.SetDefault("use_hybrid_search", false)
	v.SetDefault("crawler_batch_size", 30)
	v.SetDefault("crawler_max_concurrent", 30)
	v.SetDefault("processor_batch_size", 5)
	v.SetDefault("crawl_interval", "500ms")
	v.SetDefault("chunk_size", 5000)
	v.SetDefault("respect_robots", true)

	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_initial_rps", 2.0)
	v.SetDefault("rate_limit_min_rps", 0.5)
	v.SetDefault("rate_limit_max_rps", 10.0)
	v.SetDefault("rate_limit_token_bucket_capacity", 5.0)
	v.SetDefault("rate_limit_aimd_increase", 0.2)
	v.SetDefault("rate_limit_aimd_decrease", 0.5)
	v.SetDefault("rate_limit_latency_target", "2s")
	v.SetDefault("rate_limit_latency_degrade_factor", 2.0)
	v.SetDefault("rate_limit_error_rate_threshold", 0.3)
	v.SetDefault("rate_limit_min_samples_to_trip", 10)
	v.SetDefault("rate_limit_consecutive_fail_threshold", 5)
	v.SetDefault("rate_limit_open_state_duration", "30s")
	v.SetDefault("rate_limit_half_open_probes", 3)
	v.SetDefault("rate_limit_retry_base_delay", "1s")
	v.SetDefault("rate_limit_retry_max_delay", "4s")
	v.SetDefault("rate_limit_retry_max_attempts", 3)
	v.SetDefault("rate_limit_stats_window", "5m")
	v.SetDefault("rate_limit_stats_bucket", "10s")
	v.SetDefault("rate_limit_domain_state_ttl", "30m")
	v.SetDefault("rate_limit_shards", 16)
}

func build(v *viper.Viper) (Config, error) {
	cfg := Config{
		TargetURL: v.GetString("target_url"),

		EmbeddingMode:      EmbeddingMode(v.GetString("embedding_mode")),
		EmbeddingModel:     v.GetString("embedding_model"),
		EmbeddingDimension: v.GetInt("embedding_dim"),
		EmbeddingMaxLength: v.GetInt("embedding_max_length"),
		EmbeddingAPIKey:    v.GetString("embedding_api_key"),
		EmbeddingEndpoint:  v.GetString("embedding_endpoint"),

		RerankerModel:    v.GetString("reranker_model"),
		RerankerEndpoint: v.GetString("reranker_endpoint"),
		UseReranking:     v.GetBool("use_reranking"),
		UseHybridSearch:  v.GetBool("use_hybrid_search"),

		DatabaseDSN: v.GetString("database_dsn"),

		CrawlerBatchSize:     v.GetInt("crawler_batch_size"),
		CrawlerMaxConcurrent: v.GetInt("crawler_max_concurrent"),
		ProcessorBatchSize:   v.GetInt("processor_batch_size"),
		CrawlInterval:        v.GetDuration("crawl_interval"),
		ChunkSize:            v.GetInt("chunk_size"),

		PollutionPatterns: v.GetStringSlice("pollution_patterns"),

		RespectRobots: v.GetBool("respect_robots"),
		RateLimit: engmodels.RateLimitConfig{
			Enabled:                  v.GetBool("rate_limit_enabled"),
			InitialRPS:               v.GetFloat64("rate_limit_initial_rps"),
			MinRPS:                   v.GetFloat64("rate_limit_min_rps"),
			MaxRPS:                   v.GetFloat64("rate_limit_max_rps"),
			TokenBucketCapacity:      v.GetFloat64("rate_limit_token_bucket_capacity"),
			AIMDIncrease:             v.GetFloat64("rate_limit_aimd_increase"),
			AIMDDecrease:             v.GetFloat64("rate_limit_aimd_decrease"),
			LatencyTarget:            v.GetDuration("rate_limit_latency_target"),
			LatencyDegradeFactor:     v.GetFloat64("rate_limit_latency_degrade_factor"),
			ErrorRateThreshold:       v.GetFloat64("rate_limit_error_rate_threshold"),
			MinSamplesToTrip:         v.GetInt("rate_limit_min_samples_to_trip"),
			ConsecutiveFailThreshold: v.GetInt("rate_limit_consecutive_fail_threshold"),
			OpenStateDuration:        v.GetDuration("rate_limit_open_state_duration"),
			HalfOpenProbes:           v.GetInt("rate_limit_half_open_probes"),
			RetryBaseDelay:           v.GetDuration("rate_limit_retry_base_delay"),
			RetryMaxDelay:            v.GetDuration("rate_limit_retry_max_delay"),
			RetryMaxAttempts:         v.GetInt("rate_limit_retry_max_attempts"),
			StatsWindow:              v.GetDuration("rate_limit_stats_window"),
			StatsBucket:              v.GetDuration("rate_limit_stats_bucket"),
			DomainStateTTL:           v.GetDuration("rate_limit_domain_state_ttl"),
			Shards:                   v.GetInt("rate_limit_shards"),
		},
	}

	if cfg.TargetURL == "" {
		return Config{}, fmt.Errorf("config: TARGET_URL is required")
	}
	if cfg.EmbeddingModel == "" {
		return Config{}, fmt.Errorf("config: EMBEDDING_MODEL is required")
	}
	if cfg.EmbeddingDimension <= 0 {
		return Config{}, fmt.Errorf("config: EMBEDDING_DIM is required")
	}
	if cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("config: database DSN is required")
	}
	if cfg.EmbeddingMode != EmbeddingModeAPI && cfg.EmbeddingMode != EmbeddingModeLocal {
		return Config{}, fmt.Errorf("config: EMBEDDING_MODE must be %q or %q, got %q",
			EmbeddingModeAPI, EmbeddingModeLocal, cfg.EmbeddingMode)
	}

	return cfg, nil
}

// Overlay is the subset of Config that may change at runtime without
// restarting the process.
type Overlay struct {
	PollutionPatterns []string
}

// WatchOverlay watches overlayPath for changes and invokes onChange with
// the freshly parsed Overlay whenever it is rewritten. It never touches
// credentials or the database DSN, which live only in the immutable
// Config built at startup.
func WatchOverlay(overlayPath string, onChange func(Overlay)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create overlay watcher: %w", err)
	}
	if err := watcher.Add(overlayPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch overlay %s: %w", overlayPath, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				ov := viper.New()
				ov.SetConfigFile(overlayPath)
				if err := ov.ReadInConfig(); err != nil {
					continue
				}
				onChange(Overlay{PollutionPatterns: ov.GetStringSlice("pollution_patterns")})
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher, nil
}
