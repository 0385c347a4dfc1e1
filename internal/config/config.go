// Package config loads and validates pagefetch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

// Config captures every knob the pipeline reads at startup. Values come from
// defaults, an optional config file, and PAGEFETCH_* environment overrides,
// in that order of precedence.
type Config struct {
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Backoff  BackoffConfig  `mapstructure:"backoff"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Bypass   BypassConfig   `mapstructure:"bypass"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Log      LogConfig      `mapstructure:"log"`
}

// FetchConfig governs the runner, orchestrator, and rate limiter.
type FetchConfig struct {
	StrategyPriorityOrder []string `mapstructure:"strategy_priority_order"`
	PerDomainBaseDelayMs  int      `mapstructure:"per_domain_base_delay_ms"`
	JitterRangeMs         int      `mapstructure:"jitter_range_ms"`
	RequestTimeoutMs      int      `mapstructure:"request_timeout_ms"`
	MaxRetriesPerStrategy int      `mapstructure:"max_retries_per_strategy"`
	MaxConcurrentJobs     int      `mapstructure:"max_concurrent_jobs"`
	MaxAttemptsPerJob     int      `mapstructure:"max_attempts_per_job"`
	RespectRobotsTxt      bool     `mapstructure:"respect_robots_txt"`
	GlobalRequestsPerMin  int      `mapstructure:"global_requests_per_minute"`
	AdaptiveReordering    bool     `mapstructure:"adaptive_reordering"`
	UserAgent             string   `mapstructure:"user_agent"`
}

// BackoffConfig shapes the delay between same-strategy retries.
type BackoffConfig struct {
	BaseMs          int `mapstructure:"base_ms"`
	MaxMs           int `mapstructure:"max_ms"`
	RetryAfterCapMs int `mapstructure:"retry_after_cap_ms"`
}

// RendererConfig configures the headless browser strategy.
type RendererConfig struct {
	MaxTabs  int `mapstructure:"max_tabs"`
	SettleMs int `mapstructure:"settle_ms"`
}

// BypassConfig configures the fingerprint-mimicking strategy.
type BypassConfig struct {
	UserAgents []string `mapstructure:"user_agents"`
}

// ExtractConfig overrides the per-field locator lists. Empty lists fall back
// to the built-in defaults field by field.
type ExtractConfig struct {
	Locators LocatorConfig `mapstructure:"locators"`
}

// LocatorConfig mirrors extract.Locators for mapstructure decoding.
type LocatorConfig struct {
	Title        []string `mapstructure:"title"`
	Price        []string `mapstructure:"price"`
	Rating       []string `mapstructure:"rating"`
	Category     []string `mapstructure:"category"`
	Brand        []string `mapstructure:"brand"`
	ReviewCount  []string `mapstructure:"review_count"`
	Description  []string `mapstructure:"description"`
	Availability []string `mapstructure:"availability"`
}

// OpsConfig controls the operational HTTP listener. An empty address
// disables it.
type OpsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig toggles zap development features.
type LogConfig struct {
	Development bool `mapstructure:"development"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch.strategy_priority_order", []string{"lightweight", "bypass", "renderer"})
	v.SetDefault("fetch.per_domain_base_delay_ms", 2000)
	v.SetDefault("fetch.jitter_range_ms", 2000)
	v.SetDefault("fetch.request_timeout_ms", 30000)
	v.SetDefault("fetch.max_retries_per_strategy", 2)
	v.SetDefault("fetch.max_concurrent_jobs", 3)
	v.SetDefault("fetch.max_attempts_per_job", 0)
	v.SetDefault("fetch.respect_robots_txt", true)
	v.SetDefault("fetch.global_requests_per_minute", 0)
	v.SetDefault("fetch.adaptive_reordering", false)
	v.SetDefault("fetch.user_agent", defaultUserAgent)
	v.SetDefault("backoff.base_ms", 500)
	v.SetDefault("backoff.max_ms", 15000)
	v.SetDefault("backoff.retry_after_cap_ms", 30000)
	v.SetDefault("renderer.max_tabs", 2)
	v.SetDefault("renderer.settle_ms", 500)
	v.SetDefault("ops.addr", "")
	v.SetDefault("log.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Fetch.StrategyPriorityOrder) == 0 {
		return fmt.Errorf("fetch.strategy_priority_order must not be empty")
	}
	seen := make(map[string]bool, len(c.Fetch.StrategyPriorityOrder))
	for _, name := range c.Fetch.StrategyPriorityOrder {
		if _, err := fetch.ParseStrategyID(name); err != nil {
			return fmt.Errorf("fetch.strategy_priority_order: %w", err)
		}
		if seen[name] {
			return fmt.Errorf("fetch.strategy_priority_order lists %q twice", name)
		}
		seen[name] = true
	}
	if c.Fetch.PerDomainBaseDelayMs <= 0 {
		return fmt.Errorf("fetch.per_domain_base_delay_ms must be > 0")
	}
	if c.Fetch.JitterRangeMs < 0 {
		return fmt.Errorf("fetch.jitter_range_ms must be >= 0")
	}
	if c.Fetch.RequestTimeoutMs <= 0 {
		return fmt.Errorf("fetch.request_timeout_ms must be > 0")
	}
	if c.Fetch.MaxRetriesPerStrategy < 0 {
		return fmt.Errorf("fetch.max_retries_per_strategy must be >= 0")
	}
	if c.Fetch.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("fetch.max_concurrent_jobs must be > 0")
	}
	if c.Fetch.GlobalRequestsPerMin < 0 {
		return fmt.Errorf("fetch.global_requests_per_minute must be >= 0")
	}
	if c.Renderer.MaxTabs <= 0 {
		return fmt.Errorf("renderer.max_tabs must be > 0")
	}
	return nil
}

// StrategyOrder returns the validated priority ladder.
func (c Config) StrategyOrder() []fetch.StrategyID {
	order := make([]fetch.StrategyID, 0, len(c.Fetch.StrategyPriorityOrder))
	for _, name := range c.Fetch.StrategyPriorityOrder {
		order = append(order, fetch.StrategyID(name))
	}
	return order
}

// Duration helpers keep millisecond knobs out of the wiring code.

// PerDomainBaseDelay returns the minimum inter-request interval per domain.
func (c Config) PerDomainBaseDelay() time.Duration {
	return time.Duration(c.Fetch.PerDomainBaseDelayMs) * time.Millisecond
}

// JitterRange returns the randomized addition applied per grant.
func (c Config) JitterRange() time.Duration {
	return time.Duration(c.Fetch.JitterRangeMs) * time.Millisecond
}

// RequestTimeout returns the per-attempt deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Fetch.RequestTimeoutMs) * time.Millisecond
}

// BackoffBase returns the retry schedule's first-step delay.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Backoff.BaseMs) * time.Millisecond
}

// BackoffMax returns the retry schedule's ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Backoff.MaxMs) * time.Millisecond
}

// RetryAfterCap bounds how long a server-sent Retry-After hint is honored.
func (c Config) RetryAfterCap() time.Duration {
	return time.Duration(c.Backoff.RetryAfterCapMs) * time.Millisecond
}

// RendererSettle returns the post-readiness pause for late JS.
func (c Config) RendererSettle() time.Duration {
	return time.Duration(c.Renderer.SettleMs) * time.Millisecond
}
