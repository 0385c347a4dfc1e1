package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, []string{"lightweight", "bypass", "renderer"}, cfg.Fetch.StrategyPriorityOrder)
	require.Equal(t, 2*time.Second, cfg.PerDomainBaseDelay())
	require.Equal(t, 2*time.Second, cfg.JitterRange())
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
	require.Equal(t, 2, cfg.Fetch.MaxRetriesPerStrategy)
	require.Equal(t, 3, cfg.Fetch.MaxConcurrentJobs)
	require.True(t, cfg.Fetch.RespectRobotsTxt)
	require.Zero(t, cfg.Fetch.GlobalRequestsPerMin)
	require.False(t, cfg.Fetch.AdaptiveReordering)
	require.Equal(t, 500*time.Millisecond, cfg.BackoffBase())
	require.Equal(t, 15*time.Second, cfg.BackoffMax())
	require.Equal(t, 30*time.Second, cfg.RetryAfterCap())
	require.Equal(t, 2, cfg.Renderer.MaxTabs)
	require.Empty(t, cfg.Ops.Addr)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagefetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fetch:
  strategy_priority_order: [renderer, bypass]
  per_domain_base_delay_ms: 500
  max_concurrent_jobs: 8
ops:
  addr: ":9090"
extract:
  locators:
    title: ["h1.custom-title"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []fetch.StrategyID{fetch.StrategyRenderer, fetch.StrategyBypass}, cfg.StrategyOrder())
	require.Equal(t, 500*time.Millisecond, cfg.PerDomainBaseDelay())
	require.Equal(t, 8, cfg.Fetch.MaxConcurrentJobs)
	require.Equal(t, ":9090", cfg.Ops.Addr)
	require.Equal(t, []string{"h1.custom-title"}, cfg.Extract.Locators.Title)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PAGEFETCH_FETCH_MAX_CONCURRENT_JOBS", "7")
	t.Setenv("PAGEFETCH_FETCH_RESPECT_ROBOTS_TXT", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Fetch.MaxConcurrentJobs)
	require.False(t, cfg.Fetch.RespectRobotsTxt)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty priority order",
			mutate:  func(c *Config) { c.Fetch.StrategyPriorityOrder = nil },
			wantErr: "strategy_priority_order",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Fetch.StrategyPriorityOrder = []string{"telepathy"} },
			wantErr: "unknown strategy",
		},
		{
			name:    "duplicate strategy",
			mutate:  func(c *Config) { c.Fetch.StrategyPriorityOrder = []string{"bypass", "bypass"} },
			wantErr: "twice",
		},
		{
			name:    "non-positive base delay",
			mutate:  func(c *Config) { c.Fetch.PerDomainBaseDelayMs = 0 },
			wantErr: "per_domain_base_delay_ms",
		},
		{
			name:    "negative jitter",
			mutate:  func(c *Config) { c.Fetch.JitterRangeMs = -1 },
			wantErr: "jitter_range_ms",
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *Config) { c.Fetch.RequestTimeoutMs = 0 },
			wantErr: "request_timeout_ms",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Fetch.MaxRetriesPerStrategy = -1 },
			wantErr: "max_retries_per_strategy",
		},
		{
			name:    "non-positive concurrency",
			mutate:  func(c *Config) { c.Fetch.MaxConcurrentJobs = 0 },
			wantErr: "max_concurrent_jobs",
		},
		{
			name:    "non-positive renderer tabs",
			mutate:  func(c *Config) { c.Renderer.MaxTabs = 0 },
			wantErr: "max_tabs",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
