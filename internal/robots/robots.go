// Package robots enforces robots.txt directives per host and surfaces the
// crawl-delay hints the rate limiter folds into its per-domain spacing.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// maxRobotsBytes bounds how much of a robots.txt response is read.
const maxRobotsBytes = 1 << 20

// Enforcer fetches, parses, and caches robots.txt per host. Fetch failures
// fail open: the URL is allowed and a warning is logged, matching how
// mainstream crawlers treat unreachable robots files.
type Enforcer struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// New builds a RobotsPolicy honoring the respect toggle. With respect off it
// returns a policy that allows everything and reports no crawl delay.
func New(respect bool, userAgent string, logger *zap.Logger) fetch.RobotsPolicy {
	if !respect {
		return &AllowAll{}
	}
	return &Enforcer{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed implements fetch.RobotsPolicy.
func (e *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := e.load(ctx, parsed)
	if err != nil {
		e.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(e.userAgent)
	if group == nil {
		return true
	}
	return group.Test(pathOf(parsed))
}

// CrawlDelay returns the Crawl-delay directive for the URL's host, or zero
// when the host declares none.
func (e *Enforcer) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	data, err := e.load(ctx, parsed)
	if err != nil {
		return 0
	}
	group := data.FindGroup(e.userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (e *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if data, ok := e.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	e.cache.Store(hostKey, data)
	return data, nil
}

func pathOf(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// AllowAll is the policy used when robots enforcement is disabled.
type AllowAll struct{}

// Allowed implements fetch.RobotsPolicy.
func (*AllowAll) Allowed(context.Context, string) bool { return true }

// CrawlDelay implements fetch.RobotsPolicy.
func (*AllowAll) CrawlDelay(context.Context, string) time.Duration { return 0 }
