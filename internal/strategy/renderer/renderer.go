// Package renderer implements the full-browser strategy. It drives headless
// Chrome through chromedp so JavaScript-built product pages and script-based
// bot challenges resolve before the DOM is read.
package renderer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

const (
	defaultTimeout     = 45 * time.Second
	defaultMaxParallel = 2

	// settleDelay gives late scripts a beat to mutate the DOM after body
	// readiness. Price widgets on several large retailers hydrate in this
	// window.
	settleDelay = 500 * time.Millisecond
)

// Config controls the browser pool.
type Config struct {
	// UserAgent overrides the browser's default agent when non-empty.
	UserAgent string
	// MaxParallel caps concurrently open tabs.
	MaxParallel int
	// Timeout bounds a single navigation when the caller's context
	// carries no earlier deadline.
	Timeout time.Duration
	// Settle overrides the post-readiness pause for late scripts.
	Settle time.Duration
}

// Strategy keeps one warm browser process and opens a tab per fetch.
type Strategy struct {
	cfg           Config
	slots         chan struct{}
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	detector      *fetch.ChallengeDetector
	logger        *zap.Logger
}

// New launches the browser process and blocks until it is ready.
func New(cfg Config, detector *fetch.ChallengeDetector, logger *zap.Logger) (*Strategy, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = settleDelay
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("window-size", "1920,1080"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Strategy{
		cfg:           cfg,
		slots:         make(chan struct{}, cfg.MaxParallel),
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		detector:      detector,
		logger:        logger,
	}, nil
}

// Close tears down the browser and its allocator.
func (s *Strategy) Close() {
	s.browserCancel()
	s.allocCancel()
}

// ID implements fetch.Strategy.
func (s *Strategy) ID() fetch.StrategyID { return fetch.StrategyRenderer }

// Fetch implements fetch.Strategy.
func (s *Strategy) Fetch(ctx context.Context, rawURL string) (*fetch.Content, error) {
	release, err := s.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	// The tab context must descend from the browser context, not from the
	// caller's, so caller cancellation is forwarded by hand.
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.budget(ctx))
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := s.navigate(taskCtx, rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("render canceled: %w", ctxErr)
		}
		return nil, fetch.Classify(err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	s.logger.Debug("page rendered",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)

	return fetch.Interpret(s.detector, status, headers, []byte(html), responseURL)
}

func (s *Strategy) navigate(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		s.networkSetup(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (s *Strategy) networkSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(extraHeaders)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// extraHeaders rides along on every navigation. The browser fills in the
// rest of the fingerprint itself.
var extraHeaders = http.Header{
	"Accept-Language": {"en-US,en;q=0.9"},
}

func (s *Strategy) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

// budget picks the navigation deadline: the caller's remaining time when it
// is shorter than the configured timeout.
func (s *Strategy) budget(ctx context.Context) time.Duration {
	budget := s.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
	}
	return budget
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// responseMeta collects the CDP response event for the main document. With
// redirects the event fires per hop; the last one describes the page whose
// DOM is read.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url
}

// snapshotWithFallbacks fills gaps left by a quiet event stream: the URL
// falls back to the script-visible location and then the request URL, and a
// missing status reads as 200 because Chrome only renders pages it loaded.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
