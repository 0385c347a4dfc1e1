// Package bypass implements the fingerprint-mimicking HTTP strategy. It does
// not render JavaScript; it defeats the cheaper tier of bot detection by
// sending a full desktop-browser header set, rotating user agents, and
// carrying cookies across fetches of the same site.
package bypass

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

const defaultTimeout = 20 * time.Second

// Desktop agents rotated per fetch. Mixed browsers and platforms make the
// traffic profile less uniform than a single pinned agent.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// Header set a real browser sends on a top-level navigation. Accept-Encoding
// is left to the transport so decompression stays automatic.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
}

// Config controls the bypass client.
type Config struct {
	// UserAgents overrides the rotation pool when non-empty.
	UserAgents []string
	// Timeout applies only when the incoming context has no deadline.
	Timeout time.Duration
}

// Strategy wraps a colly collector cloned per fetch. Clones share the base
// collector's backend, so challenge cookies issued to one fetch are replayed
// on the next fetch of the same domain.
type Strategy struct {
	cfg      Config
	base     *colly.Collector
	agents   []string
	detector *fetch.ChallengeDetector
	logger   *zap.Logger
}

// New builds the bypass strategy.
func New(cfg Config, detector *fetch.ChallengeDetector, logger *zap.Logger) *Strategy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = defaultUserAgents
	}

	base := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	base.WithTransport(newTransport())

	return &Strategy{
		cfg:      cfg,
		base:     base,
		agents:   agents,
		detector: detector,
		logger:   logger,
	}
}

// ID implements fetch.Strategy.
func (s *Strategy) ID() fetch.StrategyID { return fetch.StrategyBypass }

// Fetch implements fetch.Strategy.
func (s *Strategy) Fetch(ctx context.Context, rawURL string) (*fetch.Content, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	collector := s.clone(ctx)

	var (
		content  *fetch.Content
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		for key, value := range browserHeaders {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		content, fetchErr = fetch.Interpret(s.detector, r.StatusCode, headerOf(r), r.Body, r.Request.URL.String())
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bypass fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if fetchErr != nil {
			return nil, fetch.Classify(fetchErr)
		}
		if visitErr != nil {
			return nil, fetch.Classify(fmt.Errorf("visit %s: %w", rawURL, visitErr))
		}
		if content == nil {
			return nil, fetch.MalformedError(errors.New("no response delivered"))
		}
		return content, nil
	}
}

// clone prepares a per-fetch collector with a freshly rotated user agent and
// the remaining context budget as its request timeout.
func (s *Strategy) clone(ctx context.Context) *colly.Collector {
	collector := s.base.Clone()
	collector.UserAgent = s.agents[rand.Intn(len(s.agents))]
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			collector.SetRequestTimeout(remaining)
		}
	}
	return collector
}

func headerOf(r *colly.Response) http.Header {
	if r.Headers == nil {
		return http.Header{}
	}
	return *r.Headers
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
