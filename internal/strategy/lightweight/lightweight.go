// Package lightweight implements the plain concurrent HTTP strategy: lowest
// latency and highest throughput, no anti-bot evasion, and therefore the
// first to be challenged by protected sites.
package lightweight

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
	"go.uber.org/zap"
)

const (
	defaultUserAgent = "pagefetch/1.0 (+https://github.com/pricewatch-io/pagefetch)"
	defaultTimeout   = 15 * time.Second
	maxBodyBytes     = 10 << 20
)

// Config controls the plain client.
type Config struct {
	// UserAgent identifies the fetcher honestly; this strategy does not
	// pretend to be a browser.
	UserAgent string
	// Timeout applies only when the incoming context has no deadline.
	Timeout time.Duration
}

// Strategy issues unadorned GETs over a pooled transport.
type Strategy struct {
	cfg      Config
	client   *http.Client
	detector *fetch.ChallengeDetector
	logger   *zap.Logger
}

// New builds the lightweight strategy.
func New(cfg Config, detector *fetch.ChallengeDetector, logger *zap.Logger) *Strategy {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Strategy{
		cfg: cfg,
		client: &http.Client{
			Transport: newTransport(),
		},
		detector: detector,
		logger:   logger,
	}
}

// ID implements fetch.Strategy.
func (s *Strategy) ID() fetch.StrategyID { return fetch.StrategyLightweight }

// Fetch implements fetch.Strategy.
func (s *Strategy) Fetch(ctx context.Context, rawURL string) (*fetch.Content, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fetch.Classify(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fetch.Classify(err)
	}
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return fetch.Interpret(s.detector, resp.StatusCode, resp.Header, body, finalURL)
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
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
