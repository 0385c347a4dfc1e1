// Command pagefetch reads product-page fetch requests as JSON Lines, drives
// them through the strategy-fallback pipeline, and writes one outcome line
// per request: a structured product record or a terminal failure with the
// full attempt history.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pricewatch-io/pagefetch/internal/clock/system"
	"github.com/pricewatch-io/pagefetch/internal/config"
	"github.com/pricewatch-io/pagefetch/internal/events"
	"github.com/pricewatch-io/pagefetch/internal/events/sinks"
	"github.com/pricewatch-io/pagefetch/internal/extract"
	"github.com/pricewatch-io/pagefetch/internal/fallback"
	"github.com/pricewatch-io/pagefetch/internal/fetch"
	"github.com/pricewatch-io/pagefetch/internal/id/uuid"
	"github.com/pricewatch-io/pagefetch/internal/logging"
	"github.com/pricewatch-io/pagefetch/internal/ops"
	"github.com/pricewatch-io/pagefetch/internal/ratelimit"
	"github.com/pricewatch-io/pagefetch/internal/robots"
	"github.com/pricewatch-io/pagefetch/internal/runner"
	"github.com/pricewatch-io/pagefetch/internal/strategy/bypass"
	"github.com/pricewatch-io/pagefetch/internal/strategy/lightweight"
	"github.com/pricewatch-io/pagefetch/internal/strategy/renderer"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	inPath := flag.String("in", "-", "requests file (JSON Lines), - for stdin")
	outPath := flag.String("out", "-", "outcomes file (JSON Lines), - for stdout")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger, *inPath, *outPath); err != nil {
		logger.Error("pagefetch failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger, inPath, outPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	requests, err := loadRequests(inPath, cfg.Fetch.MaxAttemptsPerJob)
	if err != nil {
		return fmt.Errorf("load requests: %w", err)
	}
	if len(requests) == 0 {
		logger.Warn("no requests to process")
		return nil
	}

	clock := system.New()
	idGen := uuid.New()
	detector := fetch.NewChallengeDetector()
	limiter := ratelimit.New(ratelimit.Config{
		BaseDelay:       cfg.PerDomainBaseDelay(),
		JitterRange:     cfg.JitterRange(),
		GlobalPerMinute: cfg.Fetch.GlobalRequestsPerMin,
	})
	robotsPolicy := robots.New(cfg.Fetch.RespectRobotsTxt, cfg.Fetch.UserAgent, logger)

	strategies, closeStrategies, err := buildStrategies(cfg, detector, logger)
	if err != nil {
		return err
	}
	defer closeStrategies()

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("register lifecycle metrics: %w", err)
	}
	hub := events.NewHub(events.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("event hub close", zap.Error(err))
		}
	}()

	var adaptive *fallback.Adaptive
	if cfg.Fetch.AdaptiveReordering {
		adaptive = fallback.NewAdaptive(0, 0, 0)
	}

	orch, err := fallback.New(fallback.Config{
		MaxRetriesPerStrategy: cfg.Fetch.MaxRetriesPerStrategy,
		AttemptTimeout:        cfg.RequestTimeout(),
		Backoff: fallback.Backoff{
			Base:          cfg.BackoffBase(),
			Max:           cfg.BackoffMax(),
			RetryAfterCap: cfg.RetryAfterCap(),
		},
		Adaptive: adaptive,
	}, strategies, limiter, clock, hub, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	pool, err := runner.New(
		runner.Config{MaxConcurrentJobs: cfg.Fetch.MaxConcurrentJobs},
		orch,
		extract.New(locatorsFrom(cfg.Extract.Locators)),
		robotsPolicy,
		limiter,
		clock,
		idGen,
		hub,
		logger,
	)
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	if cfg.Ops.Addr != "" {
		opsSrv := ops.New(cfg.Ops.Addr, limiter, logger)
		go func() {
			if err := opsSrv.Start(); err != nil {
				logger.Error("ops server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := opsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("ops server shutdown", zap.Error(err))
			}
		}()
	}

	out, closeOut, err := openOutput(outPath)
	if err != nil {
		return err
	}
	defer closeOut()

	logger.Info("starting batch",
		zap.Int("requests", len(requests)),
		zap.Strings("strategy_order", cfg.Fetch.StrategyPriorityOrder),
		zap.Int("max_concurrent_jobs", cfg.Fetch.MaxConcurrentJobs),
	)

	encoder := json.NewEncoder(out)
	var succeeded, failed int
	for outcome := range pool.Run(ctx, requests) {
		if outcome.Succeeded() {
			succeeded++
		} else {
			failed++
		}
		if err := encoder.Encode(outcome); err != nil {
			return fmt.Errorf("write outcome: %w", err)
		}
	}

	logger.Info("batch finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)
	return nil
}

// buildStrategies instantiates the configured ladder in priority order. The
// returned close func tears down strategy-local resources (the browser).
func buildStrategies(cfg config.Config, detector *fetch.ChallengeDetector, logger *zap.Logger) ([]fetch.Strategy, func(), error) {
	var (
		strategies []fetch.Strategy
		closers    []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, id := range cfg.StrategyOrder() {
		switch id {
		case fetch.StrategyLightweight:
			strategies = append(strategies, lightweight.New(lightweight.Config{}, detector, logger))
		case fetch.StrategyBypass:
			strategies = append(strategies, bypass.New(bypass.Config{
				UserAgents: cfg.Bypass.UserAgents,
			}, detector, logger))
		case fetch.StrategyRenderer:
			rend, err := renderer.New(renderer.Config{
				UserAgent:   cfg.Fetch.UserAgent,
				MaxParallel: cfg.Renderer.MaxTabs,
				Settle:      cfg.RendererSettle(),
			}, detector, logger)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("launch renderer: %w", err)
			}
			strategies = append(strategies, rend)
			closers = append(closers, rend.Close)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown strategy %q in priority order", id)
		}
	}
	return strategies, closeAll, nil
}

// loadRequests reads one fetch.Request per line, skipping blanks. Requests
// without their own attempt cap inherit the configured one.
func loadRequests(path string, maxAttempts int) ([]fetch.Request, error) {
	var reader io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer func() {
			_ = f.Close()
		}()
		reader = f
	}

	var requests []fetch.Request
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var req fetch.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if req.MaxAttempts == 0 {
			req.MaxAttempts = maxAttempts
		}
		requests = append(requests, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}
	return requests, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, func() {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			fmt.Fprintf(os.Stderr, "close output: %v\n", err)
		}
	}, nil
}

func locatorsFrom(cfg config.LocatorConfig) extract.Locators {
	return extract.Locators{
		Title:        cfg.Title,
		Price:        cfg.Price,
		Rating:       cfg.Rating,
		Category:     cfg.Category,
		Brand:        cfg.Brand,
		ReviewCount:  cfg.ReviewCount,
		Description:  cfg.Description,
		Availability: cfg.Availability,
	}
}
