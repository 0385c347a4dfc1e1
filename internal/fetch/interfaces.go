package fetch

import (
	"context"
	"time"
)

// Strategy retrieves raw content for a URL. Implementations map their native
// failure signals onto *FetchError; any other error is classified by the
// orchestrator. The per-attempt deadline arrives on the context.
type Strategy interface {
	ID() StrategyID
	Fetch(ctx context.Context, rawURL string) (*Content, error)
}

// Limiter serializes request grants per domain. Acquire blocks until the
// domain's inter-request interval has elapsed since the previous grant; the
// only error it returns is the caller's context ending.
type Limiter interface {
	Acquire(ctx context.Context, domain string) error
	SetCrawlDelay(domain string, delay time.Duration)
}

// RobotsPolicy answers robots.txt questions for a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
