// Package ratelimit enforces minimum inter-request spacing per target
// domain, with randomized jitter, robots.txt crawl-delay overrides, and an
// optional process-wide request ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pricewatch-io/pagefetch/internal/telemetry"
	"golang.org/x/time/rate"
)

// Config holds spacing parameters.
type Config struct {
	// BaseDelay is the minimum interval between grants for one domain.
	BaseDelay time.Duration
	// JitterRange widens each interval by a uniform random addition in
	// [0, JitterRange], desynchronizing workers that target one domain.
	JitterRange time.Duration
	// GlobalPerMinute caps total grants across all domains. Zero disables
	// the ceiling.
	GlobalPerMinute int
}

// DomainRateState is a snapshot of one domain's gate, for diagnostics.
type DomainRateState struct {
	Domain      string        `json:"domain"`
	LastGrantAt time.Time     `json:"last_grant_at"`
	CrawlDelay  time.Duration `json:"crawl_delay,omitempty"`
}

type domainGate struct {
	mu          sync.Mutex
	lastGrantAt time.Time
	crawlDelay  time.Duration
}

// Limiter serializes request grants per domain. Each grant reserves the next
// slot under a short lock, then sleeps outside it, so cancellation is prompt
// and no two callers are ever granted within less than the effective
// interval of each other. Grants for different domains never interact.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*domainGate

	base   time.Duration
	jitter time.Duration
	global *rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{
		domains: make(map[string]*domainGate),
		base:    cfg.BaseDelay,
		jitter:  cfg.JitterRange,
	}
	if cfg.GlobalPerMinute > 0 {
		l.global = rate.NewLimiter(rate.Limit(float64(cfg.GlobalPerMinute)/60.0), cfg.GlobalPerMinute)
	}
	return l
}

// Acquire blocks until the domain's inter-request interval has elapsed since
// the previous grant, then records the grant and returns. The only error is
// the caller's context ending while queued.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	if l.global != nil {
		if err := l.global.Wait(ctx); err != nil {
			return fmt.Errorf("global rate wait: %w", err)
		}
	}

	gate := l.gate(domain)
	grantAt := gate.reserve(time.Now(), l.base, l.jitter)

	wait := time.Until(grantAt)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
	}
	telemetry.ObserveRateLimitWait(domain, wait)
	return nil
}

// SetCrawlDelay records a robots-derived override for the domain. The
// effective interval becomes max(BaseDelay, delay).
func (l *Limiter) SetCrawlDelay(domain string, delay time.Duration) {
	gate := l.gate(domain)
	gate.mu.Lock()
	gate.crawlDelay = delay
	gate.mu.Unlock()
}

// States returns a snapshot of every domain gate, sorted by domain.
func (l *Limiter) States() []DomainRateState {
	l.mu.Lock()
	defer l.mu.Unlock()
	states := make([]DomainRateState, 0, len(l.domains))
	for domain, gate := range l.domains {
		gate.mu.Lock()
		states = append(states, DomainRateState{
			Domain:      domain,
			LastGrantAt: gate.lastGrantAt,
			CrawlDelay:  gate.crawlDelay,
		})
		gate.mu.Unlock()
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Domain < states[j].Domain })
	return states
}

func (l *Limiter) gate(domain string) *domainGate {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate, ok := l.domains[domain]
	if !ok {
		gate = &domainGate{}
		l.domains[domain] = gate
	}
	return gate
}

// reserve claims the next grant slot. The first caller for a domain is
// granted immediately; every later caller is scheduled at least the
// effective interval after the previous grant, jitter included.
func (g *domainGate) reserve(now time.Time, base, jitter time.Duration) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastGrantAt.IsZero() {
		g.lastGrantAt = now
		return now
	}

	interval := base
	if g.crawlDelay > interval {
		interval = g.crawlDelay
	}
	if jitter > 0 {
		interval += time.Duration(rand.Int63n(int64(jitter) + 1))
	}

	grantAt := g.lastGrantAt.Add(interval)
	if grantAt.Before(now) {
		grantAt = now
	}
	g.lastGrantAt = grantAt
	return grantAt
}
