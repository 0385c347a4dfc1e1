package fallback

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pricewatch-io/pagefetch/internal/events"
	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

// Config carries the orchestrator's policy knobs.
type Config struct {
	// MaxRetriesPerStrategy is how many extra tries a strategy gets after
	// its first failed attempt before the job advances past it.
	MaxRetriesPerStrategy int
	// AttemptTimeout is the per-attempt deadline handed to strategies.
	AttemptTimeout time.Duration
	// Backoff shapes the delay between same-strategy retries.
	Backoff Backoff
	// Adaptive, when non-nil, reorders the ladder per domain across jobs.
	Adaptive *Adaptive
}

// Orchestrator resolves one job at a time to a terminal state. It is
// stateless across jobs apart from the optional adaptive table and safe for
// concurrent Execute calls.
type Orchestrator struct {
	cfg        Config
	strategies []fetch.Strategy
	limiter    fetch.Limiter
	clock      fetch.Clock
	emitter    events.Emitter
	logger     *zap.Logger
}

// New wires the orchestrator. Strategies are tried in the given order unless
// the adaptive layer demotes one for a domain.
func New(cfg Config, strategies []fetch.Strategy, limiter fetch.Limiter, clock fetch.Clock, emitter events.Emitter, logger *zap.Logger) (*Orchestrator, error) {
	if len(strategies) == 0 {
		return nil, errors.New("at least one strategy required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter required")
	}
	if clock == nil {
		return nil, errors.New("clock required")
	}
	if cfg.MaxRetriesPerStrategy < 0 {
		cfg.MaxRetriesPerStrategy = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		strategies: strategies,
		limiter:    limiter,
		clock:      clock,
		emitter:    emitter,
		logger:     logger,
	}, nil
}

// Execute drives the job through the ladder until it succeeds, exhausts
// every strategy, runs out of attempt budget, or is canceled. On success the
// raw content and winning strategy come back; otherwise the terminal failure
// does. Either way the job's state and attempt history reflect what happened.
func (o *Orchestrator) Execute(ctx context.Context, job *fetch.Job) (*fetch.Content, fetch.StrategyID, *fetch.FetchError) {
	order := o.strategyOrder(job.Request.Domain)
	budget := attemptBudget(job.Request.MaxAttempts, len(order), o.cfg.MaxRetriesPerStrategy)

	job.State = fetch.JobStateAttempting
	var last *fetch.FetchError
	for job.StrategyIndex < len(order) {
		strategy := order[job.StrategyIndex]
		content, fe := o.runStrategy(ctx, job, strategy, budget)
		if fe == nil {
			job.State = fetch.JobStateSucceeded
			return content, strategy.ID(), nil
		}
		last = fe
		if fe.Kind == fetch.KindCanceled {
			job.State = fetch.JobStateCanceled
			return nil, "", fe
		}
		if len(job.Attempts) >= budget {
			break
		}
		job.StrategyIndex++
	}
	job.State = fetch.JobStateExhausted
	return nil, "", last
}

// runStrategy gives one strategy its first attempt plus retries while the
// failure stays retryable and budgets allow.
func (o *Orchestrator) runStrategy(ctx context.Context, job *fetch.Job, strategy fetch.Strategy, budget int) (*fetch.Content, *fetch.FetchError) {
	var retries int
	for {
		content, fe := o.attempt(ctx, job, strategy)
		if fe == nil {
			return content, nil
		}
		if fe.Kind == fetch.KindCanceled {
			return nil, fe
		}
		if len(job.Attempts) >= budget || !fe.Retryable() || retries >= o.cfg.MaxRetriesPerStrategy {
			return nil, fe
		}

		wait := o.cfg.Backoff.Delay(retries, fe)
		retries++
		o.logger.Debug("retrying strategy",
			zap.String("job_id", job.ID),
			zap.String("strategy", string(strategy.ID())),
			zap.String("kind", string(fe.Kind)),
			zap.Duration("backoff", wait),
			zap.Int("retry", retries),
		)
		if err := o.sleep(ctx, wait); err != nil {
			return nil, fetch.CanceledError(err)
		}
	}
}

// attempt performs one rate-gated strategy call and appends it to the job's
// history. Cancellation during the rate wait is not an attempt.
func (o *Orchestrator) attempt(parent context.Context, job *fetch.Job, strategy fetch.Strategy) (*fetch.Content, *fetch.FetchError) {
	if err := o.limiter.Acquire(parent, job.Request.Domain); err != nil {
		return nil, fetch.Classify(err)
	}

	ctx := parent
	cancel := func() {}
	if o.cfg.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, o.cfg.AttemptTimeout)
	}
	defer cancel()

	started := o.clock.Now()
	o.emit(events.Event{
		JobID:    job.ID,
		TS:       started,
		Stage:    events.StageAttemptStart,
		Domain:   job.Request.Domain,
		URL:      job.Request.URL,
		Strategy: strategy.ID(),
	})

	content, err := strategy.Fetch(ctx, job.Request.URL)
	elapsed := o.clock.Now().Sub(started)
	fe := fetch.Classify(err)

	job.RecordAttempt(fetch.StrategyAttempt{
		Strategy:   strategy.ID(),
		StartedAt:  started,
		DurationMs: elapsed.Milliseconds(),
		Err:        fe,
	})
	o.cfg.Adaptive.Record(job.Request.Domain, strategy.ID(), fe == nil)

	done := events.Event{
		JobID:    job.ID,
		TS:       o.clock.Now(),
		Stage:    events.StageAttemptDone,
		Domain:   job.Request.Domain,
		URL:      job.Request.URL,
		Strategy: strategy.ID(),
		Result:   events.AttemptResult(fe),
		Dur:      elapsed,
	}
	if fe != nil {
		done.Note = fe.Error()
	}
	o.emit(done)

	if fe != nil {
		o.logger.Debug("attempt failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.Request.URL),
			zap.String("strategy", string(strategy.ID())),
			zap.String("kind", string(fe.Kind)),
			zap.Duration("elapsed", elapsed),
		)
		return nil, fe
	}
	return content, nil
}

func (o *Orchestrator) strategyOrder(domain string) []fetch.Strategy {
	if o.cfg.Adaptive == nil {
		return o.strategies
	}
	defaults := make([]fetch.StrategyID, len(o.strategies))
	byID := make(map[fetch.StrategyID]fetch.Strategy, len(o.strategies))
	for i, s := range o.strategies {
		defaults[i] = s.ID()
		byID[s.ID()] = s
	}
	ordered := make([]fetch.Strategy, 0, len(o.strategies))
	for _, id := range o.cfg.Adaptive.Order(domain, defaults) {
		ordered = append(ordered, byID[id])
	}
	return ordered
}

// attemptBudget caps total attempts for one job. A request-level MaxAttempts
// wins when set; otherwise every strategy gets its full retry allowance.
func attemptBudget(maxAttempts, strategies, retries int) int {
	if maxAttempts > 0 {
		return maxAttempts
	}
	return strategies * (retries + 1)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) emit(evt events.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}
