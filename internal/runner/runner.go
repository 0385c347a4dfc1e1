// Package runner is the pipeline's concurrency surface. It accepts a batch
// of fetch requests, bounds in-flight jobs with a fixed worker pool, walks
// each job through the robots gate and the fallback orchestrator, extracts a
// product record from successful fetches, and streams outcomes as they
// resolve.
package runner

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/pricewatch-io/pagefetch/internal/events"
	"github.com/pricewatch-io/pagefetch/internal/extract"
	"github.com/pricewatch-io/pagefetch/internal/fallback"
	"github.com/pricewatch-io/pagefetch/internal/fetch"
	"github.com/pricewatch-io/pagefetch/internal/telemetry"
)

const defaultOutputBuffer = 16

// Config controls the pool.
type Config struct {
	// MaxConcurrentJobs bounds in-flight jobs regardless of how many
	// domains the batch spans. The per-domain rate gate composes with this
	// cap: a job holds its slot while waiting on the limiter.
	MaxConcurrentJobs int
	// OutputBuffer sizes the outcome channel (default 16).
	OutputBuffer int
}

// Runner drives fetch jobs to terminal outcomes.
type Runner struct {
	cfg       Config
	orch      *fallback.Orchestrator
	extractor *extract.Extractor
	robots    fetch.RobotsPolicy
	limiter   fetch.Limiter
	clock     fetch.Clock
	ids       fetch.IDGenerator
	emitter   events.Emitter
	logger    *zap.Logger

	// seenDomains tracks which domains already had their robots crawl-delay
	// folded into the limiter.
	seenDomains sync.Map
}

// New wires the runner.
func New(
	cfg Config,
	orch *fallback.Orchestrator,
	extractor *extract.Extractor,
	robots fetch.RobotsPolicy,
	limiter fetch.Limiter,
	clock fetch.Clock,
	ids fetch.IDGenerator,
	emitter events.Emitter,
	logger *zap.Logger,
) (*Runner, error) {
	switch {
	case orch == nil:
		return nil, errors.New("orchestrator required")
	case extractor == nil:
		return nil, errors.New("extractor required")
	case robots == nil:
		return nil, errors.New("robots policy required")
	case limiter == nil:
		return nil, errors.New("rate limiter required")
	case clock == nil:
		return nil, errors.New("clock required")
	case ids == nil:
		return nil, errors.New("id generator required")
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = defaultOutputBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		orch:      orch,
		extractor: extractor,
		robots:    robots,
		limiter:   limiter,
		clock:     clock,
		ids:       ids,
		emitter:   emitter,
		logger:    logger,
	}, nil
}

// Run dispatches the batch, highest priority first, and returns the outcome
// stream. The channel closes after the last job resolves; the caller must
// drain it. Outcomes arrive in completion order, not submission order.
// Cancelling ctx resolves every remaining job to a canceled outcome at its
// next suspension point; nothing is silently dropped.
func (r *Runner) Run(ctx context.Context, requests []fetch.Request) <-chan fetch.Outcome {
	out := make(chan fetch.Outcome, r.cfg.OutputBuffer)

	accepted, rejected := r.admit(requests)
	jobs := make(chan fetch.Request, len(accepted))
	for _, req := range accepted {
		jobs <- req
	}
	close(jobs)

	workers := r.cfg.MaxConcurrentJobs
	if workers > len(accepted) {
		workers = len(accepted)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				out <- r.process(ctx, req)
			}
		}()
	}

	go func() {
		for _, outcome := range rejected {
			out <- outcome
		}
		wg.Wait()
		close(out)
	}()
	return out
}

// admit normalizes and priority-orders the batch. Requests with unusable
// URLs resolve immediately as malformed terminal failures.
func (r *Runner) admit(requests []fetch.Request) ([]fetch.Request, []fetch.Outcome) {
	accepted := make([]fetch.Request, 0, len(requests))
	var rejected []fetch.Outcome
	for _, raw := range requests {
		req, err := fetch.NormalizeRequest(raw)
		if err != nil {
			r.logger.Warn("rejecting request", zap.String("url", raw.URL), zap.Error(err))
			rejected = append(rejected, fetch.Outcome{
				Request: raw,
				Failure: &fetch.TerminalFailure{
					URL:    raw.URL,
					Domain: raw.Domain,
					Kind:   fetch.KindMalformedResponse,
				},
			})
			continue
		}
		accepted = append(accepted, req)
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Priority > accepted[j].Priority
	})
	return accepted, rejected
}

// process resolves one request to its terminal outcome.
func (r *Runner) process(ctx context.Context, req fetch.Request) fetch.Outcome {
	job := &fetch.Job{ID: r.newID(), Request: req, State: fetch.JobStatePending}
	started := r.clock.Now()
	r.emit(events.Event{
		JobID:  job.ID,
		TS:     started,
		Stage:  events.StageJobStart,
		Domain: req.Domain,
		URL:    req.URL,
	})

	outcome := r.resolve(ctx, job)
	r.emit(events.Event{
		JobID:  job.ID,
		TS:     r.clock.Now(),
		Stage:  events.StageJobDone,
		Domain: req.Domain,
		URL:    req.URL,
		Result: resultLabel(job, outcome),
		Dur:    r.clock.Now().Sub(started),
	})
	return outcome
}

func (r *Runner) resolve(ctx context.Context, job *fetch.Job) fetch.Outcome {
	req := job.Request
	if err := ctx.Err(); err != nil {
		job.State = fetch.JobStateCanceled
		return r.failure(job, fetch.KindCanceled)
	}

	// robots gate: a disallowed path never reaches a strategy.
	if !r.robots.Allowed(ctx, req.URL) {
		job.State = fetch.JobStateDisallowed
		r.logger.Info("robots.txt disallows url",
			zap.String("job_id", job.ID),
			zap.String("url", req.URL),
		)
		return r.failure(job, fetch.KindDisallowed)
	}
	r.recordCrawlDelay(ctx, req)

	content, strategyUsed, fe := r.orch.Execute(ctx, job)
	if fe != nil {
		r.logger.Info("job failed",
			zap.String("job_id", job.ID),
			zap.String("url", req.URL),
			zap.String("state", string(job.State)),
			zap.String("kind", string(fe.Kind)),
			zap.Int("attempts", len(job.Attempts)),
		)
		return r.failure(job, fe.Kind)
	}

	record, err := r.extractor.Extract(content)
	if err != nil {
		efe := fetch.Classify(err)
		telemetry.ObserveExtractFailure(string(efe.Kind))
		r.logger.Warn("extraction failed",
			zap.String("job_id", job.ID),
			zap.String("url", req.URL),
			zap.String("kind", string(efe.Kind)),
			zap.Error(err),
		)
		return r.failure(job, efe.Kind)
	}

	record.StrategyUsed = strategyUsed
	record.ScrapedAt = r.clock.Now()
	if record.SourceURL == "" {
		record.SourceURL = req.URL
	}
	r.logger.Info("job succeeded",
		zap.String("job_id", job.ID),
		zap.String("url", req.URL),
		zap.String("strategy", string(strategyUsed)),
		zap.Int("attempts", len(job.Attempts)),
	)
	return fetch.Outcome{Request: req, Record: record}
}

// recordCrawlDelay folds the robots crawl-delay into the limiter the first
// time a domain is seen.
func (r *Runner) recordCrawlDelay(ctx context.Context, req fetch.Request) {
	if _, loaded := r.seenDomains.LoadOrStore(req.Domain, struct{}{}); loaded {
		return
	}
	if delay := r.robots.CrawlDelay(ctx, req.URL); delay > 0 {
		r.limiter.SetCrawlDelay(req.Domain, delay)
		r.logger.Info("applying robots crawl-delay",
			zap.String("domain", req.Domain),
			zap.Duration("delay", delay),
		)
	}
}

func (r *Runner) failure(job *fetch.Job, kind fetch.FailureKind) fetch.Outcome {
	return fetch.Outcome{
		Request: job.Request,
		Failure: &fetch.TerminalFailure{
			URL:      job.Request.URL,
			Domain:   job.Request.Domain,
			Kind:     kind,
			Attempts: job.Attempts,
		},
	}
}

// newID falls back to a clock-derived id so a uuid source failure cannot
// take a job down with it.
func (r *Runner) newID() string {
	id, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("id generation failed", zap.Error(err))
		return "job-" + strconv.FormatInt(r.clock.Now().UnixNano(), 36)
	}
	return id
}

// resultLabel picks the JOB_DONE result: the terminal job state, except for
// extraction failures where the failure kind is the more useful label.
func resultLabel(job *fetch.Job, outcome fetch.Outcome) string {
	if job.State == fetch.JobStateSucceeded && outcome.Failure != nil {
		return string(outcome.Failure.Kind)
	}
	return string(job.State)
}

func (r *Runner) emit(evt events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}
