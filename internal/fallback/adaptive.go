package fallback

import (
	"sync"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

const (
	defaultWindow     = 20
	defaultMinSamples = 5
	defaultThreshold  = 0.2
)

// Adaptive tracks rolling per-domain success rates per strategy and demotes
// strategies that are currently failing site-wide. It only permutes the
// default ladder across jobs; within one job the order is fixed. Advisory:
// a demoted strategy is still tried, just later.
type Adaptive struct {
	window     int
	minSamples int
	threshold  float64

	mu    sync.Mutex
	stats map[statsKey]*rolling
}

type statsKey struct {
	domain   string
	strategy fetch.StrategyID
}

// NewAdaptive builds the reorder layer. window is the rolling sample count
// kept per (domain, strategy); a strategy is demoted once it has at least
// minSamples outcomes and its success rate sits below threshold.
func NewAdaptive(window, minSamples int, threshold float64) *Adaptive {
	if window <= 0 {
		window = defaultWindow
	}
	if minSamples <= 0 {
		minSamples = defaultMinSamples
	}
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	return &Adaptive{
		window:     window,
		minSamples: minSamples,
		threshold:  threshold,
		stats:      make(map[statsKey]*rolling),
	}
}

// Record feeds one attempt outcome into the rolling window.
func (a *Adaptive) Record(domain string, strategy fetch.StrategyID, success bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := statsKey{domain: domain, strategy: strategy}
	window, ok := a.stats[key]
	if !ok {
		window = &rolling{outcomes: make([]bool, 0, a.window)}
		a.stats[key] = window
	}
	window.record(success)
}

// Order partitions the default ladder for a domain: healthy strategies keep
// their relative order up front, demoted ones move to the back in their own
// relative order.
func (a *Adaptive) Order(domain string, defaults []fetch.StrategyID) []fetch.StrategyID {
	if a == nil {
		return defaults
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	ordered := make([]fetch.StrategyID, 0, len(defaults))
	var demoted []fetch.StrategyID
	for _, id := range defaults {
		if a.demotedLocked(domain, id) {
			demoted = append(demoted, id)
		} else {
			ordered = append(ordered, id)
		}
	}
	return append(ordered, demoted...)
}

func (a *Adaptive) demotedLocked(domain string, strategy fetch.StrategyID) bool {
	window, ok := a.stats[statsKey{domain: domain, strategy: strategy}]
	if !ok || window.samples() < a.minSamples {
		return false
	}
	return window.rate() < a.threshold
}

// rolling is a fixed-capacity ring of attempt outcomes with a running
// success count.
type rolling struct {
	outcomes  []bool
	next      int
	successes int
}

func (r *rolling) record(success bool) {
	if len(r.outcomes) < cap(r.outcomes) {
		r.outcomes = append(r.outcomes, success)
		if success {
			r.successes++
		}
		return
	}
	if r.outcomes[r.next] {
		r.successes--
	}
	r.outcomes[r.next] = success
	if success {
		r.successes++
	}
	r.next = (r.next + 1) % len(r.outcomes)
}

func (r *rolling) samples() int {
	return len(r.outcomes)
}

func (r *rolling) rate() float64 {
	if len(r.outcomes) == 0 {
		return 0
	}
	return float64(r.successes) / float64(len(r.outcomes))
}
