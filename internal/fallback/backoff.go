package fallback

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

const (
	defaultBackoffBase   = 500 * time.Millisecond
	defaultBackoffMax    = 15 * time.Second
	defaultRetryAfterCap = 30 * time.Second
)

// Backoff computes the delay before a same-strategy retry: the base doubles
// per retry up to Max, and the result is half-jittered to spread synchronized
// retries apart.
type Backoff struct {
	// Base is the schedule's first-step delay.
	Base time.Duration
	// Max caps the un-jittered schedule.
	Max time.Duration
	// RetryAfterCap bounds how long a server-sent Retry-After hint is
	// honored; anything above it is treated as the cap.
	RetryAfterCap time.Duration
}

// Delay returns the wait before retry number `retry` (zero-based). A 429
// failure jumps two doublings ahead in the schedule and raises the result to
// the server's Retry-After hint, capped.
func (b Backoff) Delay(retry int, last *fetch.FetchError) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	ceiling := b.Max
	if ceiling <= 0 {
		ceiling = defaultBackoffMax
	}

	exp := retry
	var hint time.Duration
	if last != nil && last.Kind == fetch.KindHTTPError && last.Status == 429 {
		exp += 2
		hint = last.RetryAfter
	}

	delay := float64(base) * math.Pow(2, float64(exp))
	if delay > float64(ceiling) {
		delay = float64(ceiling)
	}
	half := time.Duration(delay) / 2
	wait := half + randomJitter(half)

	if hint > 0 {
		hintCap := b.RetryAfterCap
		if hintCap <= 0 {
			hintCap = defaultRetryAfterCap
		}
		if hint > hintCap {
			hint = hintCap
		}
		if hint > wait {
			wait = hint
		}
	}
	return wait
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
