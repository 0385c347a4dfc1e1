package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported lifecycle stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageAttemptStart Stage = "ATTEMPT_START"
	StageAttemptDone  Stage = "ATTEMPT_DONE"
	StageJobDone      Stage = "JOB_DONE"
)

// Event captures one milestone in a fetch job's life.
type Event struct {
	// JobID is the UUID assigned by the runner.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone kind.
	Stage Stage
	// Domain scopes the event to the target site.
	Domain string
	// URL is the page being fetched; it must not carry credentials.
	URL string
	// Strategy is set on attempt events.
	Strategy fetch.StrategyID
	// Result carries "success" or a failure kind on ATTEMPT_DONE, and the
	// terminal job state on JOB_DONE.
	Result string
	// Dur is the attempt latency or whole-job wall time.
	Dur time.Duration
	// Note holds low-volume debug context such as error text.
	Note string
}

// Validate performs coarse validation before an event enters the hub.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart:
	case StageAttemptStart:
		if e.Strategy == "" {
			return errors.New("attempt start requires strategy")
		}
	case StageAttemptDone:
		if e.Strategy == "" {
			return errors.New("attempt done requires strategy")
		}
		if e.Result == "" {
			return errors.New("attempt done requires result")
		}
	case StageJobDone:
		if e.Result == "" {
			return errors.New("job done requires terminal state")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// AttemptResult labels an attempt outcome for events and metrics.
func AttemptResult(err *fetch.FetchError) string {
	if err == nil {
		return "success"
	}
	return string(err.Kind)
}
