package fetch

import (
	"fmt"
	"time"
)

// StrategyID names one concrete retrieval strategy.
type StrategyID string

// Known strategy identifiers, cheapest first.
const (
	StrategyLightweight StrategyID = "lightweight"
	StrategyBypass      StrategyID = "bypass"
	StrategyRenderer    StrategyID = "renderer"
)

// ParseStrategyID validates a configured strategy identifier.
func ParseStrategyID(s string) (StrategyID, error) {
	switch StrategyID(s) {
	case StrategyLightweight, StrategyBypass, StrategyRenderer:
		return StrategyID(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// JobState represents the lifecycle state of a fetch job.
type JobState string

// Job state values. The last four are terminal.
const (
	JobStatePending    JobState = "pending"
	JobStateAttempting JobState = "attempting"
	JobStateSucceeded  JobState = "succeeded"
	JobStateExhausted  JobState = "exhausted"
	JobStateDisallowed JobState = "disallowed"
	JobStateCanceled   JobState = "canceled"
)

// Terminal reports whether a job in this state will never be attempted again.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateExhausted, JobStateDisallowed, JobStateCanceled:
		return true
	}
	return false
}

// Request captures everything needed to fetch one product page. Requests are
// immutable once submitted; Domain is derived from the URL host when empty.
type Request struct {
	URL         string `json:"url"`
	Domain      string `json:"domain,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// StrategyAttempt records one strategy invocation. A nil Err means the
// attempt succeeded; the raw content is handed onward, not retained here.
type StrategyAttempt struct {
	Strategy   StrategyID  `json:"strategy"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMs int64       `json:"duration_ms"`
	Err        *FetchError `json:"failure,omitempty"`
}

// Job tracks a request through the fallback state machine. The runner owns
// the job for its lifetime; only the orchestrator mutates it.
type Job struct {
	ID            string            `json:"id"`
	Request       Request           `json:"request"`
	Attempts      []StrategyAttempt `json:"attempts"`
	StrategyIndex int               `json:"strategy_index"`
	State         JobState          `json:"state"`
}

// RecordAttempt appends to the job's attempt history.
func (j *Job) RecordAttempt(a StrategyAttempt) {
	j.Attempts = append(j.Attempts, a)
}

// AttemptCount returns how many attempts the given strategy has made so far.
func (j *Job) AttemptCount(id StrategyID) int {
	n := 0
	for _, a := range j.Attempts {
		if a.Strategy == id {
			n++
		}
	}
	return n
}

// LastErr returns the failure of the most recent attempt, or nil.
func (j *Job) LastErr() *FetchError {
	if len(j.Attempts) == 0 {
		return nil
	}
	return j.Attempts[len(j.Attempts)-1].Err
}

// Content is the raw payload returned by a successful strategy fetch.
type Content struct {
	Body        []byte
	ContentType string
	StatusCode  int
	FinalURL    string
}

// Price is a fixed-point amount in minor units (cents) with an ISO-4217
// currency code. Avoids float drift in downstream aggregation.
type Price struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// IsZero reports whether the price carries no value.
func (p Price) IsZero() bool { return p.AmountMinor == 0 && p.Currency == "" }

func (p Price) String() string {
	return fmt.Sprintf("%d.%02d %s", p.AmountMinor/100, p.AmountMinor%100, p.Currency)
}

// ProductRecord is the structured result extracted from a fetched page.
// Immutable once produced; handed to the external persistence consumer.
type ProductRecord struct {
	Title        string     `json:"title"`
	Price        Price      `json:"price"`
	Rating       *float64   `json:"rating,omitempty"`
	Category     string     `json:"category,omitempty"`
	Brand        string     `json:"brand,omitempty"`
	ReviewCount  *int       `json:"review_count,omitempty"`
	Description  string     `json:"description,omitempty"`
	Availability string     `json:"availability,omitempty"`
	SourceURL    string     `json:"source_url"`
	StrategyUsed StrategyID `json:"strategy_used"`
	ScrapedAt    time.Time  `json:"scraped_at"`
}

// TerminalFailure is emitted when a job ends without a record. Kind is the
// failure of the last attempt (or the gate that rejected the job); Attempts
// carries the complete history for diagnostics and retry-queue reinjection.
type TerminalFailure struct {
	URL      string            `json:"url"`
	Domain   string            `json:"domain"`
	Kind     FailureKind       `json:"kind"`
	Attempts []StrategyAttempt `json:"attempts"`
}

// Outcome pairs a request with its terminal result. Exactly one of Record
// and Failure is set.
type Outcome struct {
	Request Request          `json:"request"`
	Record  *ProductRecord   `json:"record,omitempty"`
	Failure *TerminalFailure `json:"failure,omitempty"`
}

// Succeeded reports whether the outcome carries a product record.
func (o Outcome) Succeeded() bool { return o.Record != nil }
