// Package fallback drives a fetch job through the strategy ladder: it gates
// every attempt on the rate limiter, retries transient failures with
// jittered exponential backoff, advances to the next strategy on
// non-retryable failures, and resolves the job to a terminal state. An
// optional adaptive layer reorders the default ladder per domain based on
// rolling success rates.
package fallback
