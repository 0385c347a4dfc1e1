// Package events provides the lifecycle event primitives, non-blocking hub,
// and sink interfaces the pipeline uses to report job and attempt progress.
// Events batch on a background goroutine and fan out to pluggable sinks such
// as Prometheus collectors or structured logs.
package events
