// Package sinks implements concrete event consumers: Prometheus lifecycle
// collectors and structured logging. Each sink satisfies the events.Sink
// interface and tolerates repeated Consume/Close cycles.
package sinks
