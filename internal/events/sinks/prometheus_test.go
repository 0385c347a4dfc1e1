package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pricewatch-io/pagefetch/internal/events"
	"github.com/pricewatch-io/pagefetch/internal/fetch"
)

func TestPrometheusSinkRecordsLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []events.Event{
		{JobID: "job-1", TS: now, Stage: events.StageJobStart, Domain: "shop.example.com"},
		{
			JobID:    "job-1",
			TS:       now.Add(time.Second),
			Stage:    events.StageAttemptDone,
			Domain:   "shop.example.com",
			Strategy: fetch.StrategyLightweight,
			Result:   string(fetch.KindBlocked),
			Dur:      120 * time.Millisecond,
		},
		{
			JobID:    "job-1",
			TS:       now.Add(2 * time.Second),
			Stage:    events.StageAttemptDone,
			Domain:   "shop.example.com",
			Strategy: fetch.StrategyBypass,
			Result:   "success",
			Dur:      340 * time.Millisecond,
		},
		{
			JobID:  "job-1",
			TS:     now.Add(3 * time.Second),
			Stage:  events.StageJobDone,
			Domain: "shop.example.com",
			Result: string(fetch.JobStateSucceeded),
			Dur:    3 * time.Second,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("succeeded")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("exhausted")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.attemptsTotal.WithLabelValues("lightweight", "blocked")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.attemptsTotal.WithLabelValues("bypass", "success")))
	require.Equal(t, 2, testutil.CollectAndCount(sink.attemptDuration, "pagefetch_attempt_duration_seconds"))
}

func TestPrometheusSinkRunningGaugeIdempotent(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	start := events.Event{JobID: "job-2", TS: now, Stage: events.StageJobStart}
	require.NoError(t, sink.Consume(context.Background(), []events.Event{start, start}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))

	done := events.Event{JobID: "job-2", TS: now, Stage: events.StageJobDone, Result: "canceled"}
	require.NoError(t, sink.Consume(context.Background(), []events.Event{done, done}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
}
