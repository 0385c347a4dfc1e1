package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStrategyID(t *testing.T) {
	for _, name := range []string{"lightweight", "bypass", "renderer"} {
		id, err := ParseStrategyID(name)
		require.NoError(t, err)
		require.Equal(t, StrategyID(name), id)
	}
	_, err := ParseStrategyID("selenium")
	require.Error(t, err)
}

func TestJobStateTerminal(t *testing.T) {
	require.False(t, JobStatePending.Terminal())
	require.False(t, JobStateAttempting.Terminal())
	for _, s := range []JobState{JobStateSucceeded, JobStateExhausted, JobStateDisallowed, JobStateCanceled} {
		require.True(t, s.Terminal(), string(s))
	}
}

func TestJobAttemptHelpers(t *testing.T) {
	job := &Job{Request: Request{URL: "https://shop.example/item/1", Domain: "shop.example"}}
	require.Equal(t, 0, job.AttemptCount(StrategyLightweight))
	require.Nil(t, job.LastErr())

	now := time.Now()
	job.RecordAttempt(StrategyAttempt{Strategy: StrategyLightweight, StartedAt: now, Err: TimeoutError(nil)})
	job.RecordAttempt(StrategyAttempt{Strategy: StrategyLightweight, StartedAt: now, Err: TimeoutError(nil)})
	job.RecordAttempt(StrategyAttempt{Strategy: StrategyBypass, StartedAt: now})

	require.Equal(t, 2, job.AttemptCount(StrategyLightweight))
	require.Equal(t, 1, job.AttemptCount(StrategyBypass))
	require.Len(t, job.Attempts, 3)
	require.Nil(t, job.LastErr())
}

func TestPriceString(t *testing.T) {
	require.Equal(t, "19.99 USD", Price{AmountMinor: 1999, Currency: "USD"}.String())
	require.Equal(t, "1299.00 EUR", Price{AmountMinor: 129900, Currency: "EUR"}.String())
	require.True(t, Price{}.IsZero())
}

func TestOutcomeSucceeded(t *testing.T) {
	require.True(t, Outcome{Record: &ProductRecord{Title: "x"}}.Succeeded())
	require.False(t, Outcome{Failure: &TerminalFailure{Kind: KindBlocked}}.Succeeded())
}
