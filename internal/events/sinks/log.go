package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pricewatch-io/pagefetch/internal/events"
)

// LogSink writes lifecycle events as structured logs. Attempt events land at
// debug level to keep steady-state output readable; job milestones at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("domain", evt.Domain),
			zap.String("url", evt.URL),
			zap.String("strategy", string(evt.Strategy)),
			zap.String("result", evt.Result),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case events.StageAttemptStart, events.StageAttemptDone:
			s.logger.Debug("fetch event", fields...)
		default:
			s.logger.Info("fetch event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
