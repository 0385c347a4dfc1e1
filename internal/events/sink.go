package events

import "context"

// Sink consumes batches of lifecycle events. Implementations must tolerate
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies this interface so the
// orchestrator and runner stay agnostic about buffering and fan-out.
type Emitter interface {
	Emit(evt Event)
}
