package progress

import "context"

// Sink consumes batches of events. Consume may be called concurrently with
// itself only if the sink is shared between hubs.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events without blocking.
type Emitter interface {
	Emit(evt Event)
}
