package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and may be invoked from the hub's dispatch goroutine only.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// traversal engine and recovery workers stay agnostic about buffering.
type Emitter interface {
	Emit(evt Event)
}

// Nop is an Emitter that discards everything; it keeps call sites free of
// nil checks in tests.
type Nop struct{}

// Emit discards the event.
func (Nop) Emit(Event) {}
