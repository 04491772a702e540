package sinks

import (
	"context"
	"sync"

	"github.com/regsdata/calregs-harvester/internal/progress"
)

// Ring retains the most recent progress events in memory so the operator API
// can serve them without a datastore.
type Ring struct {
	mu   sync.Mutex
	buf  []progress.Event
	next int
	full bool
}

// NewRing creates a ring holding up to capacity events.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{buf: make([]progress.Event, capacity)}
}

// Consume stores the batch, overwriting the oldest events once full.
func (r *Ring) Consume(_ context.Context, batch []progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range batch {
		r.buf[r.next] = evt
		r.next = (r.next + 1) % len(r.buf)
		if r.next == 0 {
			r.full = true
		}
	}
	return nil
}

// Close implements progress.Sink.
func (r *Ring) Close(context.Context) error { return nil }

// Recent returns up to limit events, newest first.
func (r *Ring) Recent(limit int) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]progress.Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
