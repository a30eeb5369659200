package correlate

import (
	"sync"

	"wabridge/internal/domain"
)

const DefaultRingSize = 200

// Ring is a fixed-capacity, insertion-ordered buffer of relayed events.
// The oldest event is dropped on overflow.
type Ring struct {
	mu     sync.Mutex
	events []domain.RelayEvent
	size   int
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{size: size}
}

// Append adds an event, dropping the oldest when full.
func (r *Ring) Append(ev domain.RelayEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) >= r.size {
		r.events = r.events[1:]
	}
	r.events = append(r.events, ev)
}

// Snapshot returns a copy of the buffered events in insertion order.
func (r *Ring) Snapshot() []domain.RelayEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RelayEvent, len(r.events))
	copy(out, r.events)
	return out
}
