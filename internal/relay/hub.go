package relay

import (
	"log/slog"
	"strings"
	"sync"

	"wabridge/internal/correlate"
	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const subscriberBufSize = 16

// Subscriber is one live push-channel connection. Events arrive on C; the
// channel is closed when the hub drops the subscriber.
type Subscriber struct {
	C      chan domain.RelayEvent
	filter string // normalized agent name; never empty for live subscribers
}

// Hub is the set of live push subscribers, fed from the relay and snapshotted
// from the recent-event buffer on subscribe.
type Hub struct {
	ring   *correlate.Ring
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub(ring *correlate.Ring, logger *slog.Logger) *Hub {
	return &Hub{
		ring:   ring,
		subs:   make(map[*Subscriber]struct{}),
		logger: logger,
	}
}

// NormalizeAgent lowercases an agent name and collapses its whitespace so
// filters match the way the panel renders names.
func NormalizeAgent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Subscribe registers a push subscriber with the given agent filter and
// returns it along with a snapshot of matching buffered events. A subscriber
// without a filter gets an empty snapshot and a nil subscriber: the caller
// must close the stream immediately (the agent parameter is required for
// ongoing delivery).
func (h *Hub) Subscribe(agentFilter string) (*Subscriber, []domain.RelayEvent) {
	filter := NormalizeAgent(agentFilter)
	if filter == "" {
		return nil, nil
	}

	var snapshot []domain.RelayEvent
	for _, ev := range h.ring.Snapshot() {
		if NormalizeAgent(ev.Context.Agent) == filter {
			snapshot = append(snapshot, ev)
		}
	}

	sub := &Subscriber{
		C:      make(chan domain.RelayEvent, subscriberBufSize),
		filter: filter,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.Subscribers.Set(int64(n))

	h.logger.Info("subscriber joined", "agent", filter, "snapshot", len(snapshot), "total", n)
	return sub, snapshot
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.C)
	}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.Subscribers.Set(int64(n))
}

// Broadcast delivers an event to every subscriber whose filter matches the
// event's agent. Slow subscribers are skipped, not waited on.
func (h *Hub) Broadcast(ev domain.RelayEvent) {
	agent := NormalizeAgent(ev.Context.Agent)

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.filter != agent {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			h.logger.Warn("subscriber lagging, event skipped", "agent", sub.filter)
		}
	}
}
