package relay

import (
	"testing"

	"wabridge/internal/correlate"
	"wabridge/internal/domain"
)

func agentEvent(id, agent string) domain.RelayEvent {
	return domain.RelayEvent{
		ID:      id,
		Kind:    domain.KindReaction,
		Context: domain.CorrelationContext{Agent: agent},
	}
}

func TestNormalizeAgent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Maria Silva", "maria silva"},
		{"  MARIA   SILVA  ", "maria silva"},
		{"maria silva", "maria silva"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAgent(tt.in); got != tt.want {
			t.Errorf("NormalizeAgent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSubscribe_SnapshotFiltersByAgent(t *testing.T) {
	ring := correlate.NewRing(10)
	ring.Append(agentEvent("ev1", "Maria"))
	ring.Append(agentEvent("ev2", "Joana"))
	ring.Append(agentEvent("ev3", "MARIA"))
	hub := NewHub(ring, testLogger)

	sub, snapshot := hub.Subscribe("maria")
	if sub == nil {
		t.Fatal("expected a live subscriber")
	}
	defer hub.Unsubscribe(sub)

	if len(snapshot) != 2 {
		t.Fatalf("snapshot = %d events, want 2", len(snapshot))
	}
	if snapshot[0].ID != "ev1" || snapshot[1].ID != "ev3" {
		t.Fatalf("unexpected snapshot order: %v", snapshot)
	}
}

func TestSubscribe_EmptyFilterGetsNothing(t *testing.T) {
	ring := correlate.NewRing(10)
	ring.Append(agentEvent("ev1", "Maria"))
	hub := NewHub(ring, testLogger)

	sub, snapshot := hub.Subscribe("   ")
	if sub != nil {
		t.Fatal("no live subscriber without an agent filter")
	}
	if snapshot != nil {
		t.Fatal("no snapshot without an agent filter")
	}
}

func TestBroadcast_DeliversToMatchingSubscriberOnly(t *testing.T) {
	ring := correlate.NewRing(10)
	hub := NewHub(ring, testLogger)

	maria, _ := hub.Subscribe("Maria")
	joana, _ := hub.Subscribe("Joana")
	defer hub.Unsubscribe(maria)
	defer hub.Unsubscribe(joana)

	hub.Broadcast(agentEvent("ev1", "maria"))

	select {
	case ev := <-maria.C:
		if ev.ID != "ev1" {
			t.Fatalf("got %q", ev.ID)
		}
	default:
		t.Fatal("matching subscriber got nothing")
	}
	select {
	case ev := <-joana.C:
		t.Fatalf("non-matching subscriber got %q", ev.ID)
	default:
	}
}

func TestBroadcast_SkipsLaggingSubscriber(t *testing.T) {
	ring := correlate.NewRing(10)
	hub := NewHub(ring, testLogger)

	sub, _ := hub.Subscribe("maria")
	defer hub.Unsubscribe(sub)

	// Fill the channel past capacity; Broadcast must never block.
	for i := 0; i < subscriberBufSize+5; i++ {
		hub.Broadcast(agentEvent("ev", "maria"))
	}
	if n := len(sub.C); n != subscriberBufSize {
		t.Fatalf("buffered = %d, want %d", n, subscriberBufSize)
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	hub := NewHub(correlate.NewRing(10), testLogger)
	sub, _ := hub.Subscribe("maria")

	hub.Unsubscribe(sub)
	if _, open := <-sub.C; open {
		t.Fatal("channel should be closed")
	}

	// A second call is a no-op, not a double close.
	hub.Unsubscribe(sub)
	hub.Unsubscribe(nil)
}
