package correlate

import (
	"fmt"
	"testing"

	"wabridge/internal/domain"
)

func TestStore_PutGet(t *testing.T) {
	s := NewStore(10)
	s.Put("MSG1", domain.CorrelationContext{CustomerRef: "12345", Agent: "Maria"})

	ctx, ok := s.Get("MSG1")
	if !ok {
		t.Fatal("expected hit for MSG1")
	}
	if ctx.CustomerRef != "12345" || ctx.Agent != "Maria" {
		t.Fatalf("unexpected context: %+v", ctx)
	}

	if _, ok := s.Get("MSG2"); ok {
		t.Fatal("expected miss for unknown id")
	}
}

func TestStore_EmptyIDIgnored(t *testing.T) {
	s := NewStore(10)
	s.Put("", domain.CorrelationContext{Agent: "x"})
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0", s.Len())
	}
}

func TestStore_OverwriteOnCollision(t *testing.T) {
	s := NewStore(10)
	s.Put("MSG1", domain.CorrelationContext{Agent: "old"})
	s.Put("MSG1", domain.CorrelationContext{Agent: "new"})

	ctx, _ := s.Get("MSG1")
	if ctx.Agent != "new" {
		t.Fatalf("agent = %q, want overwrite", ctx.Agent)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestStore_EvictsOldestAtCapacity(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 4; i++ {
		s.Put(fmt.Sprintf("MSG%d", i), domain.CorrelationContext{})
	}

	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	if _, ok := s.Get("MSG0"); ok {
		t.Fatal("oldest entry should be evicted")
	}
	if _, ok := s.Get("MSG3"); !ok {
		t.Fatal("newest entry should survive")
	}
}

func TestStore_GetRefreshesRecency(t *testing.T) {
	s := NewStore(3)
	s.Put("MSG0", domain.CorrelationContext{})
	s.Put("MSG1", domain.CorrelationContext{})
	s.Put("MSG2", domain.CorrelationContext{})

	// Touch the oldest, then overflow: MSG1 is now the eviction victim.
	s.Get("MSG0")
	s.Put("MSG3", domain.CorrelationContext{})

	if _, ok := s.Get("MSG0"); !ok {
		t.Fatal("recently read entry should survive eviction")
	}
	if _, ok := s.Get("MSG1"); ok {
		t.Fatal("least recently used entry should be evicted")
	}
}

func TestRing_DropsOldestWhenFull(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Append(domain.RelayEvent{ID: fmt.Sprintf("ev%d", i)})
	}

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "ev2" || got[2].ID != "ev4" {
		t.Fatalf("unexpected order: %q .. %q", got[0].ID, got[2].ID)
	}
}

func TestRing_SnapshotIsCopy(t *testing.T) {
	r := NewRing(3)
	r.Append(domain.RelayEvent{ID: "ev0"})

	snap := r.Snapshot()
	snap[0].ID = "mutated"

	if got := r.Snapshot()[0].ID; got != "ev0" {
		t.Fatalf("buffer mutated through snapshot: %q", got)
	}
}
