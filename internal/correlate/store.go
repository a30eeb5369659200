// Package correlate holds the in-memory link between sent message identifiers
// and the business context that caused them to be sent, plus the bounded
// buffer of recently relayed events served to late-joining subscribers.
package correlate

import (
	"container/list"
	"sync"

	"wabridge/internal/domain"
)

const DefaultCapacity = 10000

type entry struct {
	id  string
	ctx domain.CorrelationContext
}

// Store is a bounded, mutex-guarded LRU map from message identifier to
// correlation context. Entries are read-only after insert and are evicted
// oldest-first under capacity pressure, never deleted explicitly.
type Store struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	byID     map[string]*list.Element
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		order:    list.New(),
		byID:     make(map[string]*list.Element),
	}
}

// Put records the context for a message identifier, overwriting on collision.
func (s *Store) Put(messageID string, ctx domain.CorrelationContext) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.byID[messageID]; ok {
		el.Value.(*entry).ctx = ctx
		s.order.MoveToFront(el)
		return
	}
	s.byID[messageID] = s.order.PushFront(&entry{id: messageID, ctx: ctx})
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.byID, oldest.Value.(*entry).id)
	}
}

// Get returns the context recorded for a message identifier.
func (s *Store) Get(messageID string) (domain.CorrelationContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.byID[messageID]
	if !ok {
		return domain.CorrelationContext{}, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*entry).ctx, true
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
