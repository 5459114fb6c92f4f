package audit

import (
	"context"
	"sync"
)

// Store keeps the local audit trail.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByItem(ctx context.Context, itemID string) ([]Event, error)
}

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ItemID] = append(s.events[event.ItemID], event)
	return nil
}

func (s *InMemoryStore) ListByItem(_ context.Context, itemID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[itemID]...), nil
}
