// Package store persists training examples locally.
package store

import (
	"context"
	"slices"
	"sync"

	"dhruv/internal/feedback/models"
	"dhruv/pkg/platform/sentinel"
)

// InMemoryStore keeps examples for the life of the process.
type InMemoryStore struct {
	mu       sync.RWMutex
	examples map[string]*models.TrainingExample
	order    []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{examples: make(map[string]*models.TrainingExample)}
}

// Save inserts e or replaces the stored copy with the same id.
func (s *InMemoryStore) Save(_ context.Context, e *models.TrainingExample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examples[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.examples[e.ID] = clone(e)
	return nil
}

// Claim moves example id from one status to another and reports whether this
// caller made the move.
func (s *InMemoryStore) Claim(_ context.Context, id string, from, to models.ForwardStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.examples[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examples[id]; !ok {
		return nil
	}
	delete(s.examples, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.TrainingExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.examples[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(e), nil
}

// ListByStatus returns examples with status in the order they were first saved.
func (s *InMemoryStore) ListByStatus(_ context.Context, status models.ForwardStatus) ([]*models.TrainingExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TrainingExample
	for _, id := range s.order {
		if e := s.examples[id]; e.Status == status {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListByItem(_ context.Context, itemID string) ([]*models.TrainingExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TrainingExample
	for _, id := range s.order {
		if e := s.examples[id]; e.ItemID == itemID {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

func clone(e *models.TrainingExample) *models.TrainingExample {
	c := *e
	c.OriginalPayload = e.OriginalPayload.Clone()
	c.CorrectedPayload = e.CorrectedPayload.Clone()
	c.Changes = slices.Clone(e.Changes)
	if e.ForwardedAt != nil {
		at := *e.ForwardedAt
		c.ForwardedAt = &at
	}
	return &c
}
