// Package store owns every ReviewItem in the process.
//
// The arena maps id to an entry holding the item and its own mutex, plus a
// FIFO of pending ids. Lock order is always arena lock, then item lock.
// Mutations on one item are serialized; different items mutate concurrently.
// Nothing outside this package holds a pointer to a stored item: reads return
// clones.
package store

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"dhruv/internal/review/models"
	dErrors "dhruv/pkg/domain-errors"
)

// Mirror persists item state durably. Every mutation is written to the mirror
// before it becomes visible in memory, so a failed write leaves no trace.
type Mirror interface {
	InsertItems(ctx context.Context, items []*models.ReviewItem) error
	SaveApproval(ctx context.Context, item *models.ReviewItem) error
	AppendCorrections(ctx context.Context, itemID string, entries []models.CorrectionEntry, payload models.Payload) error
	SaveGeocode(ctx context.Context, itemID string, g models.Geocode) error
	LoadAll(ctx context.Context) ([]*models.ReviewItem, error)
}

type entry struct {
	mu   sync.Mutex
	item *models.ReviewItem
}

// Counts is a point-in-time summary of the arena.
type Counts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Excluded int `json:"excluded"`
}

type Store struct {
	mu      sync.RWMutex
	items   map[string]*entry
	pending []string
	order   []string
	seq     int64
	mirror  Mirror
	// approving is the head id whose approval is being persisted.
	approving string
}

type Option func(*Store)

// WithMirror enables durable write-through.
func WithMirror(m Mirror) Option {
	return func(s *Store) {
		s.mirror = m
	}
}

func New(opts ...Option) *Store {
	s := &Store{items: make(map[string]*entry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load rehydrates the arena from the mirror. Items keep their stored sequence
// order; approved items are not re-queued.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.mirror == nil {
		return 0, nil
	}
	items, err := s.mirror.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load review items: %w", err)
	}
	slices.SortStableFunc(items, func(a, b *models.ReviewItem) int {
		return cmp.Compare(a.Seq, b.Seq)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, item := range items {
		if _, exists := s.items[item.ID]; exists {
			continue
		}
		s.insertLocked(item)
		if item.Seq > s.seq {
			s.seq = item.Seq
		}
		loaded++
	}
	return loaded, nil
}

// AddBatch appends new items in order. Ids already present are skipped and
// returned. An item that is already approved is rejected along with the whole
// batch. The arena lock is held across the mirror insert so that sequence
// numbers and dedupe stay consistent with what was persisted; readers wait for
// the insert.
func (s *Store) AddBatch(ctx context.Context, items []*models.ReviewItem) (added int, skipped []string, err error) {
	for _, item := range items {
		if item.IsApproved() {
			return 0, nil, dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("item %s arrived approved", item.ID))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]*models.ReviewItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	next := s.seq
	for _, item := range items {
		if _, exists := s.items[item.ID]; exists {
			skipped = append(skipped, item.ID)
			continue
		}
		if _, dup := seen[item.ID]; dup {
			skipped = append(skipped, item.ID)
			continue
		}
		seen[item.ID] = struct{}{}
		c := item.Clone()
		next++
		c.Seq = next
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return 0, skipped, nil
	}

	if s.mirror != nil {
		if err := s.mirror.InsertItems(context.WithoutCancel(ctx), fresh); err != nil {
			return 0, nil, fmt.Errorf("persist review items: %w", err)
		}
	}
	for _, item := range fresh {
		s.insertLocked(item)
	}
	s.seq = next
	return len(fresh), skipped, nil
}

func (s *Store) insertLocked(item *models.ReviewItem) {
	s.items[item.ID] = &entry{item: item}
	s.order = append(s.order, item.ID)
	if !item.IsApproved() {
		s.pending = append(s.pending, item.ID)
	}
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return e, nil
}

// Get returns a copy of the item.
func (s *Store) Get(_ context.Context, id string) (*models.ReviewItem, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.Clone(), nil
}

// Head returns the oldest pending item without changing anything.
func (s *Store) Head(_ context.Context) (*models.ReviewItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.pending) == 0 {
		return nil, false
	}
	e := s.items[s.pending[0]]
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.Clone(), true
}

// Pending returns the pending items in queue order.
func (s *Store) Pending(_ context.Context) []*models.ReviewItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ReviewItem, 0, len(s.pending))
	for _, id := range s.pending {
		e := s.items[id]
		e.mu.Lock()
		out = append(out, e.item.Clone())
		e.mu.Unlock()
	}
	return out
}

// All yields a copy of every item in insertion order. The set of ids is fixed
// when iteration starts; each item is copied under its own lock as it is
// yielded.
func (s *Store) All(_ context.Context) iter.Seq[*models.ReviewItem] {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.items[id])
	}
	s.mu.RUnlock()

	return func(yield func(*models.ReviewItem) bool) {
		for _, e := range entries {
			e.mu.Lock()
			c := e.item.Clone()
			e.mu.Unlock()
			if !yield(c) {
				return
			}
		}
	}
}

// ApproveHead approves id if and only if it is the current head of the
// pending queue. The approval is persisted before it is applied; either the
// item flips and leaves the queue, or nothing changes.
//
// The mirror write runs with no locks held. While it is in flight the head is
// reserved: other approvals fail with ErrApprovalInFlight or ErrNotHead, and
// reads and corrections proceed.
func (s *Store) ApproveHead(ctx context.Context, id string, excludeFromAnalytics bool, reviewerID string, now time.Time) (*models.ReviewItem, error) {
	s.mu.Lock()
	e, err := s.checkHeadLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.mirror == nil {
		defer s.mu.Unlock()
		return s.popHeadLocked(e, excludeFromAnalytics, reviewerID, now), nil
	}
	s.approving = id
	e.mu.Lock()
	next := e.item.Clone()
	e.mu.Unlock()
	s.mu.Unlock()

	next.ApplyApproval(excludeFromAnalytics, reviewerID, now)
	mirrorErr := s.mirror.SaveApproval(context.WithoutCancel(ctx), next)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.approving = ""
	if mirrorErr != nil {
		return nil, fmt.Errorf("persist approval: %w", mirrorErr)
	}
	return s.popHeadLocked(e, excludeFromAnalytics, reviewerID, now), nil
}

func (s *Store) checkHeadLocked(id string) (*entry, error) {
	e, ok := s.items[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	e.mu.Lock()
	err := e.item.CanApprove()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if s.approving == id {
		return nil, models.ErrApprovalInFlight
	}
	if s.approving != "" || len(s.pending) == 0 || s.pending[0] != id {
		return nil, models.ErrNotHead
	}
	return e, nil
}

func (s *Store) popHeadLocked(e *entry, excludeFromAnalytics bool, reviewerID string, now time.Time) *models.ReviewItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.item.ApplyApproval(excludeFromAnalytics, reviewerID, now)
	s.pending = s.pending[1:]
	return e.item.Clone()
}

// Correct applies field edits to any item, approved or not, at any queue
// position. It returns the payload as it was before the edit and the updated
// item.
func (s *Store) Correct(ctx context.Context, id string, edits map[models.Field]any, reviewerID string, now time.Time) (before models.Payload, after *models.ReviewItem, entries []models.CorrectionEntry, err error) {
	e, err := s.lookup(id)
	if err != nil {
		return models.Payload{}, nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.item.PlanCorrection(edits, reviewerID, now)
	if err != nil {
		return models.Payload{}, nil, nil, err
	}
	before = e.item.Payload.Clone()
	if len(plan.Entries) > 0 && s.mirror != nil {
		if err := s.mirror.AppendCorrections(context.WithoutCancel(ctx), id, plan.Entries, plan.Payload); err != nil {
			return models.Payload{}, nil, nil, fmt.Errorf("persist correction: %w", err)
		}
	}
	e.item.ApplyCorrection(plan)
	return before, e.item.Clone(), plan.Entries, nil
}

// AttachGeocode stores g on the item unless it already has one.
func (s *Store) AttachGeocode(ctx context.Context, id string, g models.Geocode) (bool, error) {
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.item.Geocode != nil {
		return false, nil
	}
	if s.mirror != nil {
		if err := s.mirror.SaveGeocode(ctx, id, g); err != nil {
			return false, fmt.Errorf("persist geocode: %w", err)
		}
	}
	return e.item.AttachGeocode(g), nil
}

// Counts summarizes the arena.
func (s *Store) Counts(_ context.Context) Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{Total: len(s.items), Pending: len(s.pending)}
	for _, e := range s.items {
		e.mu.Lock()
		if e.item.IsApproved() {
			c.Approved++
			if e.item.ExcludedFromAnalytics {
				c.Excluded++
			}
		}
		e.mu.Unlock()
	}
	return c
}
