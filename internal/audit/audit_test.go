package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhruv/pkg/requestcontext"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisherEmit(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)
	ctx = requestcontext.WithRequestID(ctx, "req-1")
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.7", "dhruv-dashboard")

	t.Run("fills id, timestamp and request metadata", func(t *testing.T) {
		store := NewInMemoryStore()
		p := NewPublisher(store, WithPublisherLogger(discard()))

		p.Emit(ctx, Event{Action: ActionApproved, ItemID: "t1", ReviewerID: "rev-1"})

		events, err := p.ListByItem(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
		assert.Equal(t, fixed, events[0].Timestamp)
		assert.Equal(t, "req-1", events[0].RequestID)
		assert.Equal(t, "10.0.0.7", events[0].ClientIP)
		assert.Equal(t, "dhruv-dashboard", events[0].UserAgent)
	})

	t.Run("forwards to the outbox", func(t *testing.T) {
		outbox := make(chan Event, 1)
		p := NewPublisher(NewInMemoryStore(), WithOutbox(outbox), WithPublisherLogger(discard()))

		p.Emit(ctx, Event{Action: ActionCorrected, ItemID: "t2"})

		select {
		case ev := <-outbox:
			assert.Equal(t, ActionCorrected, ev.Action)
		default:
			t.Fatal("expected event in outbox")
		}
	})

	t.Run("full outbox never blocks and keeps the local copy", func(t *testing.T) {
		store := NewInMemoryStore()
		p := NewPublisher(store, WithOutbox(make(chan Event)), WithPublisherLogger(discard()))

		p.Emit(ctx, Event{Action: ActionIngested, ItemID: "t3"})

		events, _ := store.ListByItem(ctx, "t3")
		assert.Len(t, events, 1)
	})

	t.Run("nil publisher is a no-op", func(t *testing.T) {
		var p *Publisher
		assert.NotPanics(t, func() { p.Emit(ctx, Event{ItemID: "x"}) })
	})
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   map[string]bool
}

func (s *recordingSink) Write(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[e.ItemID] {
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.ItemID)
	}
	return out
}

func TestWorkerRun(t *testing.T) {
	t.Run("drains until the inbox closes and skips failed writes", func(t *testing.T) {
		sink := &recordingSink{fail: map[string]bool{"bad": true}}
		inbox := make(chan Event, 3)
		inbox <- Event{ItemID: "a"}
		inbox <- Event{ItemID: "bad"}
		inbox <- Event{ItemID: "b"}
		close(inbox)

		err := NewWorker(sink, inbox, discard()).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, sink.ids())
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := NewWorker(&recordingSink{}, make(chan Event), discard()).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
