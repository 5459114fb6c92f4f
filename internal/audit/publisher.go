package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"dhruv/pkg/requestcontext"
)

// Publisher captures structured audit events. It is append-only: each event
// lands in the local store and, when an outbound queue is configured, is
// handed to the Worker for the external sink without blocking the caller.
type Publisher struct {
	store  Store
	outbox chan<- Event
	logger *slog.Logger
}

type PublisherOption func(*Publisher)

// WithOutbox forwards every stored event to ch. A full outbox drops the
// event from the external sink only; the local store still has it.
func WithOutbox(ch chan<- Event) PublisherOption {
	return func(p *Publisher) {
		p.outbox = ch
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records event. The id, timestamp and request id are filled from ctx
// when unset. Audit is never allowed to fail a review action, so Emit logs
// rather than returns storage errors.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
		event.UserAgent = requestcontext.UserAgent(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to store audit event",
			"action", event.Action,
			"item_id", event.ItemID,
			"error", err,
		)
	}
	if p.outbox == nil {
		return
	}
	select {
	case p.outbox <- event:
	default:
		p.logger.WarnContext(ctx, "audit outbox full, event not forwarded",
			"action", event.Action,
			"item_id", event.ItemID,
		)
	}
}

func (p *Publisher) ListByItem(ctx context.Context, itemID string) ([]Event, error) {
	return p.store.ListByItem(ctx, itemID)
}
