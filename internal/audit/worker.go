package audit

import (
	"context"
	"log/slog"
)

// Sink is an external destination for audit events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Worker drains the publisher outbox into a Sink. A sink failure is logged
// and the event skipped; the local store remains the record of truth.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

// Run blocks until ctx is done or the inbox is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.sink.Write(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "failed to forward audit event",
					"event_id", event.ID,
					"action", event.Action,
					"item_id", event.ItemID,
					"error", err,
				)
			}
		}
	}
}
