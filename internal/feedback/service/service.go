// Package service records human corrections as training examples and
// forwards each one to the learning system.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dhruv/internal/audit"
	"dhruv/internal/feedback/learning"
	"dhruv/internal/feedback/metrics"
	"dhruv/internal/feedback/models"
	review "dhruv/internal/review/models"
	reviewservice "dhruv/internal/review/service"
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/requestcontext"
)

// ReviewQueue is the part of the review queue the recorder drives. The
// recorder never keeps its own copy of an item: corrections land on the
// queue's item so both share one correction log.
type ReviewQueue interface {
	Get(ctx context.Context, id string) (*review.ReviewItem, error)
	Correct(ctx context.Context, id string, edits map[review.Field]any) (*reviewservice.CorrectResult, error)
	Approve(ctx context.Context, id string, excludeFromAnalytics bool) (*review.ReviewItem, error)
}

type Store interface {
	Save(ctx context.Context, e *models.TrainingExample) error
	ListByStatus(ctx context.Context, status models.ForwardStatus) ([]*models.TrainingExample, error)
	ListByItem(ctx context.Context, itemID string) ([]*models.TrainingExample, error)
	Claim(ctx context.Context, id string, from, to models.ForwardStatus) (bool, error)
	Delete(ctx context.Context, id string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Recorder is the correction feedback recorder.
type Recorder struct {
	queue   ReviewQueue
	store   Store
	client  learning.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher
	tracer  trace.Tracer
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(r *Recorder) {
		r.audit = p
	}
}

func New(queue ReviewQueue, store Store, client learning.Client, opts ...Option) *Recorder {
	r := &Recorder{
		queue:  queue,
		store:  store,
		client: client,
		logger: slog.Default(),
		tracer: otel.Tracer("dhruv/feedback"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record applies the difference between original and corrected to the item,
// stores one training example for it and forwards that example once.
//
// A correction that changes nothing yields DecisionSkipped and no forward.
// The example is saved before the edit is applied, so a failed save leaves
// the item as it was. When the forward fails the correction log entries and
// the stored example are kept, the example is marked failed for RetryPending,
// and the returned error has CodeUnavailable.
func (r *Recorder) Record(ctx context.Context, itemID string, original, corrected review.Payload) (*models.RecordResult, error) {
	ctx, span := r.tracer.Start(ctx, "feedback.Record", trace.WithAttributes(attribute.String("review.item_id", itemID)))
	defer span.End()

	item, err := r.queue.Get(ctx, itemID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	changes := original.Diff(corrected)
	if len(changes) == 0 {
		return r.skipped(itemID), nil
	}
	edits := make(map[review.Field]any, len(changes))
	for _, c := range changes {
		edits[c.Field] = c.Updated
	}

	example := &models.TrainingExample{
		ID:               uuid.NewString(),
		ItemID:           itemID,
		OriginalText:     item.Record.Text,
		OriginalPayload:  item.Payload,
		CorrectedPayload: corrected,
		Changes:          changes,
		ReviewerID:       requestcontext.ReviewerID(ctx),
		Status:           models.ForwardPending,
		CreatedAt:        requestcontext.Now(ctx),
	}
	if err := r.store.Save(ctx, example); err != nil {
		span.RecordError(err)
		r.logger.ErrorContext(ctx, "failed to save training example",
			"item_id", itemID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "training example not saved; correction not applied")
	}

	res, err := r.queue.Correct(ctx, itemID, edits)
	if err != nil {
		span.RecordError(err)
		r.discard(ctx, example.ID)
		return nil, err
	}
	if len(res.Entries) == 0 {
		r.discard(ctx, example.ID)
		return r.skipped(itemID), nil
	}

	applied := make([]review.FieldChange, 0, len(res.Entries))
	for _, e := range res.Entries {
		applied = append(applied, review.FieldChange{Field: e.Field, Original: e.OriginalValue, Updated: e.CorrectedValue})
	}
	example.OriginalText = res.Item.Record.Text
	example.OriginalPayload = res.Before
	example.CorrectedPayload = res.Item.Payload
	example.Changes = applied

	result := &models.RecordResult{ExampleID: example.ID, ItemID: itemID, Changes: applied}
	if err := r.forward(ctx, example); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "forward failed")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable,
			"correction recorded but the learning system could not be reached; retry later")
	}
	result.Decision = example.Decision
	result.Reason = example.Reason
	span.SetAttributes(attribute.String("feedback.decision", string(example.Decision)))
	return result, nil
}

// discard removes an example whose correction never landed.
func (r *Recorder) discard(ctx context.Context, id string) {
	if err := r.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		r.logger.ErrorContext(ctx, "failed to discard training example",
			"example_id", id,
			"error", err,
		)
	}
}

func (r *Recorder) skipped(itemID string) *models.RecordResult {
	r.metrics.IncSkipped()
	return &models.RecordResult{ItemID: itemID, Changes: []review.FieldChange{}, Decision: models.DecisionSkipped}
}

// forward makes exactly one delivery attempt for e and persists the outcome.
// The returned error is the forwarding failure, if any.
func (r *Recorder) forward(ctx context.Context, e *models.TrainingExample) error {
	verdict, err := r.client.Submit(ctx, learning.Submission{
		ExampleID:       e.ID,
		ItemID:          e.ItemID,
		OriginalText:    e.OriginalText,
		OriginalPayload: e.OriginalPayload,
		Correction:      e.Changes,
	})
	if err != nil {
		var fe *learning.ForwardingError
		if !errors.As(err, &fe) {
			err = &learning.ForwardingError{Message: "submit correction", Err: err}
		}
		e.MarkFailed(err)
		r.metrics.IncForward("failed", "")
		r.logger.ErrorContext(ctx, "failed to forward correction",
			"item_id", e.ItemID,
			"example_id", e.ID,
			"attempts", e.Attempts,
			"error", err,
		)
		r.emit(ctx, audit.Event{
			Action:     audit.ActionFeedbackFailed,
			ItemID:     e.ItemID,
			ReviewerID: e.ReviewerID,
			Detail:     map[string]string{"example_id": e.ID},
		})
	} else {
		e.MarkForwarded(verdict.Decision, verdict.Reason, requestcontext.Now(ctx))
		r.metrics.IncForward("forwarded", string(verdict.Decision))
		r.logger.InfoContext(ctx, "correction forwarded",
			"item_id", e.ItemID,
			"example_id", e.ID,
			"decision", verdict.Decision,
		)
		r.emit(ctx, audit.Event{
			Action:     audit.ActionFeedbackForwarded,
			ItemID:     e.ItemID,
			ReviewerID: e.ReviewerID,
			Detail:     map[string]string{"example_id": e.ID, "decision": string(verdict.Decision)},
		})
	}

	if saveErr := r.store.Save(context.WithoutCancel(ctx), e); saveErr != nil {
		r.logger.ErrorContext(ctx, "failed to save forward outcome",
			"example_id", e.ID,
			"error", saveErr,
		)
	}
	return err
}

// SubmitResult is the outcome of a correction submitted through the API.
type SubmitResult struct {
	models.RecordResult
	Item     *review.ReviewItem `json:"item"`
	Approved bool               `json:"approved"`
}

// Submit is the API entry point for a correction. edits are applied to the
// item's current payload and recorded. With approve set, the item is then
// approved under the normal head-of-queue rule; a failed forward leaves the
// item unapproved so the operator retries the same request.
func (r *Recorder) Submit(ctx context.Context, itemID string, edits map[review.Field]any, approve, excludeFromAnalytics bool) (*SubmitResult, error) {
	if len(edits) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "correction has no edits")
	}
	for f := range edits {
		if !f.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown field %q", string(f)))
		}
	}
	item, err := r.queue.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	corrected := item.Payload.Clone()
	for _, f := range review.Fields {
		v, ok := edits[f]
		if !ok {
			continue
		}
		if err := corrected.Set(f, v); err != nil {
			return nil, err
		}
	}
	rec, err := r.Record(ctx, itemID, item.Payload, corrected)
	if err != nil {
		return nil, err
	}
	out := &SubmitResult{RecordResult: *rec}

	if approve {
		approved, err := r.queue.Approve(ctx, itemID, excludeFromAnalytics)
		if err != nil {
			return nil, err
		}
		out.Item = approved
		out.Approved = true
		return out, nil
	}

	out.Item, err = r.queue.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RetryPending makes one new forward attempt for every example whose last
// forward failed, oldest first. Each example is claimed before it is sent;
// one claimed by a concurrent pass is left to that pass.
func (r *Recorder) RetryPending(ctx context.Context) (models.RetryReport, error) {
	var report models.RetryReport
	examples, err := r.store.ListByStatus(ctx, models.ForwardFailed)
	if err != nil {
		return report, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list undelivered examples")
	}
	for _, e := range examples {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		claimed, err := r.store.Claim(ctx, e.ID, models.ForwardFailed, models.ForwardPending)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to claim undelivered example",
				"example_id", e.ID,
				"error", err,
			)
			continue
		}
		if !claimed {
			continue
		}
		e.Status = models.ForwardPending
		report.Attempted++
		if err := r.forward(ctx, e); err != nil {
			report.Failed++
			continue
		}
		report.Forwarded++
	}
	if report.Attempted > 0 {
		r.logger.InfoContext(ctx, "retried undelivered corrections",
			"attempted", report.Attempted,
			"forwarded", report.Forwarded,
			"failed", report.Failed,
		)
	}
	return report, nil
}

// Examples lists the training examples recorded for an item.
func (r *Recorder) Examples(ctx context.Context, itemID string) ([]*models.TrainingExample, error) {
	examples, err := r.store.ListByItem(ctx, itemID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list training examples")
	}
	return examples, nil
}

func (r *Recorder) emit(ctx context.Context, e audit.Event) {
	if r.audit == nil {
		return
	}
	r.audit.Emit(ctx, e)
}
