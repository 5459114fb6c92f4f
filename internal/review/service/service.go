// Package service implements the review queue: the FIFO of pending items, the
// single-item approval lease, and field corrections.
package service

import (
	"context"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dhruv/internal/audit"
	"dhruv/internal/review/metrics"
	"dhruv/internal/review/models"
	"dhruv/internal/review/store"
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/requestcontext"
)

type Store interface {
	AddBatch(ctx context.Context, items []*models.ReviewItem) (added int, skipped []string, err error)
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	Head(ctx context.Context) (*models.ReviewItem, bool)
	Pending(ctx context.Context) []*models.ReviewItem
	All(ctx context.Context) iter.Seq[*models.ReviewItem]
	ApproveHead(ctx context.Context, id string, excludeFromAnalytics bool, reviewerID string, now time.Time) (*models.ReviewItem, error)
	Correct(ctx context.Context, id string, edits map[models.Field]any, reviewerID string, now time.Time) (models.Payload, *models.ReviewItem, []models.CorrectionEntry, error)
	Counts(ctx context.Context) store.Counts
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// GeocodeScheduler queues best-effort location enrichment. Schedule must not
// block.
type GeocodeScheduler interface {
	Schedule(itemID, query string) bool
}

// Service is the review queue.
type Service struct {
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    AuditPublisher
	geocoder GeocodeScheduler
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

// WithGeocoder enables background geocoding of approved items that have no
// coordinates yet.
func WithGeocoder(g GeocodeScheduler) Option {
	return func(s *Service) {
		s.geocoder = g
	}
}

func New(st Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: slog.Default(),
		tracer: otel.Tracer("dhruv/review"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBatch appends freshly ingested items to the end of the queue. Ids that
// already exist are skipped, never re-created.
func (s *Service) AddBatch(ctx context.Context, items []*models.ReviewItem) (int, []string, error) {
	added, skipped, err := s.store.AddBatch(ctx, items)
	if err != nil {
		if dErrors.CodeOf(err) != dErrors.CodeInternal {
			return 0, nil, err
		}
		return 0, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store review items")
	}
	s.refreshDepth(ctx)

	skippedSet := make(map[string]struct{}, len(skipped))
	for _, id := range skipped {
		skippedSet[id] = struct{}{}
	}
	for _, item := range items {
		if _, ok := skippedSet[item.ID]; ok {
			continue
		}
		s.emit(ctx, audit.Event{Action: audit.ActionIngested, ItemID: item.ID})
	}
	return added, skipped, nil
}

// PeekNext returns the oldest pending item. It keeps returning the same item
// until that item is approved.
func (s *Service) PeekNext(ctx context.Context) (*models.ReviewItem, bool) {
	return s.store.Head(ctx)
}

func (s *Service) Pending(ctx context.Context) []*models.ReviewItem {
	return s.store.Pending(ctx)
}

// Get returns any item, approved or not.
func (s *Service) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	return s.store.Get(ctx, id)
}

// All yields every item in insertion order.
func (s *Service) All(ctx context.Context) iter.Seq[*models.ReviewItem] {
	return s.store.All(ctx)
}

func (s *Service) Counts(ctx context.Context) store.Counts {
	return s.store.Counts(ctx)
}

// Approve flips id to approved. Only the head of the pending queue may be
// approved; a second approval of the same id fails. Approval never waits on
// geocoding: when the item has no coordinates a lookup is queued and the
// call returns.
func (s *Service) Approve(ctx context.Context, id string, excludeFromAnalytics bool) (*models.ReviewItem, error) {
	ctx, span := s.tracer.Start(ctx, "review.Approve", trace.WithAttributes(
		attribute.String("review.item_id", id),
		attribute.Bool("review.excluded", excludeFromAnalytics),
	))
	defer span.End()

	reviewerID := requestcontext.ReviewerID(ctx)
	item, err := s.store.ApproveHead(ctx, id, excludeFromAnalytics, reviewerID, requestcontext.Now(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "approve failed")
		code := dErrors.CodeOf(err)
		s.metrics.IncApprovalRejected(string(code))
		if code != dErrors.CodeInternal {
			s.logger.WarnContext(ctx, "approval refused",
				"item_id", id,
				"reviewer_id", reviewerID,
				"error", err,
			)
			return nil, err
		}
		s.logger.ErrorContext(ctx, "approval failed",
			"item_id", id,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to approve review item")
	}

	s.metrics.IncApproval(excludeFromAnalytics)
	s.refreshDepth(ctx)
	s.logger.InfoContext(ctx, "review item approved",
		"item_id", id,
		"reviewer_id", reviewerID,
		"excluded_from_analytics", excludeFromAnalytics,
	)
	s.emit(ctx, audit.Event{
		Action:     audit.ActionApproved,
		ItemID:     id,
		ReviewerID: reviewerID,
		Detail:     map[string]string{"excluded_from_analytics": strconv.FormatBool(excludeFromAnalytics)},
	})

	if item.Geocode == nil && s.geocoder != nil {
		if q := GeocodeQuery(item.Payload); q != "" && !s.geocoder.Schedule(id, q) {
			s.logger.WarnContext(ctx, "geocode enrichment not queued", "item_id", id)
		}
	}
	return item, nil
}

// CorrectResult is the outcome of a correction: the payload before the edit,
// the updated item, and the log entries that were appended.
type CorrectResult struct {
	Before  models.Payload
	Item    *models.ReviewItem
	Entries []models.CorrectionEntry
}

// Correct applies field edits to id at any queue position, approved or not.
// One log entry is appended per field whose value actually changes. Approval
// state is untouched.
func (s *Service) Correct(ctx context.Context, id string, edits map[models.Field]any) (*CorrectResult, error) {
	ctx, span := s.tracer.Start(ctx, "review.Correct", trace.WithAttributes(
		attribute.String("review.item_id", id),
		attribute.Int("review.edits", len(edits)),
	))
	defer span.End()

	reviewerID := requestcontext.ReviewerID(ctx)
	before, item, entries, err := s.store.Correct(ctx, id, edits, reviewerID, requestcontext.Now(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "correct failed")
		if dErrors.CodeOf(err) != dErrors.CodeInternal {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "correction failed",
			"item_id", id,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to correct review item")
	}

	s.metrics.AddCorrectionEntries(len(entries))
	if len(entries) > 0 {
		fields := make([]string, 0, len(entries))
		for _, e := range entries {
			fields = append(fields, string(e.Field))
		}
		s.logger.InfoContext(ctx, "review item corrected",
			"item_id", id,
			"reviewer_id", reviewerID,
			"fields", fields,
		)
		s.emit(ctx, audit.Event{
			Action:     audit.ActionCorrected,
			ItemID:     id,
			ReviewerID: reviewerID,
			Detail:     map[string]string{"fields": strings.Join(fields, ",")},
		})
	}
	return &CorrectResult{Before: before, Item: item, Entries: entries}, nil
}

func (s *Service) refreshDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.SetQueueDepth(s.store.Counts(ctx).Pending)
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, e)
}

// GeocodeQuery builds the free-text lookup for a payload: the location, with
// the district appended when it adds information.
func GeocodeQuery(p models.Payload) string {
	loc := strings.TrimSpace(p.Location)
	district := strings.TrimSpace(p.District)
	switch {
	case loc == "":
		return district
	case district == "" || strings.Contains(strings.ToLower(loc), strings.ToLower(district)):
		return loc
	}
	return loc + ", " + district
}
