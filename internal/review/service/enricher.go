package service

import (
	"context"
	"log/slog"

	"dhruv/internal/audit"
	"dhruv/internal/geocode"
	"dhruv/internal/review/metrics"
	"dhruv/internal/review/models"
)

// Resolver resolves free-text place descriptions. An unresolvable query is
// reported as false, never as an error.
type Resolver interface {
	Resolve(ctx context.Context, query string) (geocode.Result, bool)
}

// GeocodeStore writes a resolved coordinate onto an item.
type GeocodeStore interface {
	AttachGeocode(ctx context.Context, id string, g models.Geocode) (bool, error)
}

type geocodeJob struct {
	itemID string
	query  string
}

// Enricher geocodes approved items in the background. Jobs are queued
// without blocking and processed one at a time; a lookup that finds nothing
// or fails leaves the item untouched.
type Enricher struct {
	resolver Resolver
	store    GeocodeStore
	jobs     chan geocodeJob
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    AuditPublisher
}

type EnricherOption func(*Enricher)

func WithEnricherLogger(logger *slog.Logger) EnricherOption {
	return func(e *Enricher) {
		e.logger = logger
	}
}

func WithEnricherMetrics(m *metrics.Metrics) EnricherOption {
	return func(e *Enricher) {
		e.metrics = m
	}
}

func WithEnricherAudit(p AuditPublisher) EnricherOption {
	return func(e *Enricher) {
		e.audit = p
	}
}

// NewEnricher buffers up to queueSize pending lookups.
func NewEnricher(resolver Resolver, st GeocodeStore, queueSize int, opts ...EnricherOption) *Enricher {
	if queueSize <= 0 {
		queueSize = 1
	}
	e := &Enricher{
		resolver: resolver,
		store:    st,
		jobs:     make(chan geocodeJob, queueSize),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schedule queues a lookup for itemID and reports whether it was accepted.
// It never blocks; a full queue drops the job.
func (e *Enricher) Schedule(itemID, query string) bool {
	select {
	case e.jobs <- geocodeJob{itemID: itemID, query: query}:
		return true
	default:
		e.metrics.IncEnrichDropped()
		e.logger.Warn("geocode queue full, dropping job", "item_id", itemID)
		return false
	}
}

// Run processes jobs until ctx is done.
func (e *Enricher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-e.jobs:
			e.process(ctx, job)
		}
	}
}

func (e *Enricher) process(ctx context.Context, job geocodeJob) {
	res, ok := e.resolver.Resolve(ctx, job.query)
	if !ok {
		e.metrics.IncGeocode("unresolved")
		e.logger.InfoContext(ctx, "no geocode for approved item",
			"item_id", job.itemID,
			"query", job.query,
		)
		return
	}

	attached, err := e.store.AttachGeocode(ctx, job.itemID, models.Geocode{
		Lat:         res.Lat,
		Lng:         res.Lng,
		Source:      res.Source,
		Provider:    res.Provider,
		Confidence:  res.Confidence,
		DisplayName: res.DisplayName,
	})
	switch {
	case err != nil:
		e.metrics.IncGeocode("store_error")
		e.logger.ErrorContext(ctx, "failed to attach geocode",
			"item_id", job.itemID,
			"error", err,
		)
	case !attached:
		e.metrics.IncGeocode("already_present")
	default:
		e.metrics.IncGeocode("attached")
		e.logger.InfoContext(ctx, "geocode attached",
			"item_id", job.itemID,
			"source", res.Source,
			"provider", res.Provider,
		)
		if e.audit != nil {
			e.audit.Emit(ctx, audit.Event{
				Action: audit.ActionGeocoded,
				ItemID: job.itemID,
				Detail: map[string]string{"source": res.Source, "provider": res.Provider},
			})
		}
	}
}
