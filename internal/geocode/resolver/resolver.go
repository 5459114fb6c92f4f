// Package resolver implements the location resolver: cache first, then an
// ordered chain of providers, first success wins.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"dhruv/internal/geocode"
	"dhruv/internal/geocode/cache"
	"dhruv/internal/geocode/metrics"
	"dhruv/internal/geocode/providers"
	"dhruv/pkg/platform/circuit"
	pstrings "dhruv/pkg/platform/strings"
)

// DefaultUnreportedConfidence is assigned to matches from providers that do
// not report a confidence of their own.
const DefaultUnreportedConfidence = 0.7

type tier struct {
	provider providers.Provider
	source   string
	breaker  *circuit.Breaker
}

// Resolver resolves free-text locations. Safe for concurrent use; concurrent
// lookups of the same normalized query share one provider round.
type Resolver struct {
	cache                cache.Cache
	tiers                []tier
	unreportedConfidence float64
	breakerOpts          []circuit.Option
	logger               *slog.Logger
	metrics              *metrics.Metrics
	tracer               trace.Tracer
	flights              singleflight.Group
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithUnreportedConfidence sets the confidence given to matches from
// providers that do not report one.
func WithUnreportedConfidence(c float64) Option {
	return func(r *Resolver) {
		r.unreportedConfidence = clamp(c)
	}
}

// WithBreakerOptions configures the per-provider circuit breakers.
func WithBreakerOptions(opts ...circuit.Option) Option {
	return func(r *Resolver) {
		r.breakerOpts = opts
	}
}

// New builds a resolver over c and the ordered provider chain.
func New(c cache.Cache, chain []providers.Provider, opts ...Option) (*Resolver, error) {
	if c == nil {
		return nil, fmt.Errorf("geocode cache is required")
	}
	if len(chain) == 0 {
		return nil, providers.ErrNoProviders
	}
	r := &Resolver{
		cache:                c,
		unreportedConfidence: DefaultUnreportedConfidence,
		logger:               slog.Default(),
		tracer:               otel.Tracer("dhruv/geocode"),
	}
	for _, opt := range opts {
		opt(r)
	}
	for i, p := range chain {
		r.tiers = append(r.tiers, tier{
			provider: p,
			source:   geocode.SourceForPosition(i),
			breaker:  circuit.New(p.Name(), r.breakerOpts...),
		})
	}
	return r, nil
}

// Resolve returns the coordinate for query, or false when nothing could be
// found. An empty query returns false without touching cache or providers.
// If ctx ends first Resolve returns false, but an in-flight lookup still
// completes and populates the cache.
func (r *Resolver) Resolve(ctx context.Context, query string) (geocode.Result, bool) {
	display := pstrings.CollapseSpace(query)
	key := pstrings.FoldKey(query)
	if key == "" {
		return geocode.Result{}, false
	}

	ctx, span := r.tracer.Start(ctx, "geocode.Resolve", trace.WithAttributes(attribute.String("geocode.key", key)))
	defer span.End()

	if res, ok := r.fromCache(ctx, key); ok {
		span.SetAttributes(attribute.String("geocode.source", res.Source))
		r.metrics.IncLookup(geocode.SourceCache)
		return res, true
	}

	detached := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(key, func() (any, error) {
		return r.lookup(detached, key, display), nil
	})

	select {
	case <-ctx.Done():
		r.logger.DebugContext(ctx, "geocode caller gave up", "key", key)
		return geocode.Result{}, false
	case out := <-ch:
		res, _ := out.Val.(*geocode.Result)
		if res == nil {
			r.metrics.IncLookup("none")
			return geocode.Result{}, false
		}
		span.SetAttributes(attribute.Bool("geocode.shared", out.Shared))
		span.SetAttributes(attribute.String("geocode.source", res.Source))
		r.metrics.IncLookup(res.Source)
		return *res, true
	}
}

func (r *Resolver) fromCache(ctx context.Context, key string) (geocode.Result, bool) {
	e, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "geocode cache read failed", "key", key, "error", err)
	}
	if !ok {
		return geocode.Result{}, false
	}
	return geocode.Result{
		Lat:         e.Lat,
		Lng:         e.Lng,
		DisplayName: e.DisplayName,
		Confidence:  e.Confidence,
		Source:      geocode.SourceCache,
		Provider:    e.Provider,
	}, true
}

// lookup walks the provider chain. It returns nil when every provider failed
// or was skipped.
func (r *Resolver) lookup(ctx context.Context, key, query string) *geocode.Result {
	// A round that finished just before this one began may have filled it.
	if res, ok := r.fromCache(ctx, key); ok {
		return &res
	}

	for _, t := range r.tiers {
		name := t.provider.Name()
		if !t.breaker.Allow() {
			r.logger.DebugContext(ctx, "geocode provider skipped, breaker open", "provider", name)
			continue
		}

		match, err := r.call(ctx, t.provider, query)
		if err != nil {
			category := providers.GetCategory(err)
			r.metrics.IncProviderFailure(name, string(category))
			r.logger.WarnContext(ctx, "geocode provider failed",
				"provider", name,
				"source", t.source,
				"category", category,
				"error", err,
			)
			if providers.IsUnhealthy(err) {
				if _, change := t.breaker.RecordFailure(); change.Opened {
					r.metrics.SetBreakerOpen(name, true)
					r.logger.WarnContext(ctx, "geocode provider breaker opened", "provider", name)
				}
			} else {
				r.recordSuccess(ctx, t)
			}
			continue
		}
		r.recordSuccess(ctx, t)

		confidence := r.unreportedConfidence
		if match.ConfidenceReported {
			confidence = clamp(match.Confidence)
		}
		entry := cache.Entry{
			Lat:         match.Lat,
			Lng:         match.Lng,
			DisplayName: match.DisplayName,
			Confidence:  confidence,
			Provider:    name,
		}
		stored, err := r.cache.Put(ctx, key, entry)
		if err != nil {
			r.logger.WarnContext(ctx, "geocode cache write failed", "key", key, "error", err)
		} else if !stored {
			// Another writer got there first; its answer is the one that sticks.
			if res, ok := r.fromCache(ctx, key); ok {
				return &res
			}
		}
		return &geocode.Result{
			Lat:         match.Lat,
			Lng:         match.Lng,
			DisplayName: match.DisplayName,
			Confidence:  confidence,
			Source:      t.source,
			Provider:    name,
		}
	}

	r.logger.InfoContext(ctx, "geocode exhausted all providers", "key", key)
	return nil
}

func (r *Resolver) recordSuccess(ctx context.Context, t tier) {
	if _, change := t.breaker.RecordSuccess(); change.Closed {
		r.metrics.SetBreakerOpen(t.provider.Name(), false)
		r.logger.InfoContext(ctx, "geocode provider breaker closed", "provider", t.provider.Name())
	}
}

// call invokes one provider, converting a panic into a ProviderError.
func (r *Resolver) call(ctx context.Context, p providers.Provider, query string) (match *providers.Match, err error) {
	start := time.Now()
	defer func() {
		r.metrics.ObserveProvider(p.Name(), start)
		if rec := recover(); rec != nil {
			match = nil
			err = providers.NewProviderError(providers.ErrorInternal, p.Name(), fmt.Sprintf("panic: %v", rec), nil)
		}
	}()

	match, err = p.Lookup(ctx, query)
	if err == nil && match == nil {
		err = providers.NewProviderError(providers.ErrorNotFound, p.Name(), "no results", nil)
	}
	return match, err
}

func clamp(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
