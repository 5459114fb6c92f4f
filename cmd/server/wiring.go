package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dhruv/internal/analytics"
	"dhruv/internal/audit"
	"dhruv/internal/feedback/learning"
	feedbackmetrics "dhruv/internal/feedback/metrics"
	feedbackservice "dhruv/internal/feedback/service"
	feedbackstore "dhruv/internal/feedback/store"
	geocodecache "dhruv/internal/geocode/cache"
	geocodehandler "dhruv/internal/geocode/handler"
	geocodemetrics "dhruv/internal/geocode/metrics"
	"dhruv/internal/geocode/providers"
	"dhruv/internal/geocode/resolver"
	"dhruv/internal/ingest"
	ingestmetrics "dhruv/internal/ingest/metrics"
	jwttoken "dhruv/internal/jwt_token"
	"dhruv/internal/platform/config"
	"dhruv/internal/platform/kafka"
	"dhruv/internal/platform/metrics"
	"dhruv/internal/platform/middleware"
	"dhruv/internal/platform/postgres"
	"dhruv/internal/platform/redis"
	reviewhandler "dhruv/internal/review/handler"
	reviewmetrics "dhruv/internal/review/metrics"
	reviewservice "dhruv/internal/review/service"
	reviewstore "dhruv/internal/review/store"
	"dhruv/pkg/platform/middleware/metadata"
	"dhruv/pkg/platform/middleware/requesttime"
)

const auditOutboxSize = 1024

// application is the wired server: its router, the background workers to run
// alongside it and the resources to release on exit.
type application struct {
	router  chi.Router
	workers []func(context.Context) error
	closers []func() error
	log     *slog.Logger
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("failed to release resource", "error", err)
		}
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{log: log}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.New(reg)

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if db != nil {
		app.closers = append(app.closers, db.Close)
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		app.closers = append(app.closers, redisClient.Close)
	}

	kafkaClient, err := kafka.NewClient(cfg.Kafka.Brokers)
	if err != nil {
		return nil, err
	}
	if kafkaClient != nil {
		app.closers = append(app.closers, func() error { kafkaClient.Close(); return nil })
	}

	// Audit.
	publisherOpts := []audit.PublisherOption{audit.WithPublisherLogger(log)}
	if kafkaClient != nil {
		if err := kafka.EnsureTopic(ctx, kafkaClient, cfg.Kafka.AuditTopic); err != nil {
			return nil, err
		}
		outbox := make(chan audit.Event, auditOutboxSize)
		publisherOpts = append(publisherOpts, audit.WithOutbox(outbox))
		worker := audit.NewWorker(audit.NewKafkaSink(kafkaClient, cfg.Kafka.AuditTopic), outbox, log)
		app.workers = append(app.workers, worker.Run)
	}
	auditPublisher := audit.NewPublisher(audit.NewInMemoryStore(), publisherOpts...)

	// Geocoding.
	resolverSvc, err := buildResolver(cfg.Geocoder, redisClient, geocodemetrics.New(reg), log)
	if err != nil {
		return nil, err
	}

	// Review queue.
	var storeOpts []reviewstore.Option
	if db != nil {
		mirror := reviewstore.NewPostgres(db)
		if err := mirror.Migrate(ctx); err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, reviewstore.WithMirror(mirror))
	}
	queueStore := reviewstore.New(storeOpts...)
	loaded, err := queueStore.Load(ctx)
	if err != nil {
		return nil, err
	}
	if loaded > 0 {
		log.Info("review queue restored", "items", loaded)
	}

	reviewMetrics := reviewmetrics.New(reg)
	enricher := reviewservice.NewEnricher(resolverSvc, queueStore, cfg.Geocoder.QueueSize,
		reviewservice.WithEnricherLogger(log),
		reviewservice.WithEnricherMetrics(reviewMetrics),
		reviewservice.WithEnricherAudit(auditPublisher),
	)
	app.workers = append(app.workers, enricher.Run)

	reviewSvc := reviewservice.New(queueStore,
		reviewservice.WithLogger(log),
		reviewservice.WithMetrics(reviewMetrics),
		reviewservice.WithAuditPublisher(auditPublisher),
		reviewservice.WithGeocoder(enricher),
	)

	// Correction feedback.
	examples, closeExamples, err := openFeedbackStore(cfg.FeedbackDBPath)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeExamples)

	var learningClient learning.Client = learning.NopClient{}
	if cfg.Learning.URL != "" {
		learningClient = learning.NewHTTPClient(cfg.Learning.URL, cfg.Learning.Timeout)
	} else {
		log.Warn("LEARNING_URL not set, corrections will not reach a learning system")
	}
	recorder := feedbackservice.New(reviewSvc, examples, learningClient,
		feedbackservice.WithLogger(log),
		feedbackservice.WithMetrics(feedbackmetrics.New(reg)),
		feedbackservice.WithAuditPublisher(auditPublisher),
	)
	if cfg.Learning.RetryInterval > 0 {
		app.workers = append(app.workers, retryLoop(recorder, cfg.Learning.RetryInterval, log))
	}

	// Ingestion.
	ingestSvc := ingest.NewService(reviewSvc,
		ingest.WithLogger(log),
		ingest.WithMetrics(ingestmetrics.New(reg)),
	)
	if cfg.InboxDir != "" {
		app.workers = append(app.workers, ingest.NewWatcher(cfg.InboxDir, ingestSvc, log).Run)
	}

	analyticsSvc := analytics.NewService(reviewSvc, ingestSvc)

	// HTTP.
	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log, httpMetrics))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/health", healthHandler(db, redisClient, kafkaClient))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(jwtService, log))
		reviewhandler.New(reviewSvc, recorder, log).Register(r)
		ingest.NewHandler(ingestSvc, log).Register(r)
		analytics.NewHandler(analyticsSvc, log).Register(r)
		geocodehandler.New(resolverSvc, log).Register(r)
		audit.NewHandler(auditPublisher, log).Register(r)
	})

	app.router = r
	return app, nil
}

func buildResolver(cfg config.Geocoder, redisClient *redis.Client, m *geocodemetrics.Metrics, log *slog.Logger) (*resolver.Resolver, error) {
	chainCfg := providers.DefaultChain(cfg.MapboxToken)
	if cfg.ConfigPath != "" {
		loaded, err := providers.LoadChainConfig(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		chainCfg = loaded
	}
	chain, err := providers.BuildChain(chainCfg)
	if err != nil {
		return nil, err
	}

	tiers := []geocodecache.Cache{geocodecache.NewMemory()}
	if redisClient != nil {
		tiers = append(tiers, geocodecache.NewRedis(redisClient.Client))
	}

	names := make([]string, 0, len(chain))
	for _, p := range chain {
		names = append(names, p.Name())
	}
	log.Info("geocoder configured", "providers", names, "cache_tiers", len(tiers))

	return resolver.New(geocodecache.NewChain(tiers...), chain,
		resolver.WithLogger(log),
		resolver.WithMetrics(m),
		resolver.WithUnreportedConfidence(cfg.SecondaryConfidence),
	)
}

// openFeedbackStore returns the durable SQLite store when path is set and the
// in-memory store otherwise.
func openFeedbackStore(path string) (feedbackservice.Store, func() error, error) {
	if path == "" {
		return feedbackstore.NewInMemoryStore(), func() error { return nil }, nil
	}
	st, err := feedbackstore.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open feedback store: %w", err)
	}
	return st, st.Close, nil
}

func retryLoop(recorder *feedbackservice.Recorder, interval time.Duration, log *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				report, err := recorder.RetryPending(ctx)
				if err != nil {
					log.ErrorContext(ctx, "feedback retry failed", "error", err)
					continue
				}
				if report.Attempted > 0 {
					log.InfoContext(ctx, "feedback retry complete",
						"attempted", report.Attempted,
						"forwarded", report.Forwarded,
						"failed", report.Failed,
					)
				}
			}
		}
	}
}
