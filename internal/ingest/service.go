package ingest

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"

	"dhruv/internal/ingest/metrics"
	"dhruv/internal/review/models"
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/requestcontext"
)

// maxErrorSamples bounds the per-line errors echoed in a Report.
const maxErrorSamples = 20

// Sink receives gated batches; it is the review queue.
type Sink interface {
	AddBatch(ctx context.Context, items []*models.ReviewItem) (added int, skipped []string, err error)
}

// LineError is a malformed line as reported to the caller.
type LineError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// Report summarizes one ingestion run. It is the user-visible result of an
// ingest, even when some lines failed.
type Report struct {
	Source       string      `json:"source,omitempty"`
	Received     int         `json:"received"`
	Accepted     int         `json:"accepted"`
	Skipped      int         `json:"skipped"`
	Errors       int         `json:"errors"`
	SkippedIDs   []string    `json:"skipped_ids,omitempty"`
	ErrorSamples []LineError `json:"error_samples,omitempty"`
}

type Service struct {
	gate      Gate
	sink      Sink
	logger    *slog.Logger
	metrics   *metrics.Metrics
	malformed atomic.Int64
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

func NewService(sink Sink, opts ...Option) *Service {
	s := &Service{sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestStream decodes an NDJSON stream, gates it and appends the result to
// the review queue. Malformed lines are counted in the report; only a stream
// that is unusable as a whole, or a gate violation, returns an error.
func (s *Service) IngestStream(ctx context.Context, r io.Reader, source string) (*Report, error) {
	lines, malformed, err := DecodeNDJSON(r)
	if err != nil {
		s.metrics.IncBatch(source, "rejected")
		s.logger.WarnContext(ctx, "ingest stream rejected", "source", source, "error", err)
		return nil, err
	}

	batch, err := s.gate.Ingest(lines, requestcontext.Now(ctx))
	if err != nil {
		s.metrics.IncBatch(source, "rejected")
		s.logger.ErrorContext(ctx, "ingest gate rejected batch", "source", source, "error", err)
		return nil, err
	}

	report := &Report{
		Source:   source,
		Received: len(lines) + len(malformed),
	}
	all := slices.Concat(malformed, batch.Errors)
	slices.SortFunc(all, func(a, b *MalformedInputError) int { return a.Line - b.Line })
	report.Errors = len(all)
	for _, e := range all[:min(len(all), maxErrorSamples)] {
		report.ErrorSamples = append(report.ErrorSamples, LineError{Line: e.Line, Error: e.Err.Error()})
	}

	if len(batch.Items) > 0 {
		added, skipped, err := s.sink.AddBatch(ctx, batch.Items)
		if err != nil {
			s.metrics.IncBatch(source, "failed")
			if dErrors.CodeOf(err) == dErrors.CodeInternal {
				s.logger.ErrorContext(ctx, "failed to queue ingested items", "source", source, "error", err)
			}
			return nil, err
		}
		report.Accepted = added
		report.Skipped = len(skipped)
		report.SkippedIDs = skipped
	}

	s.malformed.Add(int64(report.Errors))
	s.metrics.AddRecords("accepted", report.Accepted)
	s.metrics.AddRecords("skipped", report.Skipped)
	s.metrics.AddRecords("malformed", report.Errors)
	s.metrics.IncBatch(source, "ok")
	s.logger.InfoContext(ctx, "ingest complete",
		"source", source,
		"received", report.Received,
		"accepted", report.Accepted,
		"skipped", report.Skipped,
		"errors", report.Errors,
	)
	return report, nil
}

// MalformedTotal is the number of lines rejected since the process started.
func (s *Service) MalformedTotal() int64 {
	return s.malformed.Load()
}
