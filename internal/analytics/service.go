package analytics

import (
	"context"
	"iter"

	"dhruv/internal/review/models"
	"dhruv/internal/review/store"
)

// ItemSource is read-only access to every review item.
type ItemSource interface {
	All(ctx context.Context) iter.Seq[*models.ReviewItem]
	Counts(ctx context.Context) store.Counts
}

// IngestCounter reports how many upstream lines were rejected as malformed.
type IngestCounter interface {
	MalformedTotal() int64
}

// Stats is the dashboard summary. Total, Pending, Approved and Excluded
// describe the review queue; Visible is what analytics counts.
type Stats struct {
	Total        int   `json:"total"`
	Pending      int   `json:"pending"`
	Approved     int   `json:"approved"`
	Excluded     int   `json:"excluded"`
	Visible      int   `json:"visible"`
	Geocoded     int   `json:"geocoded"`
	IngestErrors int64 `json:"ingest_errors"`
}

type Service struct {
	items  ItemSource
	ingest IngestCounter
}

func NewService(items ItemSource, ingest IngestCounter) *Service {
	return &Service{items: items, ingest: ingest}
}

func (s *Service) Stats(ctx context.Context) Stats {
	c := s.items.Counts(ctx)
	st := Stats{Total: c.Total, Pending: c.Pending, Approved: c.Approved, Excluded: c.Excluded}
	for item := range Visible(s.items.All(ctx)) {
		st.Visible++
		if item.Geocode != nil {
			st.Geocoded++
		}
	}
	if s.ingest != nil {
		st.IngestErrors = s.ingest.MalformedTotal()
	}
	return st
}

func (s *Service) Chart(ctx context.Context, chart Chart) ([]ChartPoint, error) {
	return Aggregate(chart, s.items.All(ctx))
}

func (s *Service) GeoPoints(ctx context.Context) []GeoPoint {
	return GeoPoints(s.items.All(ctx))
}
