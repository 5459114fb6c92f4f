package analytics

import (
	"cmp"
	"iter"
	"slices"
	"strings"

	"dhruv/internal/review/models"
	dErrors "dhruv/pkg/domain-errors"
)

// Chart names a supported aggregation.
type Chart string

const (
	ChartEventTypes Chart = "event-types"
	ChartLocations  Chart = "locations"
	ChartDistricts  Chart = "districts"
	ChartSchemes    Chart = "schemes"
)

// TopN bounds every chart.
const TopN = 10

// ChartPoint is one bar of a chart.
type ChartPoint struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// ErrUnknownChart is returned for a chart name that is not supported.
var ErrUnknownChart = dErrors.New(dErrors.CodeNotFound, "unknown chart")

// labels returns the values an item contributes to a chart. Blank values
// are not counted.
func labels(chart Chart, item *models.ReviewItem) []string {
	switch chart {
	case ChartEventTypes:
		return []string{item.Payload.EventType}
	case ChartLocations:
		return []string{item.Payload.Location}
	case ChartDistricts:
		return []string{item.Payload.District}
	case ChartSchemes:
		return item.Payload.Schemes
	}
	return nil
}

// Aggregate counts the visible items in items for chart and returns the
// TopN labels by count, ties broken by name.
func Aggregate(chart Chart, items iter.Seq[*models.ReviewItem]) ([]ChartPoint, error) {
	switch chart {
	case ChartEventTypes, ChartLocations, ChartDistricts, ChartSchemes:
	default:
		return nil, ErrUnknownChart
	}

	counts := make(map[string]int)
	display := make(map[string]string)
	for item := range Visible(items) {
		for _, l := range labels(chart, item) {
			l = strings.TrimSpace(l)
			if l == "" {
				continue
			}
			key := strings.ToLower(l)
			if _, ok := display[key]; !ok {
				display[key] = l
			}
			counts[key]++
		}
	}

	points := make([]ChartPoint, 0, len(counts))
	for key, n := range counts {
		points = append(points, ChartPoint{Name: display[key], Value: n})
	}
	slices.SortFunc(points, func(a, b ChartPoint) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(points) > TopN {
		points = points[:TopN]
	}
	return points, nil
}

// GeoPoint is one visible item on the map.
type GeoPoint struct {
	ID         string  `json:"id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	EventType  string  `json:"event_type"`
	Location   string  `json:"location"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// GeoPoints exports the visible items that carry a geocode.
func GeoPoints(items iter.Seq[*models.ReviewItem]) []GeoPoint {
	out := []GeoPoint{}
	for item := range Visible(items) {
		if item.Geocode == nil {
			continue
		}
		out = append(out, GeoPoint{
			ID:         item.ID,
			Lat:        item.Geocode.Lat,
			Lng:        item.Geocode.Lng,
			EventType:  item.Payload.EventType,
			Location:   item.Payload.Location,
			Source:     item.Geocode.Source,
			Confidence: item.Geocode.Confidence,
		})
	}
	return out
}
