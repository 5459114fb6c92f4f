package analytics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhruv/internal/review/models"
	"dhruv/internal/review/service"
	"dhruv/internal/review/store"
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/testutil"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newItem(t *testing.T, rec models.RawParseRecord) *models.ReviewItem {
	t.Helper()
	item, err := models.NewReviewItem(rec, now)
	require.NoError(t, err)
	return item
}

func TestIsVisibleOverReachableStates(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(t *testing.T, item *models.ReviewItem)
		visible bool
	}{
		{"fresh", func(*testing.T, *models.ReviewItem) {}, false},
		{"corrected but unapproved", func(t *testing.T, i *models.ReviewItem) {
			c, err := i.PlanCorrection(map[models.Field]any{models.FieldLocation: "Gumla"}, "r", now)
			require.NoError(t, err)
			i.ApplyCorrection(c)
		}, false},
		{"geocoded but unapproved", func(_ *testing.T, i *models.ReviewItem) {
			i.AttachGeocode(models.Geocode{Lat: 1, Lng: 2})
		}, false},
		{"approved", func(t *testing.T, i *models.ReviewItem) {
			require.NoError(t, i.Approve(false, "r", now))
		}, true},
		{"approved and excluded", func(t *testing.T, i *models.ReviewItem) {
			require.NoError(t, i.Approve(true, "r", now))
		}, false},
		{"approved then corrected", func(t *testing.T, i *models.ReviewItem) {
			require.NoError(t, i.Approve(false, "r", now))
			c, err := i.PlanCorrection(map[models.Field]any{models.FieldEventType: "rally"}, "r", now)
			require.NoError(t, err)
			i.ApplyCorrection(c)
		}, true},
		{"excluded then corrected", func(t *testing.T, i *models.ReviewItem) {
			require.NoError(t, i.Approve(true, "r", now))
			c, err := i.PlanCorrection(map[models.Field]any{models.FieldEventType: "rally"}, "r", now)
			require.NoError(t, err)
			i.ApplyCorrection(c)
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := newItem(t, models.RawParseRecord{ID: "x", EventType: "visit"})
			tc.mutate(t, item)
			assert.Equal(t, tc.visible, IsVisible(item))
			assert.Equal(t, item.IsApproved() && !item.ExcludedFromAnalytics, IsVisible(item))
		})
	}
	assert.False(t, IsVisible(nil))
}

func TestVisibilityScenario(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	svc := service.New(st, service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	var batch []*models.ReviewItem
	for _, id := range []string{"t1", "t2", "t3"} {
		batch = append(batch, newItem(t, models.RawParseRecord{ID: id, EventType: "visit"}))
	}
	_, _, err := svc.AddBatch(ctx, batch)
	require.NoError(t, err)

	visibleIDs := func() []string {
		var ids []string
		for item := range Visible(st.All(ctx)) {
			ids = append(ids, item.ID)
		}
		return ids
	}

	assert.Empty(t, visibleIDs(), "nothing is visible before review")

	_, err = svc.Approve(ctx, "t1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, visibleIDs())

	t2, err := svc.Approve(ctx, "t2", true)
	require.NoError(t, err)
	assert.True(t, t2.IsApproved())
	assert.False(t, IsVisible(t2))
	assert.Equal(t, []string{"t1"}, visibleIDs())
}

func TestAggregate(t *testing.T) {
	var items []*models.ReviewItem
	add := func(eventType, location string, schemes []string, approve, exclude bool) {
		item := newItem(t, models.RawParseRecord{
			ID:        fmt.Sprintf("i%d", len(items)),
			EventType: eventType,
			Location:  location,
			Entities:  models.Entities{Schemes: schemes},
		})
		if approve {
			require.NoError(t, item.Approve(exclude, "r", now))
		}
		items = append(items, item)
	}
	add("visit", "Ranchi", []string{"PM-KISAN", "MGNREGA"}, true, false)
	add("Visit", "Ranchi", []string{"MGNREGA"}, true, false)
	add("meeting", "Dumka", nil, true, false)
	add("meeting", "Dumka", []string{"MGNREGA"}, false, false)
	add("rally", "Bokaro", []string{"MGNREGA"}, true, true)

	t.Run("event types count visible items only", func(t *testing.T) {
		points, err := Aggregate(ChartEventTypes, slices.Values(items))
		require.NoError(t, err)
		assert.Equal(t, []ChartPoint{{Name: "visit", Value: 2}, {Name: "meeting", Value: 1}}, points)
	})

	t.Run("schemes count each list entry", func(t *testing.T) {
		points, err := Aggregate(ChartSchemes, slices.Values(items))
		require.NoError(t, err)
		assert.Equal(t, []ChartPoint{{Name: "MGNREGA", Value: 2}, {Name: "PM-KISAN", Value: 1}}, points)
	})

	t.Run("unknown chart", func(t *testing.T) {
		_, err := Aggregate("sentiment", slices.Values(items))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("top ten only", func(t *testing.T) {
		var many []*models.ReviewItem
		for i := range 15 {
			item := newItem(t, models.RawParseRecord{ID: fmt.Sprintf("m%d", i), Location: fmt.Sprintf("Block %02d", i)})
			require.NoError(t, item.Approve(false, "r", now))
			many = append(many, item)
		}
		points, err := Aggregate(ChartLocations, slices.Values(many))
		require.NoError(t, err)
		assert.Len(t, points, TopN)
		assert.Equal(t, "Block 00", points[0].Name)
	})
}

func TestGeoPoints(t *testing.T) {
	located := newItem(t, models.RawParseRecord{ID: "a", Location: "Ranchi"})
	require.NoError(t, located.Approve(false, "r", now))
	located.AttachGeocode(models.Geocode{Lat: 23.34, Lng: 85.31, Source: "primary"})

	hidden := newItem(t, models.RawParseRecord{ID: "b", Location: "Ranchi"})
	hidden.AttachGeocode(models.Geocode{Lat: 23.34, Lng: 85.31})

	unlocated := newItem(t, models.RawParseRecord{ID: "c"})
	require.NoError(t, unlocated.Approve(false, "r", now))

	points := GeoPoints(slices.Values([]*models.ReviewItem{located, hidden, unlocated}))
	require.Len(t, points, 1)
	assert.Equal(t, "a", points[0].ID)
	assert.Equal(t, "primary", points[0].Source)
}

type fixedIngest int64

func (f fixedIngest) MalformedTotal() int64 { return int64(f) }

func TestHandler(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	var batch []*models.ReviewItem
	for _, id := range []string{"t1", "t2", "t3"} {
		batch = append(batch, newItem(t, models.RawParseRecord{ID: id, EventType: "visit", Location: "Ranchi"}))
	}
	_, _, err := st.AddBatch(ctx, batch)
	require.NoError(t, err)
	_, err = st.ApproveHead(ctx, "t1", false, "r", now)
	require.NoError(t, err)
	_, err = st.ApproveHead(ctx, "t2", true, "r", now)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(NewService(st, fixedIngest(4)), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	t.Run("stats", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodGet, "/api/stats", nil))
		testutil.AssertStatus(t, rr, http.StatusOK)
		got := testutil.UnmarshalResponse[Stats](t, rr)
		assert.Equal(t, Stats{Total: 3, Pending: 1, Approved: 2, Excluded: 1, Visible: 1, IngestErrors: 4}, *got)
	})

	t.Run("chart", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodGet, "/api/analytics/event-types", nil))
		testutil.AssertStatus(t, rr, http.StatusOK)
		got := testutil.UnmarshalResponse[[]ChartPoint](t, rr)
		assert.Equal(t, []ChartPoint{{Name: "visit", Value: 1}}, *got)
	})

	t.Run("geo is empty but not null", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodGet, "/api/analytics/geo", nil))
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.JSONEq(t, "[]", rr.Body.String())
	})

	t.Run("unknown chart", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodGet, "/api/analytics/sentiment", nil))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})
}
