package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"dhruv/internal/feedback/learning"
	"dhruv/internal/feedback/learning/mocks"
	feedbackmodels "dhruv/internal/feedback/models"
	feedbackservice "dhruv/internal/feedback/service"
	feedbackstore "dhruv/internal/feedback/store"
	"dhruv/internal/review/models"
	"dhruv/internal/review/service"
	"dhruv/internal/review/store"
	"dhruv/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router  http.Handler
	queue   *service.Service
	learner *mocks.MockClient
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.learner = mocks.NewMockClient(gomock.NewController(s.T()))
	s.queue = service.New(store.New(), service.WithLogger(logger))
	recorder := feedbackservice.New(s.queue, feedbackstore.NewInMemoryStore(), s.learner, feedbackservice.WithLogger(logger))

	r := chi.NewRouter()
	New(s.queue, recorder, logger).Register(r)
	s.router = r

	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	var items []*models.ReviewItem
	for _, id := range []string{"t1", "t2", "t3"} {
		item, err := models.NewReviewItem(models.RawParseRecord{ID: id, Text: "post " + id, EventType: "visit", Location: "Ranchi"}, now)
		s.Require().NoError(err)
		items = append(items, item)
	}
	_, _, err := s.queue.AddBatch(context.Background(), items)
	s.Require().NoError(err)
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	req = testutil.WithReviewer(req, "rev-1")
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) nextID() string {
	rr := s.do(http.MethodGet, "/api/review/next", nil)
	if rr.Code == http.StatusNoContent {
		return ""
	}
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	return testutil.UnmarshalResponse[itemView](s.T(), rr).ID
}

type itemView struct {
	ID                    string                   `json:"id"`
	Approved              bool                     `json:"approved"`
	ExcludedFromAnalytics bool                     `json:"excluded_from_analytics"`
	CorrectionLog         []models.CorrectionEntry `json:"correction_log"`
}

func (s *HandlerSuite) TestApproveFlow() {
	s.Equal("t1", s.nextID())

	rr := s.do(http.MethodPost, "/api/review/items/t1/approve", ApproveRequest{})
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	got := testutil.UnmarshalResponse[itemView](s.T(), rr)
	s.True(got.Approved)
	s.Equal("t2", s.nextID())

	s.Run("second approval conflicts", func() {
		rr := s.do(http.MethodPost, "/api/review/items/t1/approve", ApproveRequest{ExcludeFromAnalytics: true})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})
	s.Run("non-head approval conflicts", func() {
		rr := s.do(http.MethodPost, "/api/review/items/t3/approve", ApproveRequest{})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})
	s.Run("unknown id is not found", func() {
		rr := s.do(http.MethodPost, "/api/review/items/nope/approve", ApproveRequest{})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
	s.Run("approved item stays addressable", func() {
		rr := s.do(http.MethodGet, "/api/review/items/t1", nil)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})
}

func (s *HandlerSuite) TestPendingListsInOrder() {
	rr := s.do(http.MethodGet, "/api/review/pending", nil)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	resp := testutil.UnmarshalResponse[struct {
		Count int        `json:"count"`
		Items []itemView `json:"items"`
	}](s.T(), rr)
	s.Equal(3, resp.Count)
	s.Equal("t1", resp.Items[0].ID)
	s.Equal("t3", resp.Items[2].ID)
}

func (s *HandlerSuite) TestNextIsEmptyAfterDrain() {
	for _, id := range []string{"t1", "t2", "t3"} {
		rr := s.do(http.MethodPost, "/api/review/items/"+id+"/approve", ApproveRequest{})
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	}
	s.Equal("", s.nextID())
}

func (s *HandlerSuite) TestCorrect() {
	s.learner.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(learning.Verdict{Decision: feedbackmodels.DecisionNeedsMoreExamples}, nil)

	rr := s.do(http.MethodPost, "/api/review/items/t3/correct", CorrectRequest{
		Edits: map[string]any{"Location": "Khunti", "schemes": []string{"PM-KISAN"}},
	})
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[struct {
		Decision string   `json:"decision"`
		Approved bool     `json:"approved"`
		Item     itemView `json:"item"`
	}](s.T(), rr)
	s.Equal("NEEDS_MORE_EXAMPLES", resp.Decision)
	s.False(resp.Approved)
	s.Len(resp.Item.CorrectionLog, 2)
	s.Equal("t1", s.nextID(), "correcting a non-head item leaves order alone")

	rr = s.do(http.MethodGet, "/api/review/items/t3/feedback", nil)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}

func (s *HandlerSuite) TestCorrectErrors() {
	s.Run("unknown id", func() {
		rr := s.do(http.MethodPost, "/api/review/items/unknown-id/correct", CorrectRequest{Edits: map[string]any{"location": "Ranchi"}})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
	s.Run("unknown field", func() {
		rr := s.do(http.MethodPost, "/api/review/items/t1/correct", CorrectRequest{Edits: map[string]any{"mood": "happy"}})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
	s.Run("learning system down", func() {
		s.learner.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(learning.Verdict{}, &learning.ForwardingError{StatusCode: 500, Message: "boom"})

		rr := s.do(http.MethodPost, "/api/review/items/t1/correct", CorrectRequest{Edits: map[string]any{"district": "Ranchi"}, Approve: true})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadGateway, "unavailable")
		s.Equal("t1", s.nextID())
	})
}

func (s *HandlerSuite) TestRetry() {
	rr := s.do(http.MethodPost, "/api/review/feedback/retry", nil)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	report := testutil.UnmarshalResponse[feedbackmodels.RetryReport](s.T(), rr)
	s.Equal(0, report.Attempted)
}
