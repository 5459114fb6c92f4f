package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"dhruv/internal/feedback/learning"
	"dhruv/internal/feedback/learning/mocks"
	"dhruv/internal/feedback/models"
	"dhruv/internal/feedback/store"
	review "dhruv/internal/review/models"
	reviewservice "dhruv/internal/review/service"
	reviewstore "dhruv/internal/review/store"
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/requestcontext"
)

type RecorderSuite struct {
	suite.Suite
	ctx      context.Context
	client   *mocks.MockClient
	examples *store.InMemoryStore
	queue    *reviewservice.Service
	recorder *Recorder
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.client = mocks.NewMockClient(ctrl)
	s.examples = store.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	now := time.Date(2026, 5, 20, 14, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithReviewerID(requestcontext.WithTime(context.Background(), now), "rev-3")
	s.queue = reviewservice.New(reviewstore.New(), reviewservice.WithLogger(logger))
	s.recorder = New(s.queue, s.examples, s.client, WithLogger(logger))

	var items []*review.ReviewItem
	for _, id := range []string{"t1", "t2"} {
		item, err := review.NewReviewItem(review.RawParseRecord{
			ID:        id,
			Text:      "Minister met SHG members in Latehar",
			EventType: "meeting",
			Location:  "Latehar",
		}, now)
		s.Require().NoError(err)
		items = append(items, item)
	}
	_, _, err := s.queue.AddBatch(s.ctx, items)
	s.Require().NoError(err)
}

func (s *RecorderSuite) payload(id string) review.Payload {
	item, err := s.queue.Get(s.ctx, id)
	s.Require().NoError(err)
	return item.Payload
}

func (s *RecorderSuite) TestRecordForwardsDiffAndSurfacesDecision() {
	original := s.payload("t2")
	corrected := original.Clone()
	corrected.EventType = "visit"
	corrected.Location = "Latehar Sadar"

	s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, sub learning.Submission) (learning.Verdict, error) {
			s.Equal("t2", sub.ItemID)
			s.Equal("Minister met SHG members in Latehar", sub.OriginalText)
			s.Equal("meeting", sub.OriginalPayload.EventType)
			s.Len(sub.Correction, 2)
			return learning.Verdict{Decision: models.DecisionNeedsMoreExamples, Reason: "1 of 5 examples"}, nil
		})

	res, err := s.recorder.Record(s.ctx, "t2", original, corrected)
	s.Require().NoError(err)
	s.Equal(models.DecisionNeedsMoreExamples, res.Decision)
	s.Equal("1 of 5 examples", res.Reason)
	s.Len(res.Changes, 2)

	item, err := s.queue.Get(s.ctx, "t2")
	s.Require().NoError(err)
	s.Len(item.CorrectionLog, 2, "entries land on the queue's item")
	s.Equal("visit", item.Payload.EventType)
	s.False(item.IsApproved())

	stored, err := s.recorder.Examples(s.ctx, "t2")
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(models.ForwardDelivered, stored[0].Status)
	s.Equal("rev-3", stored[0].ReviewerID)
}

func (s *RecorderSuite) TestNoDiffIsSkipped() {
	original := s.payload("t1")

	res, err := s.recorder.Record(s.ctx, "t1", original, original.Clone())
	s.Require().NoError(err)
	s.Equal(models.DecisionSkipped, res.Decision)
	s.Empty(res.Changes)

	stored, err := s.recorder.Examples(s.ctx, "t1")
	s.Require().NoError(err)
	s.Empty(stored)
}

func (s *RecorderSuite) TestForwardFailureIsSurfacedButKeptLocally() {
	original := s.payload("t1")
	corrected := original.Clone()
	corrected.District = "Latehar"

	s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(learning.Verdict{}, &learning.ForwardingError{StatusCode: 503, Message: "down"})

	_, err := s.recorder.Record(s.ctx, "t1", original, corrected)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	item, err := s.queue.Get(s.ctx, "t1")
	s.Require().NoError(err)
	s.Len(item.CorrectionLog, 1, "local log survives a failed forward")

	failed, err := s.examples.ListByStatus(s.ctx, models.ForwardFailed)
	s.Require().NoError(err)
	s.Require().Len(failed, 1)
	s.Equal(1, failed[0].Attempts)

	s.Run("retry delivers it", func() {
		s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(learning.Verdict{Decision: models.DecisionAutoDeploy}, nil)

		report, err := s.recorder.RetryPending(s.ctx)
		s.Require().NoError(err)
		s.Equal(models.RetryReport{Attempted: 1, Forwarded: 1}, report)

		got, err := s.examples.Get(s.ctx, failed[0].ID)
		s.Require().NoError(err)
		s.Equal(models.ForwardDelivered, got.Status)
		s.Equal(models.DecisionAutoDeploy, got.Decision)
		s.Equal(2, got.Attempts)
	})
}

func (s *RecorderSuite) TestRecordUnknownItem() {
	corrected := review.Payload{Location: "Ranchi"}

	_, err := s.recorder.Record(s.ctx, "unknown-id", review.Payload{}, corrected)
	s.ErrorIs(err, review.ErrNotFound)
}

func (s *RecorderSuite) TestRecordUnknownItemWithoutChanges() {
	res, err := s.recorder.Record(s.ctx, "unknown-id", review.Payload{}, review.Payload{})
	s.ErrorIs(err, review.ErrNotFound)
	s.Nil(res)
}

func (s *RecorderSuite) TestConcurrentRetriesForwardOnce() {
	original := s.payload("t1")
	corrected := original.Clone()
	corrected.District = "Latehar"

	s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(learning.Verdict{}, &learning.ForwardingError{StatusCode: 503, Message: "down"})
	_, err := s.recorder.Record(s.ctx, "t1", original, corrected)
	s.Require().Error(err)

	s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, learning.Submission) (learning.Verdict, error) {
			time.Sleep(50 * time.Millisecond)
			return learning.Verdict{Decision: models.DecisionAutoDeploy}, nil
		}).Times(1)

	reports := make([]models.RetryReport, 2)
	var wg sync.WaitGroup
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := s.recorder.RetryPending(s.ctx)
			s.NoError(err)
			reports[i] = report
		}()
	}
	wg.Wait()

	s.Equal(1, reports[0].Attempted+reports[1].Attempted)
	s.Equal(1, reports[0].Forwarded+reports[1].Forwarded)

	stored, err := s.recorder.Examples(s.ctx, "t1")
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(models.ForwardDelivered, stored[0].Status)
	s.Equal(2, stored[0].Attempts)
}

type unreliableStore struct {
	*store.InMemoryStore
	failSave bool
}

func (u *unreliableStore) Save(ctx context.Context, e *models.TrainingExample) error {
	if u.failSave {
		return errors.New("disk I/O error")
	}
	return u.InMemoryStore.Save(ctx, e)
}

func (s *RecorderSuite) TestFailedSaveLeavesItemUncorrected() {
	examples := &unreliableStore{InMemoryStore: s.examples, failSave: true}
	recorder := New(s.queue, examples, s.client, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	original := s.payload("t1")
	corrected := original.Clone()
	corrected.District = "Latehar"

	_, err := recorder.Record(s.ctx, "t1", original, corrected)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	item, err := s.queue.Get(s.ctx, "t1")
	s.Require().NoError(err)
	s.Empty(item.CorrectionLog)
	s.Equal(original.District, item.Payload.District)

	s.Run("the same request succeeds once the store recovers", func() {
		examples.failSave = false
		s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, sub learning.Submission) (learning.Verdict, error) {
				s.Equal("t1", sub.ItemID)
				s.Require().Len(sub.Correction, 1)
				s.Equal(review.FieldDistrict, sub.Correction[0].Field)
				return learning.Verdict{Decision: models.DecisionAutoDeploy}, nil
			})

		res, err := recorder.Record(s.ctx, "t1", s.payload("t1"), corrected)
		s.Require().NoError(err)
		s.Equal(models.DecisionAutoDeploy, res.Decision)
		s.Len(res.Changes, 1)

		item, err := s.queue.Get(s.ctx, "t1")
		s.Require().NoError(err)
		s.Len(item.CorrectionLog, 1)
		s.Equal("Latehar", item.Payload.District)

		stored, err := s.examples.ListByItem(s.ctx, "t1")
		s.Require().NoError(err)
		s.Require().Len(stored, 1)
		s.Equal(models.ForwardDelivered, stored[0].Status)
	})
}

func (s *RecorderSuite) TestSubmitWithApproval() {
	s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(learning.Verdict{Decision: models.DecisionBlock, Reason: "conflicts with gazetteer"}, nil)

	res, err := s.recorder.Submit(s.ctx, "t1", map[review.Field]any{review.FieldLocation: "Betla"}, true, false)
	s.Require().NoError(err)
	s.True(res.Approved)
	s.True(res.Item.IsApproved())
	s.Equal(models.DecisionBlock, res.Decision)

	head, ok := s.queue.PeekNext(s.ctx)
	s.Require().True(ok)
	s.Equal("t2", head.ID)
}

func (s *RecorderSuite) TestSubmitApprovalNeedsTheHead() {
	s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(learning.Verdict{Decision: models.DecisionAutoDeploy}, nil)

	_, err := s.recorder.Submit(s.ctx, "t2", map[review.Field]any{review.FieldLocation: "Betla"}, true, false)
	s.ErrorIs(err, review.ErrNotHead)

	item, err := s.queue.Get(s.ctx, "t2")
	s.Require().NoError(err)
	s.Len(item.CorrectionLog, 1, "the correction itself still stands")
}

func (s *RecorderSuite) TestSubmitForwardFailureDoesNotApprove() {
	s.client.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(learning.Verdict{}, &learning.ForwardingError{Message: "timeout"})

	_, err := s.recorder.Submit(s.ctx, "t1", map[review.Field]any{review.FieldPeople: []string{"Hemant Soren"}}, true, false)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	head, ok := s.queue.PeekNext(s.ctx)
	s.Require().True(ok)
	s.Equal("t1", head.ID)
}

func (s *RecorderSuite) TestSubmitValidation() {
	s.Run("no edits", func() {
		_, err := s.recorder.Submit(s.ctx, "t1", nil, false, false)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("unknown field", func() {
		_, err := s.recorder.Submit(s.ctx, "t1", map[review.Field]any{"sentiment": "positive"}, false, false)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
