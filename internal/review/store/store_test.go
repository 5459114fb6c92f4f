package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dhruv/internal/review/models"
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/platform/sentinel"
)

var now = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func newItem(s *suite.Suite, id string) *models.ReviewItem {
	item, err := models.NewReviewItem(models.RawParseRecord{
		ID:        id,
		Text:      "text for " + id,
		EventType: "visit",
		Location:  "Ranchi",
	}, now)
	s.Require().NoError(err)
	return item
}

func (s *StoreSuite) seed(ids ...string) {
	items := make([]*models.ReviewItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, newItem(&s.Suite, id))
	}
	added, skipped, err := s.store.AddBatch(s.ctx, items)
	s.Require().NoError(err)
	s.Require().Equal(len(ids), added)
	s.Require().Empty(skipped)
}

func (s *StoreSuite) headID() string {
	head, ok := s.store.Head(s.ctx)
	if !ok {
		return ""
	}
	return head.ID
}

func (s *StoreSuite) TestAddBatch() {
	s.Run("skips ids already present and duplicates within a batch", func() {
		s.seed("t1")
		added, skipped, err := s.store.AddBatch(s.ctx, []*models.ReviewItem{
			newItem(&s.Suite, "t1"), newItem(&s.Suite, "t2"), newItem(&s.Suite, "t2"),
		})
		s.Require().NoError(err)
		s.Equal(1, added)
		s.Equal([]string{"t1", "t2"}, skipped)
		s.Equal(2, s.store.Counts(s.ctx).Total)
	})

	s.Run("rejects an approved item", func() {
		item := newItem(&s.Suite, "x1")
		s.Require().NoError(item.Approve(false, "", now))
		_, _, err := s.store.AddBatch(s.ctx, []*models.ReviewItem{item})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("stored item is isolated from the caller's copy", func() {
		item := newItem(&s.Suite, "iso")
		_, _, err := s.store.AddBatch(s.ctx, []*models.ReviewItem{item})
		s.Require().NoError(err)
		item.Payload.EventType = "tampered"
		got, err := s.store.Get(s.ctx, "iso")
		s.Require().NoError(err)
		s.Equal("visit", got.Payload.EventType)
	})
}

func (s *StoreSuite) TestHeadAndPending() {
	_, ok := s.store.Head(s.ctx)
	s.False(ok)

	s.seed("t1", "t2", "t3")
	s.Equal("t1", s.headID())
	s.Equal("t1", s.headID(), "peeking must not advance the queue")

	pending := s.store.Pending(s.ctx)
	s.Require().Len(pending, 3)
	s.Equal([]string{"t1", "t2", "t3"}, []string{pending[0].ID, pending[1].ID, pending[2].ID})
}

func (s *StoreSuite) TestApproveHead() {
	s.seed("t1", "t2", "t3")

	s.Run("unknown id", func() {
		_, err := s.store.ApproveHead(s.ctx, "nope", false, "", now)
		s.ErrorIs(err, models.ErrNotFound)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("non-head item is refused and the queue is untouched", func() {
		_, err := s.store.ApproveHead(s.ctx, "t2", false, "", now)
		s.ErrorIs(err, models.ErrNotHead)
		s.Equal("t1", s.headID())
	})

	s.Run("head is approved and removed from pending", func() {
		item, err := s.store.ApproveHead(s.ctx, "t1", true, "analyst-1", now)
		s.Require().NoError(err)
		s.True(item.IsApproved())
		s.True(item.ExcludedFromAnalytics)
		s.Equal("t2", s.headID())

		got, err := s.store.Get(s.ctx, "t1")
		s.Require().NoError(err)
		s.True(got.IsApproved(), "approved items stay addressable by id")
	})

	s.Run("second approval fails regardless of arguments", func() {
		_, err := s.store.ApproveHead(s.ctx, "t1", false, "analyst-2", now)
		s.ErrorIs(err, models.ErrAlreadyApproved)
		got, _ := s.store.Get(s.ctx, "t1")
		s.True(got.ExcludedFromAnalytics)
	})
}

func (s *StoreSuite) TestQueueOrderWithInterleavedCorrections() {
	ids := []string{"t1", "t2", "t3", "t4", "t5"}
	s.seed(ids...)

	for i, id := range ids {
		if i+2 < len(ids) {
			_, _, _, err := s.store.Correct(s.ctx, ids[i+2], map[models.Field]any{
				models.FieldEventType: fmt.Sprintf("meeting-%d", i),
			}, "", now)
			s.Require().NoError(err)
		}
		s.Equal(id, s.headID())
		_, err := s.store.ApproveHead(s.ctx, id, false, "", now)
		s.Require().NoError(err)
	}
	_, ok := s.store.Head(s.ctx)
	s.False(ok)
}

func (s *StoreSuite) TestCorrect() {
	s.seed("t1", "t2")

	s.Run("unknown id mutates nothing", func() {
		_, _, _, err := s.store.Correct(s.ctx, "unknown-id", map[models.Field]any{models.FieldEventType: "x"}, "", now)
		s.ErrorIs(err, models.ErrNotFound)
		for item := range s.store.All(s.ctx) {
			s.Empty(item.CorrectionLog)
		}
	})

	s.Run("returns the previous payload and the entries", func() {
		before, after, entries, err := s.store.Correct(s.ctx, "t2", map[models.Field]any{
			models.FieldEventType: "meeting",
			models.FieldLocation:  "Ranchi",
		}, "analyst-1", now)
		s.Require().NoError(err)
		s.Equal("visit", before.EventType)
		s.Equal("meeting", after.Payload.EventType)
		s.Require().Len(entries, 1)
		s.Equal(models.FieldEventType, entries[0].Field)
		s.False(after.IsApproved())
	})

	s.Run("approved items accept corrections", func() {
		_, err := s.store.ApproveHead(s.ctx, "t1", false, "", now)
		s.Require().NoError(err)
		_, after, _, err := s.store.Correct(s.ctx, "t1", map[models.Field]any{models.FieldDistrict: "Ranchi"}, "", now)
		s.Require().NoError(err)
		s.True(after.IsApproved())
		s.Len(after.CorrectionLog, 1)
	})
}

func (s *StoreSuite) TestConcurrentCorrectionsAreSerialized() {
	s.seed("t1")
	const writers = 32

	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _, err := s.store.Correct(s.ctx, "t1", map[models.Field]any{
				models.FieldPeople: []string{fmt.Sprintf("person-%d", i)},
			}, fmt.Sprintf("analyst-%d", i), now)
			s.NoError(err)
		}()
	}
	wg.Wait()

	item, err := s.store.Get(s.ctx, "t1")
	s.Require().NoError(err)
	s.Require().Len(item.CorrectionLog, writers)
	for i := 1; i < len(item.CorrectionLog); i++ {
		s.Equal(item.CorrectionLog[i-1].CorrectedValue, item.CorrectionLog[i].OriginalValue,
			"each entry must start from the value the previous one wrote")
	}
	s.Equal(item.CorrectionLog[writers-1].CorrectedValue, item.Payload.People)
}

func (s *StoreSuite) TestConcurrentApprovalsOnlyHeadWins() {
	s.seed("t1", "t2", "t3")

	var wg sync.WaitGroup
	results := make(chan error, 3)
	for _, id := range []string{"t1", "t2", "t3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.ApproveHead(s.ctx, id, false, "", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
		}
	}
	s.GreaterOrEqual(ok, 1)
	pending := s.store.Pending(s.ctx)
	for i := 1; i < len(pending); i++ {
		s.Less(pending[i-1].Seq, pending[i].Seq, "remaining queue keeps insertion order")
	}
}

func (s *StoreSuite) TestAttachGeocode() {
	s.seed("t1")
	set, err := s.store.AttachGeocode(s.ctx, "t1", models.Geocode{Lat: 23.34, Lng: 85.31, Source: "primary"})
	s.Require().NoError(err)
	s.True(set)

	set, err = s.store.AttachGeocode(s.ctx, "t1", models.Geocode{Lat: 0, Lng: 0, Source: "secondary"})
	s.Require().NoError(err)
	s.False(set)

	_, err = s.store.AttachGeocode(s.ctx, "missing", models.Geocode{})
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *StoreSuite) TestCounts() {
	s.seed("t1", "t2", "t3")
	_, err := s.store.ApproveHead(s.ctx, "t1", false, "", now)
	s.Require().NoError(err)
	_, err = s.store.ApproveHead(s.ctx, "t2", true, "", now)
	s.Require().NoError(err)

	s.Equal(Counts{Total: 3, Pending: 1, Approved: 2, Excluded: 1}, s.store.Counts(s.ctx))
}

// failingMirror records calls and fails the configured operation.
type failingMirror struct {
	failApproval   bool
	failCorrection bool
	inserted       []string
	loadItems      []*models.ReviewItem
}

func (m *failingMirror) InsertItems(_ context.Context, items []*models.ReviewItem) error {
	for _, it := range items {
		m.inserted = append(m.inserted, it.ID)
	}
	return nil
}

func (m *failingMirror) SaveApproval(context.Context, *models.ReviewItem) error {
	if m.failApproval {
		return errors.New("connection reset")
	}
	return nil
}

func (m *failingMirror) AppendCorrections(context.Context, string, []models.CorrectionEntry, models.Payload) error {
	if m.failCorrection {
		return errors.New("connection reset")
	}
	return nil
}

func (m *failingMirror) SaveGeocode(context.Context, string, models.Geocode) error { return nil }

func (m *failingMirror) LoadAll(context.Context) ([]*models.ReviewItem, error) {
	return m.loadItems, nil
}

func (s *StoreSuite) TestMirrorFailureLeavesNoPartialState() {
	mirror := &failingMirror{failApproval: true, failCorrection: true}
	s.store = New(WithMirror(mirror))
	s.seed("t1")
	s.Equal([]string{"t1"}, mirror.inserted)

	_, err := s.store.ApproveHead(s.ctx, "t1", false, "", now)
	s.Require().Error(err)
	item, _ := s.store.Get(s.ctx, "t1")
	s.False(item.IsApproved())
	s.Equal("t1", s.headID())

	_, _, _, err = s.store.Correct(s.ctx, "t1", map[models.Field]any{models.FieldEventType: "meeting"}, "", now)
	s.Require().Error(err)
	item, _ = s.store.Get(s.ctx, "t1")
	s.Empty(item.CorrectionLog)
	s.Equal("visit", item.Payload.EventType)
}

func (s *StoreSuite) TestLoadRestoresOrderAndApproval() {
	first := newItem(&s.Suite, "a")
	first.Seq = 2
	second := newItem(&s.Suite, "b")
	second.Seq = 1
	done := newItem(&s.Suite, "c")
	done.Seq = 3
	s.Require().NoError(done.Approve(false, "", now))

	s.store = New(WithMirror(&failingMirror{loadItems: []*models.ReviewItem{first, second, done}}))
	n, err := s.store.Load(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal("b", s.headID())
	s.Len(s.store.Pending(s.ctx), 2)

	added, _, err := s.store.AddBatch(s.ctx, []*models.ReviewItem{newItem(&s.Suite, "d")})
	s.Require().NoError(err)
	s.Equal(1, added)
	got, _ := s.store.Get(s.ctx, "d")
	s.Equal(int64(4), got.Seq)
}

type gatedMirror struct {
	failingMirror
	entered chan struct{}
	release chan struct{}
}

func (m *gatedMirror) SaveApproval(context.Context, *models.ReviewItem) error {
	close(m.entered)
	<-m.release
	return nil
}

func (s *StoreSuite) completesPromptly(fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.FailNow("call blocked behind an approval write")
	}
}

func (s *StoreSuite) TestApprovalWriteDoesNotBlockOtherItems() {
	mirror := &gatedMirror{entered: make(chan struct{}), release: make(chan struct{})}
	s.store = New(WithMirror(mirror))
	s.seed("t1", "t2")

	type outcome struct {
		item *models.ReviewItem
		err  error
	}
	approved := make(chan outcome, 1)
	go func() {
		item, err := s.store.ApproveHead(s.ctx, "t1", false, "alice", now)
		approved <- outcome{item, err}
	}()
	<-mirror.entered

	s.completesPromptly(func() {
		item, err := s.store.Get(s.ctx, "t2")
		if s.NoError(err) {
			s.False(item.IsApproved())
		}
		s.Len(s.store.Pending(s.ctx), 2)
		s.Equal(2, s.store.Counts(s.ctx).Pending)

		_, after, _, err := s.store.Correct(s.ctx, "t2", map[models.Field]any{models.FieldEventType: "meeting"}, "", now)
		if s.NoError(err) {
			s.Equal("meeting", after.Payload.EventType)
		}

		_, err = s.store.ApproveHead(s.ctx, "t1", false, "bob", now)
		s.ErrorIs(err, models.ErrApprovalInFlight)
		s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))

		_, err = s.store.ApproveHead(s.ctx, "t2", false, "bob", now)
		s.ErrorIs(err, models.ErrNotHead)
	})
	s.Equal("t1", s.headID())

	close(mirror.release)
	out := <-approved
	s.Require().NoError(out.err)
	s.True(out.item.IsApproved())
	s.Equal("alice", out.item.ApprovedBy)
	s.Equal("t2", s.headID())

	_, err := s.store.ApproveHead(s.ctx, "t1", false, "bob", now)
	s.ErrorIs(err, models.ErrAlreadyApproved)
}
