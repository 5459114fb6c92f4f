package ingest

import (
	"fmt"
	"time"

	"dhruv/internal/review/models"
	dErrors "dhruv/pkg/domain-errors"
)

// Stats counts what happened to one batch.
type Stats struct {
	Received int `json:"received"`
	Accepted int `json:"accepted"`
	Errors   int `json:"errors"`
}

// Batch is the gate's output: fresh, unapproved review items.
type Batch struct {
	Items  []*models.ReviewItem
	Stats  Stats
	Errors []*MalformedInputError
}

// Gate builds review items from upstream records.
type Gate struct{}

// Ingest builds one unapproved item per valid record. A record that fails
// validation is skipped and counted. Before returning, the batch is checked
// for approved items; finding one is an invariant violation and the batch
// is rejected whole.
func (Gate) Ingest(lines []Line, now time.Time) (Batch, error) {
	b := Batch{Items: make([]*models.ReviewItem, 0, len(lines))}
	b.Stats.Received = len(lines)
	for _, l := range lines {
		item, err := models.NewReviewItem(l.Record, now)
		if err != nil {
			b.Errors = append(b.Errors, &MalformedInputError{Line: l.Number, Err: err})
			continue
		}
		b.Items = append(b.Items, item)
	}
	b.Stats.Accepted = len(b.Items)
	b.Stats.Errors = len(b.Errors)

	if err := AssertNoneApproved(b.Items); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// AssertNoneApproved fails when any item in items is approved.
func AssertNoneApproved(items []*models.ReviewItem) error {
	approved := 0
	for _, item := range items {
		if item.IsApproved() {
			approved++
		}
	}
	if approved != 0 {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("ingested batch contains %d approved items", approved))
	}
	return nil
}
