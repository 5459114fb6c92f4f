package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "dhruv/pkg/domain-errors"
)

// CorrectionEntry is one field-level human override. Entries are appended to
// an item's log and never edited or removed.
type CorrectionEntry struct {
	ID             string    `json:"id"`
	Field          Field     `json:"field"`
	OriginalValue  any       `json:"original_value"`
	CorrectedValue any       `json:"corrected_value"`
	Timestamp      time.Time `json:"timestamp"`
	ReviewerID     string    `json:"reviewer_id,omitempty"`
}

// Geocode is a resolved coordinate plus where it came from. Source is the
// resolver tier that answered ("cache", "primary", "secondary", ...);
// Provider is the provider that originally produced the coordinate.
type Geocode struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Source      string  `json:"source"`
	Provider    string  `json:"provider,omitempty"`
	Confidence  float64 `json:"confidence"`
	DisplayName string  `json:"display_name,omitempty"`
}

// ReviewItem is one ingested record plus its review state.
//
// Invariants:
//   - approved is false at construction; NewReviewItem is the only constructor
//   - approved transitions false to true exactly once and never back
//   - CorrectionLog is append-only; entries are never reordered or removed
//   - corrections after approval append to the log but leave approval intact
//   - Geocode is set at most once
//
// ExcludedFromAnalytics is decided at approval time and is independent of
// approval: an approved item may still be excluded from aggregation.
//
// Items are owned by the review store. Callers outside the store only ever
// see clones.
type ReviewItem struct {
	ID                    string         `json:"id"`
	Seq                   int64          `json:"seq"`
	Record                RawParseRecord `json:"record"`
	Payload               Payload        `json:"payload"`
	approved              bool
	ApprovedAt            *time.Time        `json:"approved_at,omitempty"`
	ApprovedBy            string            `json:"approved_by,omitempty"`
	ExcludedFromAnalytics bool              `json:"excluded_from_analytics"`
	CorrectionLog         []CorrectionEntry `json:"correction_log"`
	Geocode               *Geocode          `json:"geocode,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// NewReviewItem builds an unapproved item from an upstream record.
func NewReviewItem(rec RawParseRecord, now time.Time) (*ReviewItem, error) {
	rec.ID = strings.TrimSpace(rec.ID)
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &ReviewItem{
		ID:            rec.ID,
		Record:        rec,
		Payload:       rec.Payload(),
		CorrectionLog: []CorrectionEntry{},
		CreatedAt:     now,
	}, nil
}

func (i *ReviewItem) IsApproved() bool {
	return i.approved
}

// CanApprove reports whether the item may transition to approved.
// Use with ApplyApproval so a caller can persist the transition first.
func (i *ReviewItem) CanApprove() error {
	if i.approved {
		return ErrAlreadyApproved
	}
	return nil
}

// ApplyApproval flips the item to approved and records the analytics flag.
// Call CanApprove first.
func (i *ReviewItem) ApplyApproval(excludeFromAnalytics bool, reviewerID string, now time.Time) {
	i.approved = true
	i.ExcludedFromAnalytics = excludeFromAnalytics
	i.ApprovedBy = reviewerID
	at := now
	i.ApprovedAt = &at
}

// Approve validates and applies approval in one call.
func (i *ReviewItem) Approve(excludeFromAnalytics bool, reviewerID string, now time.Time) error {
	if err := i.CanApprove(); err != nil {
		return err
	}
	i.ApplyApproval(excludeFromAnalytics, reviewerID, now)
	return nil
}

// Correction is a validated, not-yet-applied set of edits.
type Correction struct {
	Entries []CorrectionEntry
	Payload Payload
}

// PlanCorrection validates edits against the current payload and returns the
// resulting payload and one log entry per field that actually changes. All
// edits are validated before any is applied; an invalid edit rejects the whole
// correction. Approval state is irrelevant: approved items accept corrections.
func (i *ReviewItem) PlanCorrection(edits map[Field]any, reviewerID string, now time.Time) (Correction, error) {
	if len(edits) == 0 {
		return Correction{}, dErrors.New(dErrors.CodeValidation, "correction has no edits")
	}
	for f := range edits {
		if !f.IsValid() {
			return Correction{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown field %q", string(f)))
		}
	}

	next := i.Payload.Clone()
	for _, f := range Fields {
		v, ok := edits[f]
		if !ok {
			continue
		}
		if err := next.Set(f, v); err != nil {
			return Correction{}, err
		}
	}

	changes := i.Payload.Diff(next)
	entries := make([]CorrectionEntry, 0, len(changes))
	for _, c := range changes {
		entries = append(entries, CorrectionEntry{
			ID:             uuid.NewString(),
			Field:          c.Field,
			OriginalValue:  c.Original,
			CorrectedValue: c.Updated,
			Timestamp:      now,
			ReviewerID:     reviewerID,
		})
	}
	return Correction{Entries: entries, Payload: next}, nil
}

// ApplyCorrection appends the planned entries and installs the new payload.
func (i *ReviewItem) ApplyCorrection(c Correction) {
	if len(c.Entries) == 0 {
		return
	}
	i.CorrectionLog = append(i.CorrectionLog, c.Entries...)
	i.Payload = c.Payload.Clone()
}

// AttachGeocode sets the geocode if none is present and reports whether it did.
func (i *ReviewItem) AttachGeocode(g Geocode) bool {
	if i.Geocode != nil {
		return false
	}
	i.Geocode = &g
	return true
}

// Clone returns a deep copy safe to hand outside the store.
func (i *ReviewItem) Clone() *ReviewItem {
	c := *i
	c.Record.Entities = Entities{
		People:        slices.Clone(i.Record.Entities.People),
		Organisations: slices.Clone(i.Record.Entities.Organisations),
		Schemes:       slices.Clone(i.Record.Entities.Schemes),
		Communities:   slices.Clone(i.Record.Entities.Communities),
	}
	c.Payload = i.Payload.Clone()
	c.CorrectionLog = slices.Clone(i.CorrectionLog)
	if i.ApprovedAt != nil {
		at := *i.ApprovedAt
		c.ApprovedAt = &at
	}
	if i.Geocode != nil {
		g := *i.Geocode
		c.Geocode = &g
	}
	return &c
}

// MarshalJSON exposes the unexported approval flag.
func (i *ReviewItem) MarshalJSON() ([]byte, error) {
	type alias ReviewItem
	return json.Marshal(struct {
		*alias
		Approved bool `json:"approved"`
	}{alias: (*alias)(i), Approved: i.approved})
}
