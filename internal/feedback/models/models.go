// Package models holds the training examples produced from human corrections.
package models

import (
	"time"

	review "dhruv/internal/review/models"
)

// Decision is the learning collaborator's verdict on a correction.
type Decision string

const (
	DecisionAutoDeploy        Decision = "AUTO_DEPLOY"
	DecisionBlock             Decision = "BLOCK"
	DecisionNeedsMoreExamples Decision = "NEEDS_MORE_EXAMPLES"
	// DecisionSkipped is local: the correction changed nothing, so nothing
	// was recorded or forwarded.
	DecisionSkipped Decision = "SKIPPED"
)

// IsRemote reports whether d is a verdict the learning collaborator may return.
func (d Decision) IsRemote() bool {
	switch d {
	case DecisionAutoDeploy, DecisionBlock, DecisionNeedsMoreExamples:
		return true
	}
	return false
}

// ForwardStatus tracks delivery of an example to the learning collaborator.
type ForwardStatus string

const (
	ForwardPending   ForwardStatus = "pending"
	ForwardDelivered ForwardStatus = "forwarded"
	ForwardFailed    ForwardStatus = "failed"
)

// TrainingExample is one recorded correction. It is stored locally before
// any forward is attempted, so a lost forward never loses the example.
type TrainingExample struct {
	ID               string               `json:"id"`
	ItemID           string               `json:"item_id"`
	OriginalText     string               `json:"original_text"`
	OriginalPayload  review.Payload       `json:"original_payload"`
	CorrectedPayload review.Payload       `json:"corrected_payload"`
	Changes          []review.FieldChange `json:"changes"`
	ReviewerID       string               `json:"reviewer_id,omitempty"`
	Status           ForwardStatus        `json:"status"`
	Decision         Decision             `json:"decision,omitempty"`
	Reason           string               `json:"reason,omitempty"`
	LastError        string               `json:"last_error,omitempty"`
	Attempts         int                  `json:"attempts"`
	CreatedAt        time.Time            `json:"created_at"`
	ForwardedAt      *time.Time           `json:"forwarded_at,omitempty"`
}

// MarkForwarded records a delivered forward and its verdict.
func (e *TrainingExample) MarkForwarded(d Decision, reason string, at time.Time) {
	e.Attempts++
	e.Status = ForwardDelivered
	e.Decision = d
	e.Reason = reason
	e.LastError = ""
	e.ForwardedAt = &at
}

// MarkFailed records a failed forward attempt.
func (e *TrainingExample) MarkFailed(err error) {
	e.Attempts++
	e.Status = ForwardFailed
	e.LastError = err.Error()
}

// RecordResult is what the caller of a correction sees.
type RecordResult struct {
	ExampleID string               `json:"example_id,omitempty"`
	ItemID    string               `json:"item_id"`
	Changes   []review.FieldChange `json:"changes"`
	Decision  Decision             `json:"decision"`
	Reason    string               `json:"reason,omitempty"`
}

// RetryReport summarizes a RetryPending pass.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Forwarded int `json:"forwarded"`
	Failed    int `json:"failed"`
}
