package handler

import (
	"fmt"
	"strings"

	"dhruv/internal/review/models"
	dErrors "dhruv/pkg/domain-errors"
)

// ApproveRequest is the body of POST /api/review/items/{id}/approve.
type ApproveRequest struct {
	ExcludeFromAnalytics bool `json:"exclude_from_analytics"`
}

func (r *ApproveRequest) Normalize() {}

func (r *ApproveRequest) Validate() error { return nil }

// CorrectRequest is the body of POST /api/review/items/{id}/correct. Edits
// maps field names to new values: strings for scalar fields, arrays of
// strings for entity lists.
type CorrectRequest struct {
	Edits                map[string]any `json:"edits"`
	Approve              bool           `json:"approve"`
	ExcludeFromAnalytics bool           `json:"exclude_from_analytics"`
}

func (r *CorrectRequest) Normalize() {
	if len(r.Edits) == 0 {
		return
	}
	normalized := make(map[string]any, len(r.Edits))
	for k, v := range r.Edits {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	r.Edits = normalized
}

func (r *CorrectRequest) Validate() error {
	if len(r.Edits) == 0 {
		return dErrors.New(dErrors.CodeValidation, "edits must not be empty")
	}
	for k := range r.Edits {
		if !models.Field(k).IsValid() {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown field %q", k))
		}
	}
	if r.ExcludeFromAnalytics && !r.Approve {
		return dErrors.New(dErrors.CodeValidation, "exclude_from_analytics requires approve")
	}
	return nil
}

// FieldEdits converts the request into typed edits.
func (r *CorrectRequest) FieldEdits() map[models.Field]any {
	out := make(map[models.Field]any, len(r.Edits))
	for k, v := range r.Edits {
		out[models.Field(k)] = v
	}
	return out
}
