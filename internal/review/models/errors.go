package models

import (
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/platform/sentinel"
)

// Review errors carry both a domain code (for the HTTP boundary) and the
// underlying sentinel (for errors.Is in stores and services).
var (
	ErrNotFound         = dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "review item not found")
	ErrAlreadyApproved  = dErrors.Wrap(sentinel.ErrAlreadyUsed, dErrors.CodeConflict, "review item is already approved")
	ErrNotHead          = dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict, "review item is not at the head of the pending queue")
	ErrApprovalInFlight = dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict, "review item approval is already in progress")
)
