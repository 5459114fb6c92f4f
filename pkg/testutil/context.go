package testutil

import (
	"net/http"
	"time"

	"dhruv/pkg/requestcontext"
)

// WithReviewer adds a reviewer ID to the request context.
// This simulates what the auth middleware does for authenticated requests.
func WithReviewer(req *http.Request, reviewerID string) *http.Request {
	if reviewerID == "" {
		return req
	}
	return req.WithContext(requestcontext.WithReviewerID(req.Context(), reviewerID))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
