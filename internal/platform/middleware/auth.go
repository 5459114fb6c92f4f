package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/platform/httputil"
	"dhruv/pkg/requestcontext"
)

// ReviewerValidator resolves a bearer token to the reviewer it was issued to.
type ReviewerValidator interface {
	ReviewerID(tokenString string) (string, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// reviewer id in the request context.
func RequireAuth(validator ReviewerValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			reviewerID, err := validator.ReviewerID(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithReviewerID(ctx, reviewerID)))
		})
	}
}
