package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dhruv/internal/geocode"
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/platform/httputil"
	"dhruv/pkg/requestcontext"
)

// Resolver resolves a free-text place description.
type Resolver interface {
	Resolve(ctx context.Context, query string) (geocode.Result, bool)
}

// ResolveRequest is the body of POST /api/geocode.
type ResolveRequest struct {
	Query string `json:"query"`
}

func (r *ResolveRequest) Normalize() {
	r.Query = strings.TrimSpace(r.Query)
}

func (r *ResolveRequest) Validate() error {
	if r.Query == "" {
		return dErrors.New(dErrors.CodeValidation, "query is required")
	}
	if len(r.Query) > 512 {
		return dErrors.New(dErrors.CodeValidation, "query must be at most 512 bytes")
	}
	return nil
}

// Handler exposes manual geocoding.
type Handler struct {
	resolver Resolver
	logger   *slog.Logger
}

func New(resolver Resolver, logger *slog.Logger) *Handler {
	return &Handler{resolver: resolver, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/geocode", h.handleResolve)
}

// handleResolve answers 200 with the geocode, or 204 when no provider knows
// the place. An unresolvable query is not an error.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, found := h.resolver.Resolve(ctx, req.Query)
	if !found {
		h.logger.InfoContext(ctx, "geocode query unresolved",
			"request_id", requestID,
			"query", req.Query,
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
