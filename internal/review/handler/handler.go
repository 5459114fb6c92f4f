package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	feedbackmodels "dhruv/internal/feedback/models"
	feedbackservice "dhruv/internal/feedback/service"
	"dhruv/internal/review/models"
	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/platform/httputil"
	"dhruv/pkg/requestcontext"
)

// Service is the review queue as the HTTP boundary sees it.
type Service interface {
	PeekNext(ctx context.Context) (*models.ReviewItem, bool)
	Pending(ctx context.Context) []*models.ReviewItem
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	Approve(ctx context.Context, id string, excludeFromAnalytics bool) (*models.ReviewItem, error)
}

// Recorder records corrections and forwards them for learning.
type Recorder interface {
	Submit(ctx context.Context, itemID string, edits map[models.Field]any, approve, excludeFromAnalytics bool) (*feedbackservice.SubmitResult, error)
	Examples(ctx context.Context, itemID string) ([]*feedbackmodels.TrainingExample, error)
	RetryPending(ctx context.Context) (feedbackmodels.RetryReport, error)
}

// Handler exposes the review queue. approve and correct are the only
// mutating entry points into review state.
type Handler struct {
	service  Service
	recorder Recorder
	logger   *slog.Logger
}

func New(service Service, recorder Recorder, logger *slog.Logger) *Handler {
	return &Handler{service: service, recorder: recorder, logger: logger}
}

// Register registers the review routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/review", func(r chi.Router) {
		r.Get("/next", h.handleNext)
		r.Get("/pending", h.handlePending)
		r.Get("/items/{id}", h.handleGet)
		r.Get("/items/{id}/feedback", h.handleExamples)
		r.Post("/items/{id}/approve", h.handleApprove)
		r.Post("/items/{id}/correct", h.handleCorrect)
		r.Post("/feedback/retry", h.handleRetry)
	})
}

// PendingResponse lists the queue in review order.
type PendingResponse struct {
	Count int                  `json:"count"`
	Items []*models.ReviewItem `json:"items"`
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	item, ok := h.service.PeekNext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	items := h.service.Pending(r.Context())
	httputil.WriteJSON(w, http.StatusOK, PendingResponse{Count: len(items), Items: items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to get review item")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	req, ok := httputil.DecodeAndPrepare[ApproveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	item, err := h.service.Approve(ctx, id, req.ExcludeFromAnalytics)
	if err != nil {
		h.writeError(w, r, err, "failed to approve review item")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) handleCorrect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	req, ok := httputil.DecodeAndPrepare[CorrectRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.recorder.Submit(ctx, id, req.FieldEdits(), req.Approve, req.ExcludeFromAnalytics)
	if err != nil {
		h.writeError(w, r, err, "failed to record correction")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleExamples(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := h.service.Get(ctx, id); err != nil {
		h.writeError(w, r, err, "failed to get review item")
		return
	}
	examples, err := h.recorder.Examples(ctx, id)
	if err != nil {
		h.writeError(w, r, err, "failed to list training examples")
		return
	}
	if examples == nil {
		examples = []*feedbackmodels.TrainingExample{}
	}
	httputil.WriteJSON(w, http.StatusOK, examples)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	report, err := h.recorder.RetryPending(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to retry corrections")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// writeError logs at a level matching the error's code and renders it.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	ctx := r.Context()
	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"item_id", chi.URLParam(r, "id"),
		"error", err,
	}
	switch code {
	case dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, msg, attrs...)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, msg))
		return
	case dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, msg, attrs...)
	default:
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
