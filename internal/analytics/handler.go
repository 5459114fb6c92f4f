package analytics

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dhruv/pkg/platform/httputil"
	"dhruv/pkg/requestcontext"
)

type Reader interface {
	Stats(ctx context.Context) Stats
	Chart(ctx context.Context, chart Chart) ([]ChartPoint, error)
	GeoPoints(ctx context.Context) []GeoPoint
}

// Handler serves the dashboard's read-only endpoints.
type Handler struct {
	reader Reader
	logger *slog.Logger
}

func NewHandler(reader Reader, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/stats", h.handleStats)
	r.Get("/api/analytics/geo", h.handleGeo)
	r.Get("/api/analytics/{chart}", h.handleChart)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.reader.Stats(r.Context()))
}

func (h *Handler) handleGeo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.reader.GeoPoints(r.Context()))
}

func (h *Handler) handleChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chart := Chart(chi.URLParam(r, "chart"))
	points, err := h.reader.Chart(ctx, chart)
	if err != nil {
		h.logger.WarnContext(ctx, "chart request rejected",
			"request_id", requestcontext.RequestID(ctx),
			"chart", chart,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, points)
}
