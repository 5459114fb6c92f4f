package ingest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "dhruv/pkg/domain-errors"
	"dhruv/pkg/platform/httputil"
	"dhruv/pkg/requestcontext"
)

// maxBodyBytes bounds one HTTP ingestion request.
const maxBodyBytes = 64 << 20

type Handler struct {
	ingester Ingester
	logger   *slog.Logger
}

func NewHandler(ingester Ingester, logger *slog.Logger) *Handler {
	return &Handler{ingester: ingester, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/ingest", h.handleIngest)
}

// handleIngest accepts an NDJSON body. Malformed lines are reported, not
// fatal; the response is 200 with the report unless the body is unusable.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	report, err := h.ingester.IngestStream(ctx, body, "http")
	if err != nil {
		attrs := []any{"request_id", requestcontext.RequestID(ctx), "error", err}
		switch dErrors.CodeOf(err) {
		case dErrors.CodeInternal, dErrors.CodeInvariantViolation:
			h.logger.ErrorContext(ctx, "ingest failed", attrs...)
		default:
			h.logger.WarnContext(ctx, "ingest rejected", attrs...)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
