package roleterms

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/roleterms/internal/platform/httpx"
)

// Handler serves role count endpoints.
type Handler struct {
	logger        *slog.Logger
	rewriter      *Rewriter
	defaultTenant int64
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, rewriter *Rewriter, defaultTenant int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, rewriter: rewriter, defaultTenant: defaultTenant}
}

// MountRoutes registers count routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/count", h.countUsers)
}

func (h *Handler) countUsers(w http.ResponseWriter, r *http.Request) {
	tenantID := h.defaultTenant
	if raw := r.URL.Query().Get("tenant"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid tenant")
			return
		}
		tenantID = id
	}
	counts, err := h.rewriter.CountUsers(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("count users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, counts)
}
