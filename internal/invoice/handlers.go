package invoice

import (
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler exposes invoice numbering endpoints.
type Handler struct {
	gen *Generator
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Generator *Generator
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{gen: cfg.Generator}
}

// GetSettings handles GET /api/v1/invoice/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice generator not configured", nil)
		return
	}
	s, err := h.gen.Settings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": s})
}

// UpdateSettings handles PUT /api/v1/invoice/settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice generator not configured", nil)
		return
	}
	var patch Patch
	if !common.DecodeJSON(w, r, &patch) {
		return
	}
	s, err := h.gen.SaveSettings(r.Context(), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": s})
}

// Preview handles GET /api/v1/invoice/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice generator not configured", nil)
		return
	}
	next, err := h.gen.Preview(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{"nextInvoiceNumber": next}})
}

// Statistics handles GET /api/v1/invoice/stats.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice generator not configured", nil)
		return
	}
	stats, err := h.gen.Statistics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}

// Reset handles POST /api/v1/invoice/reset?scope=daily|monthly|global|all.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice generator not configured", nil)
		return
	}
	scope := Scope(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("scope"))))
	if scope == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "scope is required (daily, monthly, global or all)", nil)
		return
	}
	if err := h.gen.Reset(r.Context(), scope); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidSettings), errors.Is(err, ErrInvalidScope):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice numbering unavailable", nil)
	}
}
