package receipt

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-kasir/internal/billing"
	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler exposes receipt endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Text handles GET /api/v1/bills/{id}/receipt?width=32|48.
func (h *Handler) Text(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "receipt service not configured", nil)
		return
	}
	width := common.AtoiDefault(r.URL.Query().Get("width"), 0)
	text, err := h.service.Text(r.Context(), chi.URLParam(r, "id"), width)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// Print handles POST /api/v1/bills/{id}/print?width=32|48.
func (h *Handler) Print(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "receipt service not configured", nil)
		return
	}
	id := chi.URLParam(r, "id")
	width := common.AtoiDefault(r.URL.Query().Get("width"), 0)
	if err := h.service.Print(r.Context(), id, width); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{"data": map[string]any{"billId": id, "queued": true}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, billing.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "bill not found", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusBadGateway, "PRINT_FAILED", "could not queue the print job", nil)
	}
}
