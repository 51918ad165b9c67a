package settings

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

// Handler exposes the settings document.
type Handler struct {
	store *Store
}

// NewHandler constructs a Handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Get handles GET /api/v1/settings.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settings store not configured", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.store.Get(r.Context())})
}

// Update handles PATCH /api/v1/settings.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settings store not configured", nil)
		return
	}
	var p Patch
	if !common.DecodeJSON(w, r, &p) {
		return
	}
	out, err := h.store.Update(r.Context(), p)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to save settings", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// TaxPreview handles GET /api/v1/settings/tax/preview?amount=. It applies the
// saved bill-level tax settings to amount so the operator can check a
// configuration before billing with it.
func (h *Handler) TaxPreview(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settings store not configured", nil)
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("amount"))
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "amount must be a non-negative number", nil)
		return
	}
	cfg := h.store.Get(r.Context()).Tax
	calc := tax.Calculate(amount, cfg)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"settings":    cfg,
		"calculation": calc,
		"totals":      tax.BreakdownOf(amount, cfg),
		"lines":       tax.DisplayLines(calc, cfg),
	}})
}
