package audit

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler serves the audit trail to operators.
type Handler struct {
	Store  Store
	Logger zerolog.Logger
}

// List handles GET /api/v1/admin/audit?resource=&actor=&page=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "AUDIT_UNAVAILABLE", "audit trail not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	perPage = common.ClampInt(perPage, 1, 200)
	q := r.URL.Query()
	entries, total, err := h.Store.List(r.Context(), Filter{
		Resource: q.Get("resource"),
		Actor:    q.Get("actor"),
		Limit:    perPage,
		Offset:   common.Offset(page, perPage),
	})
	if err != nil {
		h.Logger.Error().Err(err).Msg("audit_list_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "audit trail unavailable", nil)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       entries,
		"pagination": common.NewPagination(page, perPage, total),
	})
}
