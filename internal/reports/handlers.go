package reports

import (
	"errors"
	"net/http"
	"time"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler exposes report read endpoints.
type Handler struct {
	Svc *Service
}

// window resolves from/to (YYYY-MM-DD, to inclusive) or the trailing days.
func (h *Handler) window(r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	fromStr, toStr := q.Get("from"), q.Get("to")
	if fromStr == "" && toStr == "" {
		from, to := h.Svc.DefaultWindow(common.AtoiDefault(q.Get("days"), 0))
		return from, to, true
	}
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, false
	}
	loc := h.Svc.location()
	from, err := time.ParseInLocation("2006-01-02", fromStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	to, err := time.ParseInLocation("2006-01-02", toStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return from, to.AddDate(0, 0, 1), true
}

// Sales handles GET /api/v1/reports/sales?from=&to=&days=.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "reports service not configured", nil)
		return
	}
	from, to, ok := h.window(r)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "from and to must both be YYYY-MM-DD", nil)
		return
	}
	rows, err := h.Svc.SalesRange(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var summary DailySales
	for _, d := range rows {
		summary.PaidBills += d.PaidBills
		summary.AllBills += d.AllBills
		summary.Revenue += d.Revenue
		summary.Tax += d.Tax
		summary.Discount += d.Discount
	}
	common.Data(w, http.StatusOK, map[string]any{
		"from":   from.Format("2006-01-02"),
		"to":     to.AddDate(0, 0, -1).Format("2006-01-02"),
		"days":   rows,
		"totals": summary,
	})
}

// TopItems handles GET /api/v1/reports/top-items?from=&to=&days=&limit=.
func (h *Handler) TopItems(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "reports service not configured", nil)
		return
	}
	from, to, ok := h.window(r)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "from and to must both be YYYY-MM-DD", nil)
		return
	}
	limit := common.ClampInt(common.AtoiDefault(r.URL.Query().Get("limit"), 10), 1, 100)
	rows, err := h.Svc.TopItems(r.Context(), from, to, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rows)
}

// Tax handles GET /api/v1/reports/tax?from=&to=&days=.
func (h *Handler) Tax(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "reports service not configured", nil)
		return
	}
	from, to, ok := h.window(r)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "from and to must both be YYYY-MM-DD", nil)
		return
	}
	report, err := h.Svc.TaxSummary(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{
		"from":   from.Format("2006-01-02"),
		"to":     to.AddDate(0, 0, -1).Format("2006-01-02"),
		"report": report,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	if errors.Is(err, ErrInvalidRange) {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "report unavailable", nil)
}
