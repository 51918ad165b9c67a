package billing

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/events"
)

// EventLister returns the event history of a bill.
type EventLister interface {
	Recent(ctx context.Context, aggregateID string, limit int) ([]events.Event, error)
}

// Handler exposes bill endpoints.
type Handler struct {
	service  *Service
	events   EventLister
	location *time.Location
}

// HandlerConfig configures the Handler dependencies. Location interprets
// date-only from/to filters and defaults to time.Local.
type HandlerConfig struct {
	Service  *Service
	Events   EventLister
	Location *time.Location
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{service: cfg.Service, events: cfg.Events, location: loc}
}

// Checkout handles POST /api/v1/carts/{id}/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "billing service not configured", nil)
		return
	}
	bill, err := h.service.CreateFromCart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/bills/"+bill.ID)
	common.JSON(w, http.StatusCreated, map[string]any{"data": bill})
}

// List handles GET /api/v1/bills?from=&to=&status=&q=&customerId=&page=&limit=.
// Dates are YYYY-MM-DD (to inclusive) or RFC 3339 (to exclusive).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "billing service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, h.service.defaultLimit)
	if perPage > h.service.maxLimit {
		perPage = h.service.maxLimit
	}
	q := r.URL.Query()
	f := Filter{
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
		Status:     Status(q.Get("status")),
		CustomerID: q.Get("customerId"),
		Search:     q.Get("q"),
	}
	var err error
	if f.From, err = h.parseDate(q.Get("from"), false); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "from must be YYYY-MM-DD or RFC 3339", nil)
		return
	}
	if f.To, err = h.parseDate(q.Get("to"), true); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "to must be YYYY-MM-DD or RFC 3339", nil)
		return
	}
	bills, total, err := h.service.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       bills,
		"pagination": common.NewPagination(page, perPage, total),
	})
}

func (h *Handler) parseDate(raw string, end bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, h.location)
	if err != nil {
		return nil, err
	}
	if end {
		day = day.AddDate(0, 0, 1)
	}
	return &day, nil
}

// Get handles GET /api/v1/bills/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "billing service not configured", nil)
		return
	}
	bill, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// UpdateStatus handles PATCH /api/v1/bills/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "billing service not configured", nil)
		return
	}
	var payload struct {
		Status Status `json:"status"`
	}
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	bill, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), payload.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// Delete handles DELETE /api/v1/bills/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "billing service not configured", nil)
		return
	}
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /api/v1/bills/{id}/events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.service == nil || h.events == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "bill events not configured", nil)
		return
	}
	bill, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	list, err := h.events.Recent(r.Context(), bill.ID, common.ClampInt(common.AtoiDefault(r.URL.Query().Get("limit"), 20), 1, 200))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "bill not found", nil)
	case errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusBadRequest, "EMPTY_CART", "cart is empty", nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, cart.ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusServiceUnavailable, "BUSY", "cart is busy, please retry", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
