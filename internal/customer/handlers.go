package customer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-kasir/internal/common"
)

const maxImportBytes = 5 << 20

// Handler exposes customer endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// List handles GET /api/v1/customers?q=&active=&page=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "customer service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, h.service.defaultLimit)
	if perPage > h.service.maxLimit {
		perPage = h.service.maxLimit
	}
	q := r.URL.Query()
	active, _ := strconv.ParseBool(q.Get("active"))
	customers, total, err := h.service.List(r.Context(), Filter{
		Search:     q.Get("q"),
		ActiveOnly: active,
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       customers,
		"pagination": common.NewPagination(page, perPage, total),
	})
}

// Get handles GET /api/v1/customers/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "customer service not configured", nil)
		return
	}
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Lookup handles GET /api/v1/customers/lookup?phone=.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "customer service not configured", nil)
		return
	}
	c, err := h.service.FindByPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Create handles POST /api/v1/customers.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "customer service not configured", nil)
		return
	}
	var in Input
	if !common.DecodeJSON(w, r, &in) {
		return
	}
	c, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": c})
}

// Update handles PUT /api/v1/customers/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "customer service not configured", nil)
		return
	}
	var in Input
	if !common.DecodeJSON(w, r, &in) {
		return
	}
	c, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Delete handles DELETE /api/v1/customers/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "customer service not configured", nil)
		return
	}
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /api/v1/customers/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "customer service not configured", nil)
		return
	}
	var buf bytes.Buffer
	if _, err := h.service.ExportCSV(r.Context(), &buf); err != nil {
		h.writeError(w, err)
		return
	}
	filename := fmt.Sprintf("customers_%s.csv", h.service.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Import handles POST /api/v1/customers/import. The CSV is read from the
// multipart field "file" or, for any other content type, the raw body.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "customer service not configured", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid multipart payload", nil)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "file field is required", nil)
			return
		}
		defer file.Close()
		src = file
	}
	res, err := h.service.ImportCSV(r.Context(), src)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "customer not found", nil)
	case errors.Is(err, ErrDuplicatePhone):
		common.JSONError(w, http.StatusConflict, "DUPLICATE_PHONE", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
