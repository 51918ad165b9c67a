package catalog

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

// Handler exposes catalog endpoints.
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

// List handles GET /api/v1/items?q=&category=&page=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, h.service.defaultLimit)
	if perPage > h.service.maxLimit {
		perPage = h.service.maxLimit
	}
	q := r.URL.Query()
	items, total, err := h.service.List(r.Context(), Filter{
		Search:   q.Get("q"),
		Category: q.Get("category"),
		Limit:    perPage,
		Offset:   (page - 1) * perPage,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.NewPagination(page, perPage, total),
	})
}

// Get handles GET /api/v1/items/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": item})
}

// Create handles POST /api/v1/items.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	var in Input
	if !common.DecodeJSON(w, r, &in) {
		return
	}
	item, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": item})
}

// Update handles PUT /api/v1/items/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	var in Input
	if !common.DecodeJSON(w, r, &in) {
		return
	}
	item, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": item})
}

// Delete handles DELETE /api/v1/items/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdjustStock handles POST /api/v1/items/{id}/stock with {"delta": n}.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	var payload struct {
		Delta int `json:"delta"`
	}
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	item, err := h.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), payload.Delta)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": item})
}

// CheckStock handles GET /api/v1/items/{id}/stock?qty=n.
func (h *Handler) CheckStock(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	qty := common.AtoiDefault(r.URL.Query().Get("qty"), 1)
	status, err := h.service.CheckStock(r.Context(), chi.URLParam(r, "id"), qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": status})
}

// Export handles GET /api/v1/items/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	var buf bytes.Buffer
	if _, err := h.service.ExportCSV(r.Context(), &buf); err != nil {
		h.writeError(w, err)
		return
	}
	writeCSV(w, fmt.Sprintf("inventory_%s.csv", h.service.now().Format("2006-01-02")), buf.Bytes())
}

// Template handles GET /api/v1/items/import/template.
func (h *Handler) Template(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := WriteTemplate(&buf); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to build template", nil)
		return
	}
	writeCSV(w, "inventory_import_template.csv", buf.Bytes())
}

// Import handles POST /api/v1/items/import. The CSV is read from the
// multipart field "file" or, for any other content type, the raw body.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
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

func writeCSV(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
