package queue

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// AdminHandler exposes queue depth and dead letter management.
type AdminHandler struct {
	Store             DeadLetterStore
	Queue             Enqueuer
	PageSize          int
	VisibilityTimeout time.Duration
	Logger            zerolog.Logger
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

func (h *AdminHandler) kind(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("kind"))
	if raw == "" {
		return "", true
	}
	k := sanitizeKind(raw)
	return k, k != ""
}

// Stats handles GET /api/v1/admin/queue/stats?kind=.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue not configured", nil)
		return
	}
	kind, ok := h.kind(r)
	if !ok || kind == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kind is required", nil)
		return
	}
	ctx := r.Context()
	ready, inflight, redisDead, err := h.Queue.Depth(ctx, kind)
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Msg("queue_stats_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue stats unavailable", nil)
		return
	}
	dead := redisDead
	if h.Store != nil {
		stored, err := h.Store.Count(ctx, kind)
		if err != nil {
			h.Logger.Error().Err(err).Str("kind", kind).Msg("queue_dlq_count_failed")
		}
		dead += stored
	}
	lag, _ := h.Queue.OldestLag(ctx, kind)
	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"kind":              kind,
		"ready":             ready,
		"processing":        inflight,
		"dead":              dead,
		"oldestLagMs":       lag.Milliseconds(),
		"visibilityTimeout": visibility.Seconds(),
	}})
}

// ListDLQ handles GET /api/v1/admin/queue/dlq?kind=&page=&limit=.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "dead letter store not configured", nil)
		return
	}
	kind, ok := h.kind(r)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid kind", nil)
		return
	}
	page, perPage := common.ParsePagination(r, h.pageSize())
	entries, err := h.Store.List(r.Context(), kind, perPage, common.Offset(page, perPage))
	if err != nil {
		h.Logger.Error().Err(err).Msg("queue_dlq_list_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "dead letters unavailable", nil)
		return
	}
	total, err := h.Store.Count(r.Context(), kind)
	if err != nil {
		h.Logger.Error().Err(err).Msg("queue_dlq_count_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "dead letters unavailable", nil)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       entries,
		"pagination": common.NewPagination(page, perPage, int(total)),
	})
}

// ReplayDLQ handles POST /api/v1/admin/queue/dlq/replay with either ids or
// a kind to replay in bulk.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue not configured", nil)
		return
	}
	var req replayRequest
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	var ids []uuid.UUID
	failed := map[string]string{}
	for _, raw := range req.IDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			failed[raw] = "invalid id"
			continue
		}
		ids = append(ids, id)
	}
	if len(req.IDs) == 0 {
		kind := sanitizeKind(strings.TrimSpace(req.Kind))
		if kind == "" {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "ids or kind required", nil)
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		entries, err := h.Store.List(ctx, kind, limit, 0)
		if err != nil {
			h.Logger.Error().Err(err).Msg("queue_dlq_list_failed")
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "dead letters unavailable", nil)
			return
		}
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}

	replayed := make([]uuid.UUID, 0, len(ids))
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := Replay(ctx, h.Store, h.Queue, id); err != nil {
			if errors.Is(err, ErrDeadLetterNotFound) {
				failed[id.String()] = "not found"
			} else {
				failed[id.String()] = err.Error()
			}
			continue
		}
		replayed = append(replayed, id)
	}
	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Msg("queue_dlq_replayed")
	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": resp})
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}
