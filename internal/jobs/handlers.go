package jobs

import (
	"context"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Handler lets operators trigger maintenance outside the schedule.
type Handler struct {
	Client     Enqueuer
	KeepDays   int
	KeepMonths int
	Logger     zerolog.Logger
}

type pruneRequest struct {
	KeepDays   int `json:"keepDays"`
	KeepMonths int `json:"keepMonths"`
}

// PruneCounters handles POST /api/v1/admin/invoice/prune. The body is
// optional and overrides the configured retention.
func (h *Handler) PruneCounters(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Client == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "JOBS_UNAVAILABLE", "background jobs are not configured", nil)
		return
	}
	req := pruneRequest{KeepDays: h.KeepDays, KeepMonths: h.KeepMonths}
	if r.ContentLength > 0 && !common.DecodeJSON(w, r, &req) {
		return
	}
	if req.KeepDays <= 0 || req.KeepMonths <= 0 {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "keepDays and keepMonths must be positive", nil)
		return
	}
	task, err := NewPruneCountersTask(req.KeepDays, req.KeepMonths)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not build task", nil)
		return
	}
	info, err := h.Client.EnqueueContext(r.Context(), task)
	if err != nil {
		h.Logger.Error().Err(err).Msg("prune_enqueue_failed")
		common.JSONError(w, http.StatusBadGateway, "JOBS_UNAVAILABLE", "could not queue the prune job", nil)
		return
	}
	common.Data(w, http.StatusAccepted, map[string]any{
		"taskId":     info.ID,
		"queue":      info.Queue,
		"keepDays":   req.KeepDays,
		"keepMonths": req.KeepMonths,
	})
}
