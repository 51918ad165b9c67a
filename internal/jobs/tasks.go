// Package jobs runs scheduled maintenance through asynq: a cron scheduler
// enqueues tasks and the worker process executes them.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// QueueMaintenance holds housekeeping tasks.
	QueueMaintenance = "maintenance"
	// TaskPruneCounters drops invoice counters older than the retention window.
	TaskPruneCounters = "invoice:prune_counters"
)

// PrunePayload is the retention window of a prune run.
type PrunePayload struct {
	KeepDays   int `json:"keepDays"`
	KeepMonths int `json:"keepMonths"`
}

// NewPruneCountersTask builds a prune task. The unique option keeps a manual
// trigger and the nightly run from overlapping.
func NewPruneCountersTask(keepDays, keepMonths int) (*asynq.Task, error) {
	body, err := json.Marshal(PrunePayload{KeepDays: keepDays, KeepMonths: keepMonths})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPruneCounters, body,
		asynq.Queue(QueueMaintenance), asynq.MaxRetry(3), asynq.Unique(time.Hour)), nil
}

// Pruner is satisfied by *invoice.Generator.
type Pruner interface {
	Prune(ctx context.Context, keepDays, keepMonths int) (int, error)
}

// PruneCountersJob handles TaskPruneCounters.
type PruneCountersJob struct {
	Pruner Pruner
	Logger zerolog.Logger
}

func (j PruneCountersJob) Handle(ctx context.Context, t *asynq.Task) error {
	var p PrunePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode prune payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.KeepDays <= 0 || p.KeepMonths <= 0 {
		return fmt.Errorf("prune window must be positive: %w", asynq.SkipRetry)
	}
	removed, err := j.Pruner.Prune(ctx, p.KeepDays, p.KeepMonths)
	if err != nil {
		j.Logger.Error().Err(err).Msg("invoice_counters_prune_failed")
		return err
	}
	j.Logger.Info().Int("removed", removed).Int("keep_days", p.KeepDays).Int("keep_months", p.KeepMonths).Msg("invoice_counters_pruned")
	return nil
}
