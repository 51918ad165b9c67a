package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// Inline runs tasks in-process for deployments without Redis. Each task gets
// its own goroutine with the same retry schedule as Worker; nothing survives
// a restart. Pending idempotency keys are deduplicated like Enqueuer.
type Inline struct {
	Handler     func(context.Context, Task) error
	Logger      zerolog.Logger
	MaxAttempts int
	RetryBase   time.Duration
	RetryJitter float64

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// Enqueue starts the task and returns immediately.
func (q *Inline) Enqueue(ctx context.Context, t Task) error {
	if q == nil || q.Handler == nil {
		return errors.New("queue: inline handler not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: invalid task kind")
	}
	t.Kind = kind
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = max(q.MaxAttempts, 1)
	}
	if t.IdempotencyKey != "" {
		dedup := kind + ":" + t.IdempotencyKey
		q.mu.Lock()
		if q.pending == nil {
			q.pending = map[string]struct{}{}
		}
		if _, busy := q.pending[dedup]; busy {
			q.mu.Unlock()
			return nil
		}
		q.pending[dedup] = struct{}{}
		q.mu.Unlock()
	}

	q.wg.Add(1)
	go q.run(context.WithoutCancel(ctx), t)
	return nil
}

func (q *Inline) run(ctx context.Context, t Task) {
	defer q.wg.Done()
	defer q.release(t)
	base := q.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if t.Delay > 0 {
		time.Sleep(t.Delay)
	}
	for attempt := 1; attempt <= t.MaxAttempts; attempt++ {
		t.Attempt = attempt
		err := q.Handler(ctx, t)
		if err == nil {
			recordProcessed(t.Kind, "ok")
			return
		}
		if attempt == t.MaxAttempts {
			recordProcessed(t.Kind, "dead")
			q.Logger.Error().Err(err).Str("kind", t.Kind).Str("key", t.IdempotencyKey).Int("attempts", attempt).Msg("queue_task_dead")
			return
		}
		delay := resilience.Backoff(base, attempt, q.RetryJitter)
		recordProcessed(t.Kind, "retry")
		q.Logger.Warn().Err(err).Str("kind", t.Kind).Int("attempt", attempt).Dur("delay", delay).Msg("queue_task_retry")
		time.Sleep(delay)
	}
}

func (q *Inline) release(t Task) {
	if t.IdempotencyKey == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, t.Kind+":"+t.IdempotencyKey)
	q.mu.Unlock()
}

// Wait blocks until every started task has finished.
func (q *Inline) Wait() {
	q.wg.Wait()
}
