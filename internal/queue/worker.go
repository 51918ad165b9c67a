package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// Worker consumes one task kind.
type Worker struct {
	R      *redis.Client
	Prefix string
	Kind   string
	// Concurrency bounds in-flight handlers; default 1.
	Concurrency int
	// VisibilityTimeout is how long a claimed task stays invisible before
	// another worker may take it over; default 30s.
	VisibilityTimeout time.Duration
	// SoftDeadline cancels the handler context early; defaults to the
	// visibility timeout.
	SoftDeadline time.Duration
	RetryBase    time.Duration
	RetryJitter  float64
	// Store receives dead letters. Without one they stay in a Redis list.
	Store   DeadLetterStore
	Logger  zerolog.Logger
	Handler func(context.Context, Task) error
	// Poll is the idle sleep between empty polls; default 100ms.
	Poll time.Duration
}

func (w Worker) settings() (kind string, concurrency int, visibility, deadline, base, poll time.Duration, err error) {
	if w.R == nil {
		return "", 0, 0, 0, 0, 0, errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return "", 0, 0, 0, 0, 0, errors.New("queue: worker handler not configured")
	}
	if kind = sanitizeKind(w.Kind); kind == "" {
		return "", 0, 0, 0, 0, 0, fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	concurrency = max(w.Concurrency, 1)
	visibility = w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	deadline = w.SoftDeadline
	if deadline <= 0 || deadline > visibility {
		deadline = visibility
	}
	base = w.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	poll = w.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return kind, concurrency, visibility, deadline, base, poll, nil
}

// Run processes tasks until ctx is cancelled, then waits for in-flight
// handlers.
func (w Worker) Run(ctx context.Context) error {
	kind, concurrency, visibility, deadline, base, poll, err := w.settings()
	if err != nil {
		return err
	}
	k := keys{w.Prefix}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			if err := w.requeueExpired(ctx, k, kind); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		msg, raw, ok, err := w.claim(ctx, k, kind, visibility)
		if err != nil || !ok {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			sleep(ctx, poll)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, k, kind, raw, msg, deadline, base)
		}()
	}
}

// claim pops the earliest task and parks it in the processing set. Tasks
// not yet due are put back.
func (w Worker) claim(ctx context.Context, k keys, kind string, visibility time.Duration) (message, string, bool, error) {
	res, err := w.R.ZPopMin(ctx, k.ready(kind), 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return message{}, "", false, nil
		}
		return message{}, "", false, err
	}
	if len(res) == 0 {
		return message{}, "", false, nil
	}
	member, _ := res[0].Member.(string)
	msg, err := decodeMessage(member)
	if err != nil {
		w.Logger.Error().Err(err).Str("kind", kind).Msg("queue_message_corrupt")
		return message{}, "", false, nil
	}
	if msg.AvailableAt > time.Now().UnixNano() {
		if err := w.R.ZAdd(ctx, k.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: member}).Err(); err != nil {
			return message{}, "", false, err
		}
		return message{}, "", false, nil
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return message{}, "", false, err
	}
	raw := string(encoded)
	until := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, k.processing(kind), redis.Z{Score: float64(until), Member: raw}).Err(); err != nil {
		return message{}, "", false, err
	}
	return msg, raw, true, nil
}

func (w Worker) process(ctx context.Context, k keys, kind, raw string, msg message, deadline, base time.Duration) {
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	err := w.Handler(jobCtx, Task{
		Kind:           kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt,
	})

	// Bookkeeping must outlive a cancelled worker context.
	bg := context.WithoutCancel(ctx)
	if err == nil {
		w.release(bg, k, msg)
		_ = w.R.ZRem(bg, k.processing(kind), raw).Err()
		recordProcessed(kind, "ok")
		return
	}
	_ = w.R.ZRem(bg, k.processing(kind), raw).Err()

	msg.LastError = err.Error()
	if msg.Attempt >= msg.MaxAttempts {
		w.deadLetter(bg, k, kind, msg)
		return
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, mErr := json.Marshal(msg)
	if mErr != nil {
		return
	}
	if zErr := w.R.ZAdd(bg, k.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); zErr != nil {
		w.Logger.Error().Err(zErr).Str("kind", kind).Msg("queue_retry_failed")
		return
	}
	recordProcessed(kind, "retry")
	w.Logger.Warn().Err(err).Str("kind", kind).Int("attempt", msg.Attempt).Dur("delay", delay).Msg("queue_task_retry")
}

func (w Worker) deadLetter(ctx context.Context, k keys, kind string, msg message) {
	defer w.release(ctx, k, msg)
	recordProcessed(kind, "dead")
	w.Logger.Error().Str("kind", kind).Str("key", msg.Key).Int("attempts", msg.Attempt).Str("last_error", msg.LastError).Msg("queue_task_dead")

	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if w.Store != nil {
		lastErr := msg.LastError
		_, err := w.Store.Insert(ctx, DeadLetter{
			Kind:           kind,
			IdempotencyKey: msg.Key,
			Payload:        encoded,
			Attempts:       msg.Attempt,
			LastError:      &lastErr,
		})
		if err == nil {
			return
		}
		w.Logger.Error().Err(err).Str("kind", kind).Msg("queue_dlq_store_failed")
	}
	_ = w.R.LPush(ctx, k.dead(kind), encoded).Err()
}

// release drops the dedup marker so the same key can be queued again.
func (w Worker) release(ctx context.Context, k keys, msg message) {
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Kind, msg.Key)).Err()
	}
}

// requeueExpired returns tasks whose visibility ran out, typically from a
// crashed worker, to the ready set.
func (w Worker) requeueExpired(ctx context.Context, k keys, kind string) error {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, k.processing(kind), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		removed, err := w.R.ZRem(ctx, k.processing(kind), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = now
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, k.ready(kind), redis.Z{Score: float64(now), Member: string(encoded)}).Err()
		w.Logger.Warn().Str("kind", kind).Int("attempt", msg.Attempt).Msg("queue_task_visibility_expired")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
