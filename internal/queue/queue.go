// Package queue is a small Redis job queue: a sorted set of ready tasks
// scored by due time, a processing set for visibility timeouts, and a dead
// letter store for tasks that ran out of attempts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Task is a unit of background work.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is 1 on the first delivery.
	Attempt int
}

// Submitter accepts tasks. Enqueuer and Inline both implement it.
type Submitter interface {
	Enqueue(ctx context.Context, t Task) error
}

// Mux dispatches tasks to a handler per kind, for the Inline queue which
// serves every kind from one process.
type Mux map[string]func(context.Context, Task) error

// Handle implements the handler signature used by Worker and Inline.
func (m Mux) Handle(ctx context.Context, t Task) error {
	h, ok := m[t.Kind]
	if !ok || h == nil {
		return fmt.Errorf("queue: no handler for kind %q", t.Kind)
	}
	return h(ctx, t)
}

// message is the encoded form stored in Redis.
type message struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
	LastError   string `json:"last_error,omitempty"`
}

func decodeMessage(raw string) (message, error) {
	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return message{}, err
	}
	return msg, nil
}

// keys derives the Redis key names for one prefix.
type keys struct {
	prefix string
}

func (k keys) join(parts ...string) string {
	out := k.prefix
	for _, p := range parts {
		if out == "" {
			out = p
			continue
		}
		out += ":" + p
	}
	return out
}

func (k keys) ready(kind string) string      { return k.join("queue", kind) }
func (k keys) processing(kind string) string { return k.join("queue", kind, "processing") }
func (k keys) dead(kind string) string       { return k.join("queue", kind, "dlq") }
func (k keys) dedup(kind, key string) string { return k.join("queue", "dedup", kind, key) }

// sanitizeKind accepts lowercase letters, digits and - _ : only.
func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

// Enqueuer publishes tasks.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue schedules t. With an idempotency key the task is accepted once
// until it is acknowledged or dead-lettered.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	msg := message{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}
	k := keys{e.Prefix}
	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := e.R.SetNX(ctx, k.dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, k.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(raw)}).Err(); err != nil {
		return err
	}
	recordDepth(ctx, e.R, k, kind)
	return nil
}

// Depth reports ready, in-flight and Redis dead-letter counts for kind.
func (e Enqueuer) Depth(ctx context.Context, kind string) (ready, inflight, dead int64, err error) {
	k := keys{e.Prefix}
	if ready, err = e.R.ZCard(ctx, k.ready(kind)).Result(); err != nil {
		return
	}
	if inflight, err = e.R.ZCard(ctx, k.processing(kind)).Result(); err != nil {
		return
	}
	dead, err = e.R.LLen(ctx, k.dead(kind)).Result()
	return
}

// OldestLag is how long the oldest due task has been waiting.
func (e Enqueuer) OldestLag(ctx context.Context, kind string) (time.Duration, error) {
	oldest, err := e.R.ZRangeWithScores(ctx, keys{e.Prefix}.ready(kind), 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return 0, err
	}
	due := time.Unix(0, int64(oldest[0].Score))
	if due.After(time.Now()) {
		return 0, nil
	}
	return time.Since(due), nil
}
