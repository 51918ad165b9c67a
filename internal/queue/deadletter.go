package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-kasir/internal/db"
)

// ErrDeadLetterNotFound is returned for unknown dead letter ids.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DeadLetter is a task that exhausted its attempts. Payload holds the full
// encoded message so it can be replayed as is.
type DeadLetter struct {
	ID             uuid.UUID `json:"id"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Payload        []byte    `json:"-"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"lastError,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DeadLetterStore persists dead letters for inspection and replay.
type DeadLetterStore interface {
	Insert(ctx context.Context, d DeadLetter) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (DeadLetter, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, kind string, limit, offset int) ([]DeadLetter, error)
	Count(ctx context.Context, kind string) (int64, error)
}

// PGStore keeps dead letters in the queue_dlq table.
type PGStore struct {
	DB db.DBTX
}

// NewPGStore constructs a PGStore.
func NewPGStore(conn db.DBTX) *PGStore {
	return &PGStore{DB: conn}
}

const deadLetterColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

func scanDeadLetter(row pgx.Row) (DeadLetter, error) {
	var d DeadLetter
	if err := row.Scan(&d.ID, &d.Kind, &d.IdempotencyKey, &d.Payload, &d.Attempts, &d.LastError, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeadLetter{}, ErrDeadLetterNotFound
		}
		return DeadLetter{}, err
	}
	return d, nil
}

// Insert implements DeadLetterStore.
func (s *PGStore) Insert(ctx context.Context, d DeadLetter) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.DB.QueryRow(ctx, `
		INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		d.Kind, d.IdempotencyKey, d.Payload, d.Attempts, d.LastError).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert dead letter: %w", err)
	}
	return id, nil
}

// Get implements DeadLetterStore.
func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (DeadLetter, error) {
	return scanDeadLetter(s.DB.QueryRow(ctx, "SELECT "+deadLetterColumns+" FROM queue_dlq WHERE id = $1", id))
}

// Delete implements DeadLetterStore.
func (s *PGStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.Exec(ctx, "DELETE FROM queue_dlq WHERE id = $1", id)
	return err
}

// List implements DeadLetterStore, newest first. An empty kind lists all.
func (s *PGStore) List(ctx context.Context, kind string, limit, offset int) ([]DeadLetter, error) {
	limit = min(max(limit, 1), 500)
	offset = max(offset, 0)
	rows, err := s.DB.Query(ctx, `
		SELECT `+deadLetterColumns+` FROM queue_dlq
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, strings.TrimSpace(kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()
	out := make([]DeadLetter, 0, limit)
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Count implements DeadLetterStore.
func (s *PGStore) Count(ctx context.Context, kind string) (int64, error) {
	var n int64
	err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE ($1 = '' OR kind = $1)`, strings.TrimSpace(kind)).Scan(&n)
	return n, err
}

// Replay puts a dead letter back on the queue with a fresh attempt budget
// and removes it from the store.
func Replay(ctx context.Context, store DeadLetterStore, enq Enqueuer, id uuid.UUID) error {
	d, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	msg, err := decodeMessage(string(d.Payload))
	if err != nil {
		return fmt.Errorf("decode dead letter %s: %w", id, err)
	}
	if err := enq.Enqueue(ctx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	}); err != nil {
		return err
	}
	return store.Delete(ctx, id)
}
