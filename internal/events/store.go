package events

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/backend-kasir/internal/db"
)

// PGStore writes events to the domain_events table.
type PGStore struct {
	DB db.DBTX
}

// Insert implements Store.
func (s PGStore) Insert(ctx context.Context, ev Event) (Event, error) {
	err := s.DB.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, occurred_at`,
		ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt).Scan(&ev.ID, &ev.OccurredAt)
	if err != nil {
		return Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}

// Recent lists the latest events for an aggregate, newest first.
func (s PGStore) Recent(ctx context.Context, aggregateID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, topic, aggregate_id, payload, occurred_at
		FROM domain_events WHERE aggregate_id = $1
		ORDER BY occurred_at DESC, id DESC LIMIT $2`, aggregateID, limit)
	if err != nil {
		return nil, fmt.Errorf("list domain events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			ev      Event
			payload []byte
			at      time.Time
		)
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &at); err != nil {
			return nil, err
		}
		ev.Payload = payload
		ev.OccurredAt = at
		out = append(out, ev)
	}
	return out, rows.Err()
}
