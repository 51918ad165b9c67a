package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-kasir/internal/db"
)

// PGStore keeps entries in the audit_logs table.
type PGStore struct {
	DB db.DBTX
}

// NewPGStore constructs a PGStore.
func NewPGStore(conn db.DBTX) *PGStore {
	return &PGStore{DB: conn}
}

// Insert implements Store.
func (s *PGStore) Insert(ctx context.Context, e Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO audit_logs (actor, action, resource, resource_id, method, route, status, ip, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.Actor, e.Action, e.Resource, e.ResourceID, e.Method, e.Route, e.Status, e.IP, e.RequestID, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List implements Store, newest first. Resource matches as a prefix so
// "bills" covers "bills.{id}.status".
func (s *PGStore) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	limit := min(max(f.Limit, 1), 200)
	offset := max(f.Offset, 0)
	resource := strings.TrimSpace(f.Resource)
	actor := strings.TrimSpace(f.Actor)

	var total int
	if err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM audit_logs
		WHERE ($1 = '' OR resource LIKE $1 || '%') AND ($2 = '' OR actor = $2)`,
		resource, actor).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := s.DB.Query(ctx, `
		SELECT id, actor, action, resource, resource_id, method, route, status, ip, request_id, metadata, created_at
		FROM audit_logs
		WHERE ($1 = '' OR resource LIKE $1 || '%') AND ($2 = '' OR actor = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, resource, actor, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e        Entry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Resource, &e.ResourceID, &e.Method, &e.Route,
			&e.Status, &e.IP, &e.RequestID, &metadata, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
