package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-kasir/internal/db"
)

// Filter narrows List results.
type Filter struct {
	Search     string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Repository persists customers.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Customer, int, error)
	Get(ctx context.Context, id string) (Customer, error)
	GetByPhone(ctx context.Context, phone string) (Customer, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, c Customer) (Customer, error)
	Update(ctx context.Context, c Customer) (Customer, error)
	Delete(ctx context.Context, id string) error
	ListWithStats(ctx context.Context) ([]WithStats, error)
}

const customerColumns = `c.id::text, c.name, c.phone, c.email, c.address, c.gst_number, c.notes, c.tags, c.created_from, c.is_active, c.created_at, c.updated_at`

// PG is the Postgres Repository.
type PG struct {
	DB db.DBTX
}

// NewPG constructs a Postgres repository.
func NewPG(conn db.DBTX) *PG {
	return &PG{DB: conn}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner, extra ...any) (Customer, error) {
	var c Customer
	dest := []any{&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.GSTNumber, &c.Notes, &c.Tags, &c.CreatedFrom, &c.IsActive, &c.CreatedAt, &c.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, err
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c, nil
}

// List implements Repository.
func (r *PG) List(ctx context.Context, f Filter) ([]Customer, int, error) {
	var (
		conds []string
		args  []any
	)
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("(c.name ILIKE $%d OR c.phone ILIKE $%d)", len(args), len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "c.is_active")
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.DB.QueryRow(ctx, "SELECT COUNT(*) FROM customers c "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count customers: %w", err)
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := r.DB.Query(ctx, fmt.Sprintf("SELECT %s FROM customers c %s ORDER BY c.name ASC, c.id ASC LIMIT $%d OFFSET $%d",
		customerColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()
	out := make([]Customer, 0, f.Limit)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Get implements Repository.
func (r *PG) Get(ctx context.Context, id string) (Customer, error) {
	return scanCustomer(r.DB.QueryRow(ctx, "SELECT "+customerColumns+" FROM customers c WHERE c.id = $1", id))
}

// GetByPhone implements Repository.
func (r *PG) GetByPhone(ctx context.Context, phone string) (Customer, error) {
	return scanCustomer(r.DB.QueryRow(ctx, "SELECT "+customerColumns+" FROM customers c WHERE c.phone = $1", phone))
}

// Count implements Repository.
func (r *PG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, "SELECT COUNT(*) FROM customers").Scan(&n)
	return n, err
}

// Create implements Repository.
func (r *PG) Create(ctx context.Context, c Customer) (Customer, error) {
	out, err := scanCustomer(r.DB.QueryRow(ctx, `
		INSERT INTO customers AS c (id, name, phone, email, address, gst_number, notes, tags, created_from, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING `+customerColumns,
		c.ID, c.Name, c.Phone, c.Email, c.Address, c.GSTNumber, c.Notes, c.Tags, c.CreatedFrom, c.IsActive, c.CreatedAt))
	if db.IsUniqueViolation(err) {
		return Customer{}, ErrDuplicatePhone
	}
	return out, err
}

// Update implements Repository.
func (r *PG) Update(ctx context.Context, c Customer) (Customer, error) {
	out, err := scanCustomer(r.DB.QueryRow(ctx, `
		UPDATE customers AS c SET name = $2, phone = $3, email = $4, address = $5, gst_number = $6,
			notes = $7, tags = $8, is_active = $9, updated_at = $10
		WHERE c.id = $1
		RETURNING `+customerColumns,
		c.ID, c.Name, c.Phone, c.Email, c.Address, c.GSTNumber, c.Notes, c.Tags, c.IsActive, c.UpdatedAt))
	if db.IsUniqueViolation(err) {
		return Customer{}, ErrDuplicatePhone
	}
	return out, err
}

// Delete implements Repository.
func (r *PG) Delete(ctx context.Context, id string) error {
	tag, err := r.DB.Exec(ctx, "DELETE FROM customers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWithStats implements Repository. Only paid bills count as purchases.
func (r *PG) ListWithStats(ctx context.Context) ([]WithStats, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+customerColumns+`,
			COALESCE(SUM(b.total), 0)::float8, COUNT(b.id), MAX(b.created_at)
		FROM customers c
		LEFT JOIN bills b ON b.customer_id = c.id AND b.status = 'paid'
		GROUP BY c.id
		ORDER BY c.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("export customers: %w", err)
	}
	defer rows.Close()
	var out []WithStats
	for rows.Next() {
		var (
			st   Stats
			last *time.Time
		)
		c, err := scanCustomer(rows, &st.TotalPurchases, &st.TotalTransactions, &last)
		if err != nil {
			return nil, err
		}
		st.LastPurchaseDate = last
		out = append(out, WithStats{Customer: c, Stats: st})
	}
	return out, rows.Err()
}
