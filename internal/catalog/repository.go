package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-kasir/internal/db"
)

// Repository persists catalog items.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Item, int, error)
	Get(ctx context.Context, id string) (Item, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, item Item) (Item, error)
	Update(ctx context.Context, item Item) (Item, error)
	Delete(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, id string, delta int) (Item, error)
}

const itemColumns = `id::text, name, price, category, description, stock, unit, sku, tax_class, created_at, updated_at`

// PG is the Postgres Repository.
type PG struct {
	DB db.DBTX
}

// NewPG constructs a Postgres repository over a pool or transaction.
func NewPG(conn db.DBTX) *PG {
	return &PG{DB: conn}
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.Price, &it.Category, &it.Description, &it.Stock, &it.Unit, &it.SKU, &it.TaxClass, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// List implements Repository.
func (r *PG) List(ctx context.Context, f Filter) ([]Item, int, error) {
	var (
		conds []string
		args  []any
	)
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR sku ILIKE $%d OR category ILIKE $%d)", n, n, n))
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		args = append(args, c)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.DB.QueryRow(ctx, "SELECT COUNT(*) FROM items "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf("SELECT %s FROM items %s ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d", itemColumns, where, len(args)-1, len(args))
	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	items := make([]Item, 0, f.Limit)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// Get implements Repository.
func (r *PG) Get(ctx context.Context, id string) (Item, error) {
	return scanItem(r.DB.QueryRow(ctx, "SELECT "+itemColumns+" FROM items WHERE id = $1", id))
}

// Count implements Repository.
func (r *PG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, "SELECT COUNT(*) FROM items").Scan(&n)
	return n, err
}

// Create implements Repository.
func (r *PG) Create(ctx context.Context, it Item) (Item, error) {
	return scanItem(r.DB.QueryRow(ctx, `
		INSERT INTO items (id, name, price, category, description, stock, unit, sku, tax_class, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+itemColumns,
		it.ID, it.Name, it.Price, it.Category, it.Description, it.Stock, it.Unit, it.SKU, it.TaxClass, it.CreatedAt))
}

// Update implements Repository.
func (r *PG) Update(ctx context.Context, it Item) (Item, error) {
	return scanItem(r.DB.QueryRow(ctx, `
		UPDATE items SET name = $2, price = $3, category = $4, description = $5, stock = $6,
			unit = $7, sku = $8, tax_class = $9, updated_at = $10
		WHERE id = $1
		RETURNING `+itemColumns,
		it.ID, it.Name, it.Price, it.Category, it.Description, it.Stock, it.Unit, it.SKU, it.TaxClass, it.UpdatedAt))
}

// Delete implements Repository.
func (r *PG) Delete(ctx context.Context, id string) error {
	tag, err := r.DB.Exec(ctx, "DELETE FROM items WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustStock implements Repository. Untracked stock stays NULL and tracked
// stock never drops below zero.
func (r *PG) AdjustStock(ctx context.Context, id string, delta int) (Item, error) {
	return scanItem(r.DB.QueryRow(ctx, `
		UPDATE items SET
			stock = CASE WHEN stock IS NULL THEN NULL ELSE GREATEST(stock + $2, 0) END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns, id, delta))
}
