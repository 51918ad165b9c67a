package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-kasir/internal/db"
)

// Filter narrows List results. From and To bound created_at, To exclusive.
type Filter struct {
	Limit      int
	Offset     int
	From       *time.Time
	To         *time.Time
	Status     Status
	CustomerID string
	Search     string
}

// TxRepository holds the writes that must commit together.
type TxRepository interface {
	InsertBill(ctx context.Context, b Bill) error
	// AdjustStock adds delta to tracked stock, flooring at zero. Untracked
	// and deleted items are left alone.
	AdjustStock(ctx context.Context, itemID string, delta int) error
	DeleteBill(ctx context.Context, id string) (Bill, error)
}

// Repository persists bills.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id string) (Bill, error)
	List(ctx context.Context, f Filter) ([]Bill, int, error)
	Count(ctx context.Context) (int, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (Bill, error)
}

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	db.DBTX
	db.Beginner
}

// PG is the Postgres Repository.
type PG struct {
	pool Pool
}

// NewPG constructs a Postgres repository.
func NewPG(pool Pool) *PG {
	return &PG{pool: pool}
}

type pgTx struct {
	q pgx.Tx
}

// WithTx runs fn in one transaction.
func (r *PG) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{q: tx})
	})
}

const billColumns = `b.id::text, b.invoice_number, b.invoice_fallback, b.customer_id::text, b.customer_name, b.customer_phone,
	b.subtotal, b.tax, b.tax_rate, b.items_tax, b.tax_breakdown, b.discount, b.discount_rate, b.total,
	b.payment_method, b.notes, b.status, b.business, b.register_id, b.cart_id, b.created_at, b.updated_at`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.InvoiceNumber, &b.InvoiceFallback, &b.CustomerID, &b.CustomerName, &b.CustomerPhone,
		&b.Subtotal, &b.Tax, &b.TaxRate, &b.ItemsTax, &b.Breakdown, &b.Discount, &b.DiscountRate, &b.Total,
		&b.PaymentMethod, &b.Notes, &b.Status, &b.Business, &b.RegisterID, &b.CartID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrNotFound
		}
		return Bill{}, err
	}
	b.Items = []Item{}
	return b, nil
}

func (t pgTx) InsertBill(ctx context.Context, b Bill) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bills (id, invoice_number, invoice_fallback, customer_id, customer_name, customer_phone,
			subtotal, tax, tax_rate, items_tax, tax_breakdown, discount, discount_rate, total,
			payment_method, notes, status, business, register_id, cart_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		b.ID, b.InvoiceNumber, b.InvoiceFallback, b.CustomerID, b.CustomerName, b.CustomerPhone,
		b.Subtotal, b.Tax, b.TaxRate, b.ItemsTax, b.Breakdown, b.Discount, b.DiscountRate, b.Total,
		b.PaymentMethod, b.Notes, b.Status, b.Business, b.RegisterID, b.CartID, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	batch := &pgx.Batch{}
	for i, it := range b.Items {
		batch.Queue(`
			INSERT INTO bill_items (bill_id, position, item_id, name, price, quantity, total, unit, sku, category, tax_class)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			b.ID, i, it.ItemID, it.Name, it.Price, it.Quantity, it.Total, it.Unit, it.SKU, it.Category, it.TaxClass)
	}
	if batch.Len() == 0 {
		return nil
	}
	br := t.q.SendBatch(ctx, batch)
	for range b.Items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert bill item: %w", err)
		}
	}
	return br.Close()
}

func (t pgTx) AdjustStock(ctx context.Context, itemID string, delta int) error {
	if itemID == "" || delta == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx, `
		UPDATE items SET stock = GREATEST(stock + $2, 0), updated_at = now()
		WHERE id::text = $1 AND stock IS NOT NULL`, itemID, delta)
	if err != nil {
		return fmt.Errorf("adjust stock %s: %w", itemID, err)
	}
	return nil
}

func (t pgTx) DeleteBill(ctx context.Context, id string) (Bill, error) {
	b, err := scanBill(t.q.QueryRow(ctx, "SELECT "+billColumns+" FROM bills b WHERE b.id = $1 FOR UPDATE", id))
	if err != nil {
		return Bill{}, err
	}
	items, err := loadItems(ctx, t.q, []string{id})
	if err != nil {
		return Bill{}, err
	}
	b.Items = items[id]
	if _, err := t.q.Exec(ctx, "DELETE FROM bills WHERE id = $1", id); err != nil {
		return Bill{}, fmt.Errorf("delete bill: %w", err)
	}
	return b, nil
}

func loadItems(ctx context.Context, q db.DBTX, billIDs []string) (map[string][]Item, error) {
	out := make(map[string][]Item, len(billIDs))
	if len(billIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT bill_id::text, item_id, name, price, quantity, total, unit, sku, category, tax_class
		FROM bill_items WHERE bill_id::text = ANY($1)
		ORDER BY bill_id, position`, billIDs)
	if err != nil {
		return nil, fmt.Errorf("load bill items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			billID string
			it     Item
		)
		if err := rows.Scan(&billID, &it.ItemID, &it.Name, &it.Price, &it.Quantity, &it.Total, &it.Unit, &it.SKU, &it.Category, &it.TaxClass); err != nil {
			return nil, err
		}
		out[billID] = append(out[billID], it)
	}
	return out, rows.Err()
}

// Get implements Repository.
func (r *PG) Get(ctx context.Context, id string) (Bill, error) {
	b, err := scanBill(r.pool.QueryRow(ctx, "SELECT "+billColumns+" FROM bills b WHERE b.id = $1", id))
	if err != nil {
		return Bill{}, err
	}
	items, err := loadItems(ctx, r.pool, []string{id})
	if err != nil {
		return Bill{}, err
	}
	if lines, ok := items[id]; ok {
		b.Items = lines
	}
	return b, nil
}

// List implements Repository, newest first.
func (r *PG) List(ctx context.Context, f Filter) ([]Bill, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("b.created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("b.created_at < $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("b.status = $%d", len(args)))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		conds = append(conds, fmt.Sprintf("b.customer_id::text = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(b.invoice_number ILIKE $%d OR b.customer_name ILIKE $%d OR b.customer_phone ILIKE $%d)", n, n, n))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM bills b "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM bills b %s ORDER BY b.created_at DESC, b.id DESC LIMIT $%d OFFSET $%d",
		billColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()
	bills := make([]Bill, 0, f.Limit)
	ids := make([]string, 0, f.Limit)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, b)
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()
	items, err := loadItems(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range bills {
		if lines, ok := items[bills[i].ID]; ok {
			bills[i].Items = lines
		}
	}
	return bills, total, nil
}

// Count implements Repository.
func (r *PG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM bills").Scan(&n)
	return n, err
}

// UpdateStatus implements Repository.
func (r *PG) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (Bill, error) {
	if _, err := scanBill(r.pool.QueryRow(ctx, `
		UPDATE bills AS b SET status = $2, updated_at = $3 WHERE b.id = $1
		RETURNING `+billColumns, id, status, at)); err != nil {
		return Bill{}, err
	}
	return r.Get(ctx, id)
}
