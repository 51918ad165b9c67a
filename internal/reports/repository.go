package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/backend-kasir/internal/db"
)

// PG runs the report queries against Postgres.
type PG struct {
	DB db.DBTX
}

// SalesDaily implements Querier. Void bills count towards AllBills only.
func (p PG) SalesDaily(ctx context.Context, from, to time.Time, tz string) ([]DailySales, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT to_char(b.created_at AT TIME ZONE $3, 'YYYY-MM-DD') AS day,
			COUNT(*) FILTER (WHERE b.status = 'paid'),
			COUNT(*),
			COALESCE(SUM(b.total) FILTER (WHERE b.status = 'paid'), 0),
			COALESCE(SUM(b.tax + b.items_tax) FILTER (WHERE b.status = 'paid'), 0),
			COALESCE(SUM(b.discount) FILTER (WHERE b.status = 'paid'), 0)
		FROM bills b
		WHERE b.created_at >= $1 AND b.created_at < $2
		GROUP BY day
		ORDER BY day`, from, to, tz)
	if err != nil {
		return nil, fmt.Errorf("query daily sales: %w", err)
	}
	defer rows.Close()
	var out []DailySales
	for rows.Next() {
		var d DailySales
		if err := rows.Scan(&d.Day, &d.PaidBills, &d.AllBills, &d.Revenue, &d.Tax, &d.Discount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TopItems implements Querier. Lines are grouped by item id and name so a
// renamed item shows up under both names.
func (p PG) TopItems(ctx context.Context, from, to time.Time, limit int) ([]TopItem, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT bi.item_id, bi.name, SUM(bi.quantity)::int, SUM(bi.total)
		FROM bill_items bi
		JOIN bills b ON b.id = bi.bill_id
		WHERE b.status = 'paid' AND b.created_at >= $1 AND b.created_at < $2
		GROUP BY bi.item_id, bi.name
		ORDER BY 3 DESC, 2 ASC
		LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query top items: %w", err)
	}
	defer rows.Close()
	var out []TopItem
	for rows.Next() {
		var it TopItem
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Quantity, &it.Revenue); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// TaxLines implements Querier. Lines come back grouped by bill in bill
// order.
func (p PG) TaxLines(ctx context.Context, from, to time.Time) ([]TaxLine, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT b.id::text, b.discount, bi.name, bi.price, bi.quantity, bi.tax_class
		FROM bills b
		JOIN bill_items bi ON bi.bill_id = b.id
		WHERE b.status = 'paid' AND b.created_at >= $1 AND b.created_at < $2
		ORDER BY b.created_at, b.id, bi.position`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query tax lines: %w", err)
	}
	defer rows.Close()
	var out []TaxLine
	for rows.Next() {
		var l TaxLine
		if err := rows.Scan(&l.BillID, &l.Discount, &l.Name, &l.Price, &l.Quantity, &l.TaxClass); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
