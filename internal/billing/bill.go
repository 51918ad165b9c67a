// Package billing turns carts into immutable bills.
package billing

import (
	"errors"
	"math"
	"time"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/invoice"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

var (
	// ErrNotFound is returned when a bill does not exist.
	ErrNotFound = errors.New("bill not found")
	// ErrInvalidInput flags rejected bill requests.
	ErrInvalidInput = errors.New("invalid bill request")
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
)

// Status is the only mutable field of a bill.
type Status string

const (
	StatusPaid Status = "paid"
	StatusVoid Status = "void"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPaid || s == StatusVoid
}

// Business is the seller metadata frozen onto a bill.
type Business struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	TaxID   string `json:"taxId,omitempty"`
}

// BusinessFrom copies the printable business fields out of settings.
func BusinessFrom(b settings.Business) Business {
	return Business{Name: b.Name, Address: b.Address, Phone: b.Phone, Email: b.Email, TaxID: b.TaxID}
}

// Item is one sold line.
type Item struct {
	ItemID   string         `json:"itemId"`
	Name     string         `json:"name"`
	Price    float64        `json:"price"`
	Quantity int            `json:"quantity"`
	Total    float64        `json:"total"`
	Unit     string         `json:"unit,omitempty"`
	SKU      string         `json:"sku,omitempty"`
	Category string         `json:"category,omitempty"`
	TaxClass *tax.ItemClass `json:"taxClass,omitempty"`
}

// Bill is the checkout snapshot. Only Status changes after creation.
type Bill struct {
	ID              string             `json:"id"`
	InvoiceNumber   string             `json:"invoiceNumber"`
	InvoiceFallback bool               `json:"invoiceFallback,omitempty"`
	CustomerID      *string            `json:"customerId,omitempty"`
	CustomerName    string             `json:"customerName,omitempty"`
	CustomerPhone   string             `json:"customerPhone,omitempty"`
	Items           []Item             `json:"items"`
	Subtotal        float64            `json:"subtotal"`
	Tax             float64            `json:"tax"`
	TaxRate         float64            `json:"taxRate"`
	ItemsTax        float64            `json:"itemsTax"`
	Breakdown       *tax.Breakdown     `json:"taxBreakdown,omitempty"`
	Discount        float64            `json:"discount"`
	DiscountRate    float64            `json:"discountRate"`
	Total           float64            `json:"total"`
	PaymentMethod   cart.PaymentMethod `json:"paymentMethod"`
	Notes           string             `json:"notes,omitempty"`
	Status          Status             `json:"status"`
	Business        Business           `json:"businessInfo"`
	RegisterID      string             `json:"registerId,omitempty"`
	CartID          string             `json:"cartId,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Snapshot freezes a cart into a bill. Money is rounded to cents and Total is
// derived from the rounded parts, so Subtotal+Tax-Discount always equals
// Total on the bill. The percentages are kept as entered.
func Snapshot(c *cart.Cart, biz Business, alloc invoice.Allocation, now time.Time) Bill {
	totals := c.Totals()
	subtotal, taxed, discount := round2(totals.Subtotal), round2(totals.Tax), round2(totals.Discount)
	items := make([]Item, 0, len(c.Lines))
	for _, l := range c.Lines {
		items = append(items, Item{
			ItemID:   l.ItemID,
			Name:     l.Name,
			Price:    round2(l.Price),
			Quantity: l.Quantity,
			Total:    round2(l.Total),
			Unit:     l.Unit,
			SKU:      l.SKU,
			Category: l.Category,
			TaxClass: l.TaxClass,
		})
	}
	var customerID *string
	if c.CustomerID != "" {
		id := c.CustomerID
		customerID = &id
	}
	now = now.UTC()
	return Bill{
		InvoiceNumber:   alloc.Number,
		InvoiceFallback: alloc.Fallback,
		CustomerID:      customerID,
		CustomerName:    c.CustomerName,
		CustomerPhone:   c.CustomerPhone,
		Items:           items,
		Subtotal:        subtotal,
		Tax:             taxed,
		TaxRate:         c.TaxRate,
		ItemsTax:        round2(totals.ItemsTax),
		Breakdown:       roundBreakdown(totals.Breakdown),
		Discount:        discount,
		DiscountRate:    c.Discount,
		Total:           round2(subtotal + taxed - discount),
		PaymentMethod:   c.PaymentMethod,
		Notes:           c.Notes,
		Status:          StatusPaid,
		Business:        biz,
		CartID:          c.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundBreakdown(b *tax.Breakdown) *tax.Breakdown {
	if b == nil {
		return nil
	}
	out := tax.Breakdown{Total: round2(b.Total)}
	for _, pair := range []struct{ src, dst **float64 }{
		{&b.Tax, &out.Tax}, {&b.CGST, &out.CGST}, {&b.SGST, &out.SGST}, {&b.IGST, &out.IGST},
	} {
		if *pair.src != nil {
			v := round2(**pair.src)
			*pair.dst = &v
		}
	}
	return &out
}
