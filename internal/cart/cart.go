package cart

import (
	"time"

	"github.com/noah-isme/backend-kasir/internal/tax"
)

// PaymentMethod is how the customer settles the bill.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentUPI          PaymentMethod = "upi"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentOther        PaymentMethod = "other"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentBankTransfer, PaymentOther:
		return true
	}
	return false
}

// Product is the catalog data a line is built from.
type Product struct {
	ID       string
	Name     string
	Price    float64
	Unit     string
	SKU      string
	Category string
	TaxClass *tax.ItemClass
}

// Line is one cart row. Total is always Price x Quantity.
type Line struct {
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

// Cart is the register's in-progress sale. Discount and TaxRate are
// percentages.
type Cart struct {
	ID            string        `json:"id"`
	Lines         []Line        `json:"items"`
	CustomerID    string        `json:"customerId,omitempty"`
	CustomerName  string        `json:"customerName"`
	CustomerPhone string        `json:"customerPhone,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Discount      float64       `json:"discount"`
	TaxRate       float64       `json:"taxRate"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Defaults seed new and cleared carts.
type Defaults struct {
	Discount      float64
	TaxRate       float64
	PaymentMethod PaymentMethod
}

// DefaultDefaults matches the register app: 2% discount, 7% tax, cash.
func DefaultDefaults() Defaults {
	return Defaults{Discount: 2, TaxRate: 7, PaymentMethod: PaymentCash}
}

// New returns an empty cart.
func New(id string, d Defaults) *Cart {
	c := &Cart{ID: id}
	c.reset(d)
	return c
}

func (c *Cart) reset(d Defaults) {
	c.Lines = []Line{}
	c.CustomerID = ""
	c.CustomerName = ""
	c.CustomerPhone = ""
	c.Notes = ""
	c.Discount = d.Discount
	c.TaxRate = d.TaxRate
	c.PaymentMethod = d.PaymentMethod
	if c.PaymentMethod == "" {
		c.PaymentMethod = PaymentCash
	}
}

// AddItem adds qty units of p, merging into an existing line. Non-positive
// quantities are ignored.
func (c *Cart) AddItem(p Product, qty int) {
	if qty <= 0 {
		return
	}
	for i := range c.Lines {
		if c.Lines[i].ItemID == p.ID {
			c.Lines[i].Quantity += qty
			c.Lines[i].Total = c.Lines[i].Price * float64(c.Lines[i].Quantity)
			return
		}
	}
	c.Lines = append(c.Lines, Line{
		ItemID:   p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Quantity: qty,
		Total:    p.Price * float64(qty),
		Unit:     p.Unit,
		SKU:      p.SKU,
		Category: p.Category,
		TaxClass: p.TaxClass,
	})
}

// UpdateItemQuantity sets a line's quantity; zero or less removes the line.
func (c *Cart) UpdateItemQuantity(itemID string, qty int) {
	if qty <= 0 {
		c.RemoveItem(itemID)
		return
	}
	for i := range c.Lines {
		if c.Lines[i].ItemID == itemID {
			c.Lines[i].Quantity = qty
			c.Lines[i].Total = c.Lines[i].Price * float64(qty)
			return
		}
	}
}

// RemoveItem drops the line for itemID.
func (c *Cart) RemoveItem(itemID string) {
	out := c.Lines[:0]
	for _, l := range c.Lines {
		if l.ItemID != itemID {
			out = append(out, l)
		}
	}
	c.Lines = out
}

// Line returns the line for itemID.
func (c *Cart) Line(itemID string) (Line, bool) {
	for _, l := range c.Lines {
		if l.ItemID == itemID {
			return l, true
		}
	}
	return Line{}, false
}

// Clear empties the cart and restores the defaults.
func (c *Cart) Clear(d Defaults) {
	c.reset(d)
}

// SetCustomer records who the sale is for.
func (c *Cart) SetCustomer(id, name, phone string) {
	c.CustomerID = id
	c.CustomerName = name
	c.CustomerPhone = phone
}

// SetNotes replaces the notes.
func (c *Cart) SetNotes(notes string) { c.Notes = notes }

// SetDiscount sets the discount percentage.
func (c *Cart) SetDiscount(pct float64) { c.Discount = pct }

// SetTaxRate sets the bill-level tax percentage.
func (c *Cart) SetTaxRate(pct float64) { c.TaxRate = pct }

// SetPaymentMethod sets the payment method.
func (c *Cart) SetPaymentMethod(m PaymentMethod) { c.PaymentMethod = m }

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool { return len(c.Lines) == 0 }

// Subtotal is the sum of line totals.
func (c *Cart) Subtotal() float64 {
	var sum float64
	for _, l := range c.Lines {
		sum += l.Total
	}
	return sum
}

// Totals is the priced view of a cart.
type Totals struct {
	Subtotal        float64        `json:"subtotal"`
	ItemsTax        float64        `json:"itemsTax"`
	BillTax         float64        `json:"billTax"`
	Tax             float64        `json:"tax"`
	SubtotalWithTax float64        `json:"subtotalWithTax"`
	Discount        float64        `json:"discount"`
	Total           float64        `json:"total"`
	Breakdown       *tax.Breakdown `json:"breakdown,omitempty"`
}

// BillTaxSettings is the exclusive single-rate tax applied to lines without
// their own tax class.
func (c *Cart) BillTaxSettings() tax.Settings {
	s := tax.DefaultSettings()
	s.Mode = tax.ModeSingle
	s.SingleTaxRate = c.TaxRate
	s.CalculationType = tax.Exclusive
	return s
}

// Totals prices the cart. Lines carrying a tax class are taxed by it; the
// remaining lines are taxed together at TaxRate. The discount percentage is
// taken from the taxed amount, so tax is computed before discount.
func (c *Cart) Totals() Totals {
	var (
		classed  []tax.Calculation
		billable float64
	)
	for _, l := range c.Lines {
		if l.TaxClass != nil {
			classed = append(classed, tax.Line(l.Total, l.TaxClass, tax.Settings{}))
			continue
		}
		billable += l.Total
	}
	items := tax.Sum(classed...)
	bill := tax.Calculate(billable, c.BillTaxSettings())
	all := tax.Sum(append(classed, bill)...)

	out := Totals{
		Subtotal: c.Subtotal(),
		ItemsTax: items.Tax,
		BillTax:  bill.Tax,
	}
	out.Tax = out.ItemsTax + out.BillTax
	out.SubtotalWithTax = out.Subtotal + out.Tax
	out.Discount = out.SubtotalWithTax * c.Discount / 100
	out.Total = out.SubtotalWithTax - out.Discount
	if len(classed) > 0 {
		out.Breakdown = all.Breakdown
	}
	return out
}

// Total is Totals().Total.
func (c *Cart) Total() float64 {
	return c.Totals().Total
}
