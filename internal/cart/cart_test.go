package cart_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

const eps = 1e-9

func TestAddItemMergesQuantities(t *testing.T) {
	c := cart.New("c1", cart.DefaultDefaults())
	p := cart.Product{ID: "tea", Name: "Tea", Price: 12.5}

	c.AddItem(p, 2)
	c.AddItem(p, 3)
	require.Len(t, c.Lines, 1)
	require.Equal(t, 5, c.Lines[0].Quantity)
	require.InDelta(t, 62.5, c.Lines[0].Total, eps)

	c.AddItem(p, 0)
	c.AddItem(p, -1)
	require.Equal(t, 5, c.Lines[0].Quantity)
}

func TestUpdateQuantityZeroRemoves(t *testing.T) {
	c := cart.New("c1", cart.DefaultDefaults())
	c.AddItem(cart.Product{ID: "a", Price: 10}, 1)
	c.AddItem(cart.Product{ID: "b", Price: 20}, 1)

	c.UpdateItemQuantity("a", 4)
	l, ok := c.Line("a")
	require.True(t, ok)
	require.InDelta(t, 40, l.Total, eps)

	c.UpdateItemQuantity("a", 0)
	require.Len(t, c.Lines, 1)
	_, ok = c.Line("a")
	require.False(t, ok)

	c.UpdateItemQuantity("b", -3)
	require.True(t, c.Empty())
}

func TestTotalsAppliesTaxBeforeDiscount(t *testing.T) {
	c := cart.New("c1", cart.Defaults{Discount: 10, TaxRate: 5, PaymentMethod: cart.PaymentCash})
	c.AddItem(cart.Product{ID: "a", Price: 100}, 2)

	got := c.Totals()
	require.InDelta(t, 200, got.Subtotal, eps)
	require.InDelta(t, 10, got.Tax, eps)
	require.InDelta(t, 210, got.SubtotalWithTax, eps)
	require.InDelta(t, 21, got.Discount, eps)
	require.InDelta(t, 189, got.Total, eps)
	require.InDelta(t, 200*(1+5.0/100)*(1-10.0/100), c.Total(), 1e-6)
	require.Nil(t, got.Breakdown)
}

func TestTotalsDefaults(t *testing.T) {
	c := cart.New("c1", cart.DefaultDefaults())
	c.AddItem(cart.Product{ID: "a", Price: 50}, 2)
	subtotalWithTax := 100 * 1.07
	require.InDelta(t, subtotalWithTax-subtotalWithTax*0.02, c.Total(), 1e-6)
}

func TestItemTaxClassOverridesBillRate(t *testing.T) {
	c := cart.New("c1", cart.Defaults{Discount: 0, TaxRate: 10, PaymentMethod: cart.PaymentCash})
	c.AddItem(cart.Product{ID: "gst", Price: 100, TaxClass: &tax.ItemClass{Type: tax.ItemGST, GSTRate: 18}}, 1)
	c.AddItem(cart.Product{ID: "exempt", Price: 50, TaxClass: &tax.ItemClass{Type: tax.ItemExempt}}, 1)
	c.AddItem(cart.Product{ID: "plain", Price: 200}, 1)

	got := c.Totals()
	require.InDelta(t, 350, got.Subtotal, eps)
	require.InDelta(t, 18, got.ItemsTax, eps)
	require.InDelta(t, 20, got.BillTax, eps)
	require.InDelta(t, 38, got.Tax, eps)
	require.InDelta(t, 388, got.Total, eps)
	require.NotNil(t, got.Breakdown)
	require.InDelta(t, 9, *got.Breakdown.CGST, eps)
	require.InDelta(t, 9, *got.Breakdown.SGST, eps)
}

func TestClearRestoresDefaults(t *testing.T) {
	d := cart.DefaultDefaults()
	c := cart.New("c1", d)
	c.AddItem(cart.Product{ID: "a", Price: 1}, 1)
	c.SetCustomer("cust", "Asha", "9999")
	c.SetNotes("no sugar")
	c.SetDiscount(15)
	c.SetTaxRate(12)
	c.SetPaymentMethod(cart.PaymentUPI)

	c.Clear(d)
	require.True(t, c.Empty())
	require.Empty(t, c.CustomerName)
	require.Empty(t, c.Notes)
	require.Equal(t, d.Discount, c.Discount)
	require.Equal(t, d.TaxRate, c.TaxRate)
	require.Equal(t, cart.PaymentCash, c.PaymentMethod)
	require.Equal(t, "c1", c.ID)
}

func TestPaymentMethodValid(t *testing.T) {
	require.True(t, cart.PaymentBankTransfer.Valid())
	require.False(t, cart.PaymentMethod("crypto").Valid())
}
