package tax_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/tax"
)

const eps = 1e-9

func gstIntra(calc tax.CalculationType) tax.Settings {
	return tax.Settings{Mode: tax.ModeGST, GSTType: tax.Intrastate, CGSTRate: 9, SGSTRate: 9, CalculationType: calc}
}

func TestCalculateGSTIntrastateExclusive(t *testing.T) {
	calc := tax.Calculate(1000, gstIntra(tax.Exclusive))
	require.InDelta(t, 1000, calc.Subtotal, eps)
	require.InDelta(t, 180, calc.Tax, eps)
	require.InDelta(t, 1180, calc.Total, eps)
	require.NotNil(t, calc.Breakdown)
	require.InDelta(t, 90, *calc.Breakdown.CGST, eps)
	require.InDelta(t, 90, *calc.Breakdown.SGST, eps)
	require.Nil(t, calc.Breakdown.IGST)
	require.Nil(t, calc.Breakdown.Tax)
}

func TestCalculateNoTaxPassthrough(t *testing.T) {
	calc := tax.Calculate(250.5, tax.Settings{Mode: tax.ModeNone, SingleTaxRate: 12})
	require.Equal(t, 250.5, calc.Subtotal)
	require.Zero(t, calc.Tax)
	require.Equal(t, 250.5, calc.Total)
	require.Nil(t, calc.Breakdown)
}

func TestCalculateSingleTax(t *testing.T) {
	excl := tax.Calculate(200, tax.Settings{Mode: tax.ModeSingle, SingleTaxRate: 5, CalculationType: tax.Exclusive})
	require.InDelta(t, 10, excl.Tax, eps)
	require.InDelta(t, 210, excl.Total, eps)
	require.InDelta(t, 10, *excl.Breakdown.Tax, eps)

	incl := tax.Calculate(210, tax.Settings{Mode: tax.ModeSingle, SingleTaxRate: 5, CalculationType: tax.Inclusive})
	require.InDelta(t, 200, incl.Subtotal, 1e-9)
	require.InDelta(t, 10, incl.Tax, 1e-9)
	require.InDelta(t, 210, incl.Total, 1e-9)
}

func TestCalculateGSTInterstate(t *testing.T) {
	s := tax.Settings{Mode: tax.ModeGST, GSTType: tax.Interstate, IGSTRate: 18, CGSTRate: 9, SGSTRate: 9, CalculationType: tax.Exclusive}
	calc := tax.Calculate(500, s)
	require.InDelta(t, 90, calc.Tax, eps)
	require.InDelta(t, 90, *calc.Breakdown.IGST, eps)
	require.Nil(t, calc.Breakdown.CGST)

	s.CalculationType = tax.Inclusive
	incl := tax.Calculate(590, s)
	require.InDelta(t, 500, incl.Subtotal, 1e-9)
	require.InDelta(t, 90, *incl.Breakdown.IGST, 1e-9)
}

func TestCalculateGSTInclusiveBreakdownFromSubtotal(t *testing.T) {
	s := tax.Settings{Mode: tax.ModeGST, GSTType: tax.Intrastate, CGSTRate: 6, SGSTRate: 12, CalculationType: tax.Inclusive}
	calc := tax.Calculate(1180, s)
	require.InDelta(t, 1000, calc.Subtotal, 1e-9)
	require.InDelta(t, 60, *calc.Breakdown.CGST, 1e-9)
	require.InDelta(t, 120, *calc.Breakdown.SGST, 1e-9)
	require.InDelta(t, calc.Tax, calc.Breakdown.Total, eps)
}

func TestSubtotalPlusTaxEqualsTotal(t *testing.T) {
	settings := []tax.Settings{
		{Mode: tax.ModeNone},
		{Mode: tax.ModeSingle, SingleTaxRate: 7, CalculationType: tax.Exclusive},
		{Mode: tax.ModeSingle, SingleTaxRate: 7, CalculationType: tax.Inclusive},
		gstIntra(tax.Exclusive),
		gstIntra(tax.Inclusive),
		{Mode: tax.ModeGST, GSTType: tax.Interstate, IGSTRate: 28, CalculationType: tax.Exclusive},
		{Mode: tax.ModeGST, GSTType: tax.Interstate, IGSTRate: 28, CalculationType: tax.Inclusive},
	}
	for _, s := range settings {
		for _, amount := range []float64{0, 0.01, 1, 99.99, 1234.56, 1e6} {
			calc := tax.Calculate(amount, s)
			require.Less(t, math.Abs(calc.Subtotal+calc.Tax-calc.Total), eps, "mode=%s type=%s amount=%v", s.Mode, s.CalculationType, amount)
		}
	}
}

func TestInclusiveExclusiveRoundTrip(t *testing.T) {
	cases := []tax.Settings{
		{Mode: tax.ModeSingle, SingleTaxRate: 12.5},
		gstIntra(""),
		{Mode: tax.ModeGST, GSTType: tax.Interstate, IGSTRate: 18},
	}
	for _, s := range cases {
		for _, amount := range []float64{1, 42, 999.99, 150000} {
			excl := s
			excl.CalculationType = tax.Exclusive
			incl := s
			incl.CalculationType = tax.Inclusive
			gross := tax.Calculate(amount, excl).Total
			back := tax.Calculate(gross, incl)
			require.InDelta(t, amount, back.Subtotal, 1e-6)
		}
	}
}

func TestCalculateDoesNotValidate(t *testing.T) {
	calc := tax.Calculate(100, tax.Settings{Mode: tax.ModeSingle, SingleTaxRate: -10, CalculationType: tax.Exclusive})
	require.InDelta(t, -10, calc.Tax, eps)
	require.InDelta(t, 90, calc.Total, eps)

	nan := tax.Calculate(math.NaN(), gstIntra(tax.Exclusive))
	require.True(t, math.IsNaN(nan.Total))
}

func TestBreakdownOf(t *testing.T) {
	got := tax.BreakdownOf(1000, gstIntra(tax.Exclusive))
	require.Equal(t, tax.Totals{TotalTax: 180, CGST: 90, SGST: 90}, got)

	none := tax.BreakdownOf(1000, tax.Settings{Mode: tax.ModeNone})
	require.Equal(t, tax.Totals{}, none)
}

func TestValidate(t *testing.T) {
	require.NoError(t, tax.Validate(tax.DefaultSettings()))
	require.ErrorIs(t, tax.Validate(tax.Settings{Mode: "vat", CalculationType: tax.Exclusive, GSTType: tax.Intrastate}), tax.ErrInvalidSettings)
	bad := gstIntra(tax.Exclusive)
	bad.CGSTRate = -1
	require.ErrorIs(t, tax.Validate(bad), tax.ErrInvalidSettings)
}

func TestDisplayLines(t *testing.T) {
	s := gstIntra(tax.Exclusive)
	lines := tax.DisplayLines(tax.Calculate(1000, s), s)
	require.Equal(t, []string{"CGST (9%): ₹90.00", "SGST (9%): ₹90.00"}, lines)

	single := tax.Settings{Mode: tax.ModeSingle, SingleTaxRate: 2.5, CalculationType: tax.Exclusive}
	require.Equal(t, []string{"Tax (2.5%): ₹5.00"}, tax.DisplayLines(tax.Calculate(200, single), single))

	none := tax.Settings{Mode: tax.ModeNone}
	require.Empty(t, tax.DisplayLines(tax.Calculate(200, none), none))
}
