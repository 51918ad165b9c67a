package tax

import (
	"fmt"
	"strconv"
)

// CurrencySymbol prefixes amounts in display lines.
const CurrencySymbol = "₹"

// DisplayLines renders human readable tax lines such as "CGST (9%): ₹90.00".
// Components that are absent or zero are skipped.
func DisplayLines(calc Calculation, s Settings) []string {
	lines := []string{}
	b := calc.Breakdown
	if s.Mode == ModeNone || b == nil {
		return lines
	}
	switch s.Mode {
	case ModeSingle:
		if deref(b.Tax) != 0 {
			lines = append(lines, line("Tax", s.SingleTaxRate, *b.Tax))
		}
	case ModeGST:
		if deref(b.CGST) != 0 {
			lines = append(lines, line("CGST", s.CGSTRate, *b.CGST))
		}
		if deref(b.SGST) != 0 {
			lines = append(lines, line("SGST", s.SGSTRate, *b.SGST))
		}
		if deref(b.IGST) != 0 {
			lines = append(lines, line("IGST", s.IGSTRate, *b.IGST))
		}
	}
	return lines
}

// FormatRate prints a percentage without trailing zeros (9, 2.5).
func FormatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}

func line(label string, rate, amount float64) string {
	return fmt.Sprintf("%s (%s%%): %s%.2f", label, FormatRate(rate), CurrencySymbol, amount)
}
