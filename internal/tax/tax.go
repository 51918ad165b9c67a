package tax

import (
	"errors"
	"fmt"
)

// Mode selects which tax regime applies to a bill.
type Mode string

const (
	ModeNone   Mode = "no_tax"
	ModeSingle Mode = "single_tax"
	ModeGST    Mode = "gst"
)

// CalculationType states whether the amount already contains tax.
type CalculationType string

const (
	Exclusive CalculationType = "exclusive"
	Inclusive CalculationType = "inclusive"
)

// GSTType picks between the CGST+SGST split and IGST.
type GSTType string

const (
	Intrastate GSTType = "intrastate"
	Interstate GSTType = "interstate"
)

// ErrInvalidSettings is returned by Validate for unusable settings.
var ErrInvalidSettings = errors.New("invalid tax settings")

// Settings describes bill-level taxation.
type Settings struct {
	Mode            Mode            `json:"mode"`
	SingleTaxRate   float64         `json:"singleTaxRate"`
	CGSTRate        float64         `json:"cgstRate"`
	SGSTRate        float64         `json:"sgstRate"`
	IGSTRate        float64         `json:"igstRate"`
	CalculationType CalculationType `json:"calculationType"`
	GSTType         GSTType         `json:"gstType"`
}

// DefaultSettings returns settings that apply no tax.
func DefaultSettings() Settings {
	return Settings{
		Mode:            ModeNone,
		CGSTRate:        9,
		SGSTRate:        9,
		IGSTRate:        18,
		CalculationType: Exclusive,
		GSTType:         Intrastate,
	}
}

// Breakdown lists the populated tax components. Nil fields were not computed
// for the selected mode.
type Breakdown struct {
	Tax   *float64 `json:"tax,omitempty"`
	CGST  *float64 `json:"cgst,omitempty"`
	SGST  *float64 `json:"sgst,omitempty"`
	IGST  *float64 `json:"igst,omitempty"`
	Total float64  `json:"total"`
}

// Calculation is the result of applying Settings to an amount.
// Subtotal + Tax == Total always holds.
type Calculation struct {
	Subtotal  float64    `json:"subtotal"`
	Tax       float64    `json:"tax"`
	Total     float64    `json:"total"`
	Breakdown *Breakdown `json:"breakdown"`
}

// Totals is the flattened component view of a Calculation.
type Totals struct {
	TotalTax float64 `json:"totalTax"`
	CGST     float64 `json:"cgst"`
	SGST     float64 `json:"sgst"`
	IGST     float64 `json:"igst"`
}

// Calculate applies the settings to amount. Inputs are not validated:
// negative or NaN values flow through the arithmetic unchanged.
func Calculate(amount float64, s Settings) Calculation {
	if s.Mode == ModeNone {
		return Calculation{Subtotal: amount, Tax: 0, Total: amount}
	}

	subtotal := amount
	var (
		taxAmount float64
		breakdown *Breakdown
	)

	if s.CalculationType == Inclusive {
		switch s.Mode {
		case ModeSingle:
			subtotal = amount / (1 + s.SingleTaxRate/100)
			taxAmount = amount - subtotal
			breakdown = &Breakdown{Tax: ptr(taxAmount), Total: taxAmount}
		case ModeGST:
			rate := s.IGSTRate
			if s.GSTType == Intrastate {
				rate = s.CGSTRate + s.SGSTRate
			}
			subtotal = amount / (1 + rate/100)
			taxAmount = amount - subtotal
			if s.GSTType == Intrastate {
				breakdown = &Breakdown{
					CGST:  ptr(subtotal * s.CGSTRate / 100),
					SGST:  ptr(subtotal * s.SGSTRate / 100),
					Total: taxAmount,
				}
			} else {
				breakdown = &Breakdown{IGST: ptr(subtotal * s.IGSTRate / 100), Total: taxAmount}
			}
		}
	} else {
		switch s.Mode {
		case ModeSingle:
			taxAmount = amount * s.SingleTaxRate / 100
			breakdown = &Breakdown{Tax: ptr(taxAmount), Total: taxAmount}
		case ModeGST:
			if s.GSTType == Intrastate {
				cgst := amount * s.CGSTRate / 100
				sgst := amount * s.SGSTRate / 100
				taxAmount = cgst + sgst
				breakdown = &Breakdown{CGST: ptr(cgst), SGST: ptr(sgst), Total: taxAmount}
			} else {
				igst := amount * s.IGSTRate / 100
				taxAmount = igst
				breakdown = &Breakdown{IGST: ptr(igst), Total: taxAmount}
			}
		}
	}

	return Calculation{
		Subtotal:  subtotal,
		Tax:       taxAmount,
		Total:     subtotal + taxAmount,
		Breakdown: breakdown,
	}
}

// BreakdownOf flattens Calculate into per-component totals, zero when absent.
func BreakdownOf(amount float64, s Settings) Totals {
	calc := Calculate(amount, s)
	out := Totals{TotalTax: calc.Tax}
	if b := calc.Breakdown; b != nil {
		out.CGST = deref(b.CGST)
		out.SGST = deref(b.SGST)
		out.IGST = deref(b.IGST)
	}
	return out
}

// Validate rejects settings the settings API should not persist. The
// calculator itself never calls it.
func Validate(s Settings) error {
	switch s.Mode {
	case ModeNone, ModeSingle, ModeGST:
	default:
		return fmt.Errorf("unknown mode %q: %w", s.Mode, ErrInvalidSettings)
	}
	switch s.CalculationType {
	case Inclusive, Exclusive:
	default:
		return fmt.Errorf("unknown calculation type %q: %w", s.CalculationType, ErrInvalidSettings)
	}
	switch s.GSTType {
	case Intrastate, Interstate:
	default:
		return fmt.Errorf("unknown gst type %q: %w", s.GSTType, ErrInvalidSettings)
	}
	for name, rate := range map[string]float64{
		"singleTaxRate": s.SingleTaxRate,
		"cgstRate":      s.CGSTRate,
		"sgstRate":      s.SGSTRate,
		"igstRate":      s.IGSTRate,
	} {
		if rate < 0 || rate > 100 {
			return fmt.Errorf("%s out of range: %w", name, ErrInvalidSettings)
		}
	}
	return nil
}

func ptr(v float64) *float64 { return &v }

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
