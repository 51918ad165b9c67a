package tax

// ItemTaxType is the per-item tax class carried by catalog items.
type ItemTaxType string

const (
	ItemGST    ItemTaxType = "GST"
	ItemIGST   ItemTaxType = "IGST"
	ItemExempt ItemTaxType = "EXEMPT"
)

// ItemClass is the tax configuration attached to a single catalog item.
type ItemClass struct {
	Type     ItemTaxType `json:"taxType"`
	GSTRate  float64     `json:"gstRate,omitempty"`
	IGSTRate float64     `json:"igstRate,omitempty"`
}

// ItemCalculation is the tax owed on one cart line.
type ItemCalculation struct {
	ItemAmount  float64 `json:"itemAmount"`
	TaxAmount   float64 `json:"taxAmount"`
	CGST        float64 `json:"cgst"`
	SGST        float64 `json:"sgst"`
	IGST        float64 `json:"igst"`
	TotalAmount float64 `json:"totalAmount"`
}

// ItemTax computes tax for price x quantity. GST splits its rate evenly into
// CGST and SGST. EXEMPT, an unknown class or a zero rate yields no tax.
func ItemTax(price float64, quantity int, class ItemClass) ItemCalculation {
	amount := price * float64(quantity)
	out := ItemCalculation{ItemAmount: amount, TotalAmount: amount}

	switch {
	case class.Type == ItemGST && class.GSTRate != 0:
		out.CGST = amount * class.GSTRate / 2 / 100
		out.SGST = amount * class.GSTRate / 2 / 100
		out.TaxAmount = out.CGST + out.SGST
	case class.Type == ItemIGST && class.IGSTRate != 0:
		out.IGST = amount * class.IGSTRate / 100
		out.TaxAmount = out.IGST
	}
	out.TotalAmount = amount + out.TaxAmount
	return out
}

// Line taxes one line amount using a single precedence rule: an item that
// carries its own class (EXEMPT included) is taxed by that class and ignores
// the bill settings; an item without a class is taxed by the bill settings.
func Line(amount float64, class *ItemClass, bill Settings) Calculation {
	if class == nil {
		return Calculate(amount, bill)
	}
	item := ItemTax(amount, 1, *class)
	calc := Calculation{
		Subtotal: item.ItemAmount,
		Tax:      item.TaxAmount,
		Total:    item.ItemAmount + item.TaxAmount,
	}
	switch {
	case item.CGST != 0 || item.SGST != 0:
		calc.Breakdown = &Breakdown{CGST: ptr(item.CGST), SGST: ptr(item.SGST), Total: item.TaxAmount}
	case item.IGST != 0:
		calc.Breakdown = &Breakdown{IGST: ptr(item.IGST), Total: item.TaxAmount}
	}
	return calc
}

// Sum adds line calculations, merging their breakdown components.
func Sum(lines ...Calculation) Calculation {
	var out Calculation
	var totals Totals
	populated := false
	for _, l := range lines {
		out.Subtotal += l.Subtotal
		out.Tax += l.Tax
		if b := l.Breakdown; b != nil {
			populated = true
			totals.CGST += deref(b.CGST)
			totals.SGST += deref(b.SGST)
			totals.IGST += deref(b.IGST)
			if b.Tax != nil {
				totals.TotalTax += *b.Tax
			}
		}
	}
	out.Total = out.Subtotal + out.Tax
	if populated {
		out.Breakdown = &Breakdown{Total: out.Tax}
		if totals.TotalTax != 0 {
			out.Breakdown.Tax = ptr(totals.TotalTax)
		}
		if totals.CGST != 0 || totals.SGST != 0 {
			out.Breakdown.CGST = ptr(totals.CGST)
			out.Breakdown.SGST = ptr(totals.SGST)
		}
		if totals.IGST != 0 {
			out.Breakdown.IGST = ptr(totals.IGST)
		}
	}
	return out
}
