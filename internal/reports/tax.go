package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/backend-kasir/internal/subscription"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

// TaxLine is one sold line of a paid bill, with the bill's discount.
type TaxLine struct {
	BillID   string
	Discount float64
	Name     string
	Price    float64
	Quantity int
	TaxClass *tax.ItemClass
}

// ItemTaxRow aggregates the tax collected on one item name.
type ItemTaxRow struct {
	Name     string  `json:"itemName"`
	Quantity int     `json:"quantity"`
	Amount   float64 `json:"amount"`
	CGST     float64 `json:"cgst"`
	SGST     float64 `json:"sgst"`
	IGST     float64 `json:"igst"`
	TotalTax float64 `json:"totalTax"`
}

// TaxReport is the GST summary for a period. Only lines whose item carries a
// tax class are taxed; the rest count as non-taxable sales. Bill discounts
// are spread over taxable and non-taxable sales in proportion.
type TaxReport struct {
	BillCount       int          `json:"billCount"`
	TotalSales      float64      `json:"totalSales"`
	TotalTax        float64      `json:"totalTaxCollected"`
	CGST            float64      `json:"cgst"`
	SGST            float64      `json:"sgst"`
	IGST            float64      `json:"igst"`
	TaxableSales    float64      `json:"taxableSales"`
	NonTaxableSales float64      `json:"nonTaxableSales"`
	Items           []ItemTaxRow `json:"itemWiseTax"`
}

// TaxSummary builds the GST report for [from, to).
func (s *Service) TaxSummary(ctx context.Context, from, to time.Time) (TaxReport, error) {
	if s == nil || s.Q == nil {
		return TaxReport{}, errors.New("reports service not configured")
	}
	if err := s.Gate.Feature(ctx, subscription.FeatureReports); err != nil {
		return TaxReport{}, err
	}
	if !from.Before(to) {
		return TaxReport{}, ErrInvalidRange
	}
	key := cacheKey("reports", "tax", from.Unix(), to.Unix())
	var report TaxReport
	if s.load(ctx, key, &report) {
		return report, nil
	}
	lines, err := s.Q.TaxLines(ctx, from, to)
	if err != nil {
		return TaxReport{}, fmt.Errorf("tax report: %w", err)
	}
	report = summarizeTax(lines)
	s.store(ctx, key, report)
	return report, nil
}

type billTotals struct {
	discount   float64
	subtotal   float64
	tax        float64
	taxable    float64
	nonTaxable float64
}

// summarizeTax expects lines grouped by bill.
func summarizeTax(lines []TaxLine) TaxReport {
	report := TaxReport{Items: []ItemTaxRow{}}
	byName := map[string]*ItemTaxRow{}
	var (
		current string
		bill    billTotals
	)
	flush := func() {
		if current == "" {
			return
		}
		report.BillCount++
		if bill.discount > 0 && bill.subtotal > 0 {
			bill.taxable -= bill.discount * bill.taxable / bill.subtotal
			bill.nonTaxable -= bill.discount * bill.nonTaxable / bill.subtotal
		}
		report.TaxableSales += bill.taxable
		report.NonTaxableSales += bill.nonTaxable
		report.TotalSales += bill.subtotal + bill.tax - bill.discount
		report.TotalTax += bill.tax
	}
	for _, l := range lines {
		if l.BillID != current {
			flush()
			current = l.BillID
			bill = billTotals{discount: l.Discount}
		}
		var calc tax.ItemCalculation
		if l.TaxClass != nil {
			calc = tax.ItemTax(l.Price, l.Quantity, *l.TaxClass)
		} else {
			calc = tax.ItemTax(l.Price, l.Quantity, tax.ItemClass{Type: tax.ItemExempt})
		}
		bill.subtotal += calc.ItemAmount
		bill.tax += calc.TaxAmount
		report.CGST += calc.CGST
		report.SGST += calc.SGST
		report.IGST += calc.IGST
		if calc.TaxAmount <= 0 {
			bill.nonTaxable += calc.ItemAmount
			continue
		}
		bill.taxable += calc.ItemAmount
		row, ok := byName[l.Name]
		if !ok {
			row = &ItemTaxRow{Name: l.Name}
			byName[l.Name] = row
		}
		row.Quantity += l.Quantity
		row.Amount += calc.ItemAmount
		row.CGST += calc.CGST
		row.SGST += calc.SGST
		row.IGST += calc.IGST
		row.TotalTax += calc.TaxAmount
	}
	flush()
	for _, row := range byName {
		report.Items = append(report.Items, *row)
	}
	sort.Slice(report.Items, func(i, j int) bool {
		if report.Items[i].TotalTax != report.Items[j].TotalTax {
			return report.Items[i].TotalTax > report.Items[j].TotalTax
		}
		return report.Items[i].Name < report.Items[j].Name
	})
	return report
}
