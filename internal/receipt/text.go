// Package receipt renders bills for thermal printers and share sheets and
// drives the print queue.
package receipt

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noah-isme/backend-kasir/internal/billing"
	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

const (
	defaultBusinessName    = "Your Business Name"
	defaultBusinessAddress = "Your Business Address"
	footerThanks           = "Thank you for shopping!"
	footerPowered          = "Powered by QuickBill"
)

// layout holds the column geometry of one paper size. Item columns add up
// to the paper width.
type layout struct {
	width     int
	billLabel string
	infoPad   int
	itemLabel string
	amtLabel  string
	nameMax   int
	namePad   int
	qtyPad    int
	pricePad  int
	totalPad  int
	labelPad  int
	amountPad int
	rateSpace string
	rule      string
}

var (
	twoInch = layout{
		width:     settings.Width2Inch,
		billLabel: "Bill: ",
		infoPad:   16,
		itemLabel: "ITEM",
		amtLabel:  "AMT",
		nameMax:   13,
		namePad:   14,
		qtyPad:    3,
		pricePad:  7,
		totalPad:  8,
		labelPad:  24,
		amountPad: 8,
		rule:      strings.Repeat(" ", 24) + "--------",
	}
	threeInch = layout{
		width:     settings.Width3Inch,
		billLabel: "Bill No: ",
		infoPad:   30,
		itemLabel: "ITEM DESCRIPTION",
		amtLabel:  "AMOUNT",
		nameMax:   23,
		namePad:   24,
		qtyPad:    8,
		pricePad:  8,
		totalPad:  8,
		labelPad:  39,
		amountPad: 9,
		rateSpace: " ",
		rule:      strings.Repeat(" ", 39) + "---------",
	}
)

func (l layout) columns(name, qty, price, total string) string {
	return pad(name, l.namePad) + padLeft(qty, l.qtyPad) + padLeft(price, l.pricePad) + padLeft(total, l.totalPad)
}

func layoutFor(width int) layout {
	if width == settings.Width3Inch {
		return threeInch
	}
	return twoInch
}

var bracketed = regexp.MustCompile(`\s*\([^)]*\)\s*`)

// ValidWidth reports whether width is a supported paper width.
func ValidWidth(width int) bool {
	return width == settings.Width2Inch || width == settings.Width3Inch
}

// Text renders the plain-text receipt for a 32 or 48 column printer. Times
// are shown in loc; a nil loc means UTC.
func Text(b billing.Bill, width int, loc *time.Location) string {
	l := layoutFor(width)
	if loc == nil {
		loc = time.UTC
	}
	double := strings.Repeat("=", l.width)
	single := strings.Repeat("-", l.width)

	var sb strings.Builder
	writeln := func(s string) {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	name, address := businessHeader(b.Business)
	writeln(double)
	writeln(center(strings.ToUpper(name), l.width))
	writeln(center(address, l.width))
	if b.Business.Phone != "" {
		writeln(center("Tel: "+b.Business.Phone, l.width))
	}
	if b.Business.TaxID != "" {
		writeln(center("GST: "+b.Business.TaxID, l.width))
	}
	writeln(double)
	writeln("")

	created := b.CreatedAt.In(loc)
	// Long invoice numbers get a line of their own so the date stays on
	// the paper.
	billInfo := l.billLabel + BillNumber(b)
	if len(billInfo) >= l.infoPad {
		writeln(billInfo)
		billInfo = ""
	}
	writeln(pad(billInfo, l.infoPad) + "Date: " + created.Format("02/01/2006"))
	writeln(pad("", l.infoPad) + "Time: " + created.Format("03:04 PM"))
	writeln("")

	writeln("Cust: " + b.CustomerName)
	if b.CustomerPhone != "" {
		writeln("Ph: " + b.CustomerPhone)
	}
	writeln("")
	writeln(single)
	writeln(l.columns(l.itemLabel, "QTY", "RATE", l.amtLabel))
	writeln(single)
	for _, it := range b.Items {
		itemName := bracketed.ReplaceAllString(it.Name, "")
		writeln(l.columns(truncate(itemName, l.nameMax), fmt.Sprint(it.Quantity), money(it.Price), money(it.Price*float64(it.Quantity))))
	}
	writeln(single)

	if width == settings.Width3Inch {
		writeln("")
	}
	total := func(label string, amount float64) {
		writeln(pad(label, l.labelPad) + padLeft(money(amount), l.amountPad))
	}
	total("Subtotal:", b.Subtotal)
	if b.TaxRate > 0 {
		half := b.TaxRate / 2
		component := b.Subtotal * half / 100
		rate := tax.FormatRate(half)
		total("CGST"+l.rateSpace+"("+rate+"%):", component)
		total("SGST"+l.rateSpace+"("+rate+"%):", component)
	}
	if b.Discount > 0 {
		total("Discount:", b.Discount)
	}
	writeln(l.rule)
	total("TOTAL:", b.Total)
	writeln("")

	writeln("Payment: " + strings.ToUpper(PaymentLabel(b.PaymentMethod)))
	if b.Notes != "" {
		writeln("")
		writeln(single)
		writeln(center("Notes", l.width))
		writeln(b.Notes)
	}
	writeln("")
	writeln(double)
	writeln(center(footerThanks, l.width))
	writeln(center(footerPowered, l.width))
	writeln(double)
	return sb.String()
}

// BillNumber is the invoice number, or the first eight characters of the
// bill id for bills saved without one.
func BillNumber(b billing.Bill) string {
	if b.InvoiceNumber != "" {
		return b.InvoiceNumber
	}
	if len(b.ID) > 8 {
		return b.ID[:8]
	}
	return b.ID
}

// PaymentLabel turns bank_transfer into "Bank Transfer". A Caser keeps
// state, so each call builds its own.
func PaymentLabel(m cart.PaymentMethod) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(m), "_", " "))
}

func businessHeader(b billing.Business) (string, string) {
	name, address := b.Name, b.Address
	if name == "" {
		name = defaultBusinessName
	}
	if address == "" {
		address = defaultBusinessAddress
	}
	return name, address
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func padLeft(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}

// center left-pads s so it sits in the middle of width; no right padding.
func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", (width-len(s))/2) + s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
