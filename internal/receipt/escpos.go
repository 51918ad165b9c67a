package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-kasir/internal/billing"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

// ESC/POS control bytes.
const (
	esc = 0x1B
	gs  = 0x1D
	lf  = 0x0A
)

// Alignment arguments for ESC a.
const (
	AlignLeft   = 0
	AlignCenter = 1
	AlignRight  = 2
)

// Character sizes for GS !.
const (
	FontNormal = 0x00
	FontDouble = 0x11
	FontTall   = 0x01
)

// Document accumulates an ESC/POS byte stream.
type Document struct {
	buf   bytes.Buffer
	width int
}

// NewDocument starts a document for a printer width in characters.
func NewDocument(width int) *Document {
	if !ValidWidth(width) {
		width = settings.Width2Inch
	}
	d := &Document{width: width}
	return d.Init()
}

// Init resets the printer (ESC @).
func (d *Document) Init() *Document {
	d.buf.Write([]byte{esc, '@'})
	return d
}

// Align sets the justification for following lines.
func (d *Document) Align(a int) *Document {
	d.buf.Write([]byte{esc, 'a', byte(a)})
	return d
}

// Bold toggles emphasis.
func (d *Document) Bold(on bool) *Document {
	var b byte
	if on {
		b = 1
	}
	d.buf.Write([]byte{esc, 'E', b})
	return d
}

// Size sets the character size.
func (d *Document) Size(s byte) *Document {
	d.buf.Write([]byte{gs, '!', s})
	return d
}

// Line writes s and a line feed.
func (d *Document) Line(s string) *Document {
	d.buf.WriteString(s)
	d.buf.WriteByte(lf)
	return d
}

// Rule prints a full-width line of c.
func (d *Document) Rule(c byte) *Document {
	return d.Line(strings.Repeat(string(c), d.width))
}

// KeyValue prints key flush left and value flush right.
func (d *Document) KeyValue(key, value string) *Document {
	gap := d.width - len(key) - len(value)
	if gap < 1 {
		gap = 1
	}
	return d.Line(key + strings.Repeat(" ", gap) + value)
}

// Feed prints n empty lines.
func (d *Document) Feed(n int) *Document {
	for i := 0; i < n; i++ {
		d.buf.WriteByte(lf)
	}
	return d
}

// Cut performs a partial cut (GS V 1).
func (d *Document) Cut() *Document {
	d.buf.Write([]byte{gs, 'V', 0x01})
	return d
}

// Bytes returns the stream built so far.
func (d *Document) Bytes() []byte {
	return d.buf.Bytes()
}

// ESCPOS renders b as a printer byte stream with the same content as Text.
func ESCPOS(b billing.Bill, width int, loc *time.Location) []byte {
	if loc == nil {
		loc = time.UTC
	}
	d := NewDocument(width)
	name, address := businessHeader(b.Business)

	d.Align(AlignCenter).Bold(true).Size(FontDouble).Line(strings.ToUpper(name)).Size(FontNormal).Bold(false)
	d.Line(address)
	if b.Business.Phone != "" {
		d.Line("Tel: " + b.Business.Phone)
	}
	if b.Business.TaxID != "" {
		d.Line("GST: " + b.Business.TaxID)
	}
	d.Align(AlignLeft).Rule('=')

	created := b.CreatedAt.In(loc)
	d.KeyValue("Bill: "+BillNumber(b), created.Format("02/01/2006"))
	d.KeyValue("Cust: "+b.CustomerName, created.Format("03:04 PM"))
	if b.CustomerPhone != "" {
		d.Line("Ph: " + b.CustomerPhone)
	}
	d.Rule('-')
	for _, it := range b.Items {
		d.Line(bracketed.ReplaceAllString(it.Name, ""))
		d.KeyValue(fmt.Sprintf("  %d x %s", it.Quantity, money(it.Price)), money(it.Price*float64(it.Quantity)))
	}
	d.Rule('-')

	d.KeyValue("Subtotal", money(b.Subtotal))
	if b.TaxRate > 0 {
		half := b.TaxRate / 2
		component := money(b.Subtotal * half / 100)
		d.KeyValue(fmt.Sprintf("CGST (%s%%)", tax.FormatRate(half)), component)
		d.KeyValue(fmt.Sprintf("SGST (%s%%)", tax.FormatRate(half)), component)
	}
	if b.Discount > 0 {
		d.KeyValue("Discount", "-"+money(b.Discount))
	}
	d.Bold(true).Size(FontTall).KeyValue("TOTAL", money(b.Total)).Size(FontNormal).Bold(false)
	d.Line("Payment: " + PaymentLabel(b.PaymentMethod))
	if b.Notes != "" {
		d.Rule('-').Line(b.Notes)
	}
	d.Rule('=').Align(AlignCenter).Line(footerThanks).Line(footerPowered)
	return d.Feed(3).Cut().Bytes()
}
