package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

// Key is the KV entry holding the business settings document.
const Key = "settings"

// Receipt widths in characters for 2-inch and 3-inch paper.
const (
	Width2Inch = 32
	Width3Inch = 48
)

// ErrInvalidInput flags rejected settings updates.
var ErrInvalidInput = errors.New("invalid settings")

// Business is the header printed on every bill.
type Business struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	TaxID   string `json:"taxId,omitempty"`
	Logo    string `json:"logo,omitempty"`
}

// Printer identifies the register's default receipt printer.
type Printer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Settings is the register-wide configuration document.
type Settings struct {
	Business       Business     `json:"businessInfo"`
	DefaultTaxRate float64      `json:"defaultTaxRate"`
	Tax            tax.Settings `json:"taxSettings"`
	PrimaryPrinter *Printer     `json:"primaryPrinter,omitempty"`
	AutoPrint      bool         `json:"autoPrint"`
	ReceiptWidth   int          `json:"receiptWidth"`
}

// Defaults returns the settings used before anything is saved.
func Defaults() Settings {
	return Settings{
		Business: Business{
			Name:    "My Business",
			Address: "123 Business St, City",
		},
		DefaultTaxRate: 0,
		Tax:            tax.DefaultSettings(),
		ReceiptWidth:   Width2Inch,
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Business       *Business     `json:"businessInfo"`
	DefaultTaxRate *float64      `json:"defaultTaxRate"`
	Tax            *tax.Settings `json:"taxSettings"`
	PrimaryPrinter *Printer      `json:"primaryPrinter"`
	AutoPrint      *bool         `json:"autoPrint"`
	ReceiptWidth   *int          `json:"receiptWidth"`
}

// Store loads and saves settings through a kv.Store.
type Store struct {
	kv     kv.Store
	logger zerolog.Logger
}

// NewStore constructs a Store.
func NewStore(store kv.Store, logger zerolog.Logger) *Store {
	return &Store{kv: store, logger: logger}
}

// Get returns the saved settings merged over the defaults. Read failures are
// logged and answered with the defaults.
func (s *Store) Get(ctx context.Context) Settings {
	out := Defaults()
	if s == nil || s.kv == nil {
		return out
	}
	if _, err := kv.GetJSON(ctx, s.kv, Key, &out); err != nil {
		s.logger.Error().Err(err).Msg("settings_load_failed")
		return Defaults()
	}
	if out.ReceiptWidth != Width3Inch {
		out.ReceiptWidth = Width2Inch
	}
	return out
}

// Update applies the patch and persists the result.
func (s *Store) Update(ctx context.Context, p Patch) (Settings, error) {
	if s == nil || s.kv == nil {
		return Settings{}, errors.New("settings store not configured")
	}
	cur := s.Get(ctx)
	if p.Business != nil {
		if p.Business.Name == "" {
			return Settings{}, fmt.Errorf("business name is required: %w", ErrInvalidInput)
		}
		cur.Business = *p.Business
	}
	if p.DefaultTaxRate != nil {
		if *p.DefaultTaxRate < 0 || *p.DefaultTaxRate > 100 {
			return Settings{}, fmt.Errorf("default tax rate out of range: %w", ErrInvalidInput)
		}
		cur.DefaultTaxRate = *p.DefaultTaxRate
	}
	if p.Tax != nil {
		if err := tax.Validate(*p.Tax); err != nil {
			return Settings{}, fmt.Errorf("%v: %w", err, ErrInvalidInput)
		}
		cur.Tax = *p.Tax
	}
	if p.PrimaryPrinter != nil {
		if p.PrimaryPrinter.Address == "" {
			cur.PrimaryPrinter = nil
		} else {
			pr := *p.PrimaryPrinter
			cur.PrimaryPrinter = &pr
		}
	}
	if p.AutoPrint != nil {
		cur.AutoPrint = *p.AutoPrint
	}
	if p.ReceiptWidth != nil {
		if *p.ReceiptWidth != Width2Inch && *p.ReceiptWidth != Width3Inch {
			return Settings{}, fmt.Errorf("receipt width must be %d or %d: %w", Width2Inch, Width3Inch, ErrInvalidInput)
		}
		cur.ReceiptWidth = *p.ReceiptWidth
	}
	if err := kv.SetJSON(ctx, s.kv, Key, cur, 0); err != nil {
		s.logger.Error().Err(err).Msg("settings_save_failed")
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return cur, nil
}
