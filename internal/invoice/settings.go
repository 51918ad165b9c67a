package invoice

import (
	"errors"
	"fmt"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

// Format selects how invoice numbers are composed.
type Format string

const (
	FormatDateBased  Format = "date_based"
	FormatSequential Format = "sequential"
	FormatCustom     Format = "custom"
)

// DateFormat is the layout of the date part.
type DateFormat string

const (
	DateMMDD     DateFormat = "MMDD"
	DateDDMM     DateFormat = "DDMM"
	DateYYYYMMDD DateFormat = "YYYYMMDD"
	DateYYMMDD   DateFormat = "YYMMDD"
)

// ErrInvalidSettings wraps validation failures of numbering settings.
var ErrInvalidSettings = errors.New("invalid invoice numbering settings")

// Settings configures invoice numbering. ResetDaily and ResetMonthly are
// mutually exclusive; when both are set daily wins.
type Settings struct {
	Format       Format     `json:"format" validate:"oneof=date_based sequential custom"`
	DateFormat   DateFormat `json:"dateFormat" validate:"oneof=MMDD DDMM YYYYMMDD YYMMDD"`
	ResetDaily   bool       `json:"resetDaily"`
	ResetMonthly bool       `json:"resetMonthly"`
	Prefix       string     `json:"prefix" validate:"max=16"`
	Suffix       string     `json:"suffix" validate:"max=16"`
	StartNumber  int        `json:"startNumber" validate:"gte=1"`
	MinDigits    int        `json:"minDigits" validate:"gte=1,lte=12"`
	Separator    string     `json:"separator" validate:"max=3"`
}

// DefaultSettings yields numbers like 0315_001 restarting every day.
func DefaultSettings() Settings {
	return Settings{
		Format:       FormatDateBased,
		DateFormat:   DateMMDD,
		ResetDaily:   true,
		ResetMonthly: false,
		Prefix:       "",
		Suffix:       "",
		StartNumber:  1,
		MinDigits:    3,
		Separator:    "_",
	}
}

// Patch carries a partial settings update; nil fields are left unchanged.
type Patch struct {
	Format       *Format     `json:"format"`
	DateFormat   *DateFormat `json:"dateFormat"`
	ResetDaily   *bool       `json:"resetDaily"`
	ResetMonthly *bool       `json:"resetMonthly"`
	Prefix       *string     `json:"prefix"`
	Suffix       *string     `json:"suffix"`
	StartNumber  *int        `json:"startNumber"`
	MinDigits    *int        `json:"minDigits"`
	Separator    *string     `json:"separator"`
}

// Apply merges p over s and resolves the reset flag conflict: turning one
// flag on through the patch turns the other off.
func (s Settings) Apply(p Patch) Settings {
	out := s
	if p.Format != nil {
		out.Format = *p.Format
	}
	if p.DateFormat != nil {
		out.DateFormat = *p.DateFormat
	}
	if p.ResetDaily != nil {
		out.ResetDaily = *p.ResetDaily
	}
	if p.ResetMonthly != nil {
		out.ResetMonthly = *p.ResetMonthly
	}
	if p.Prefix != nil {
		out.Prefix = *p.Prefix
	}
	if p.Suffix != nil {
		out.Suffix = *p.Suffix
	}
	if p.StartNumber != nil {
		out.StartNumber = *p.StartNumber
	}
	if p.MinDigits != nil {
		out.MinDigits = *p.MinDigits
	}
	if p.Separator != nil {
		out.Separator = *p.Separator
	}
	if out.ResetDaily && out.ResetMonthly {
		if p.ResetMonthly != nil && *p.ResetMonthly && p.ResetDaily == nil {
			out.ResetDaily = false
		} else {
			out.ResetMonthly = false
		}
	}
	return out
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks field ranges.
func (s Settings) Validate() error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed %s: %w", verrs[0].Field(), verrs[0].Tag(), ErrInvalidSettings)
		}
		return fmt.Errorf("%v: %w", err, ErrInvalidSettings)
	}
	return nil
}
