package customer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when a customer does not exist.
	ErrNotFound = errors.New("customer not found")
	// ErrInvalidInput flags rejected customer payloads.
	ErrInvalidInput = errors.New("invalid customer")
	// ErrDuplicatePhone is returned when another customer owns the phone number.
	ErrDuplicatePhone = errors.New("phone number already registered")
)

// Source records how a customer entered the system.
type Source string

const (
	SourceManual  Source = "manual"
	SourceBilling Source = "billing"
	SourceImport  Source = "import"
)

// Customer is a buyer known to the register.
type Customer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email,omitempty"`
	Address     string    `json:"address,omitempty"`
	GSTNumber   string    `json:"gstNumber,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Tags        []string  `json:"tags"`
	CreatedFrom Source    `json:"createdFrom"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Stats aggregates a customer's paid bills.
type Stats struct {
	TotalPurchases    float64    `json:"totalPurchases"`
	TotalTransactions int        `json:"totalTransactions"`
	LastPurchaseDate  *time.Time `json:"lastPurchaseDate,omitempty"`
}

// WithStats pairs a customer with purchase statistics.
type WithStats struct {
	Customer
	Stats
}

// Input is the create and update payload.
type Input struct {
	Name      string   `json:"name" validate:"required,min=2,max=100"`
	Phone     string   `json:"phone" validate:"required,phone"`
	Email     string   `json:"email" validate:"omitempty,email"`
	Address   string   `json:"address" validate:"max=500"`
	GSTNumber string   `json:"gstNumber" validate:"omitempty,gstin"`
	Notes     string   `json:"notes" validate:"max=1000"`
	Tags      []string `json:"tags" validate:"max=20,dive,max=40"`
	IsActive  *bool    `json:"isActive"`
}

var (
	phonePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
	gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("gstin", func(fl validator.FieldLevel) bool {
			return gstinPattern.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// NormalizePhone strips formatting and a leading +91 or 0 from a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		digits = digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}
	return digits
}

func (in *Input) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = NormalizePhone(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	in.Address = strings.TrimSpace(in.Address)
	in.GSTNumber = strings.ToUpper(strings.TrimSpace(in.GSTNumber))
	in.Notes = strings.TrimSpace(in.Notes)
	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	in.Tags = tags
}

// Validate normalizes in and checks it.
func (in *Input) Validate() error {
	in.normalize()
	if err := validatorInstance().Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed %s: %w", verrs[0].Field(), verrs[0].Tag(), ErrInvalidInput)
		}
		return fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	return nil
}
