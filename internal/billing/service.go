package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/customer"
	"github.com/noah-isme/backend-kasir/internal/db"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/invoice"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

// Carts is the slice of the cart service checkout needs.
type Carts interface {
	WithCart(ctx context.Context, id string, fn func(context.Context, *cart.Cart) error) error
	Reset(ctx context.Context, c *cart.Cart) error
}

// Numbers allocates and compensates invoice numbers.
type Numbers interface {
	Generate(ctx context.Context) invoice.Allocation
	Release(ctx context.Context, a invoice.Allocation) error
}

// SettingsSource supplies business metadata.
type SettingsSource interface {
	Get(ctx context.Context) settings.Settings
}

// Customers creates directory entries for walk-in customers.
type Customers interface {
	EnsureFromBilling(ctx context.Context, name, phone string) (*customer.Customer, error)
}

// Publisher emits domain events.
type Publisher interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// maxInvoiceAttempts bounds how many taken invoice numbers one checkout
// skips before giving up.
const maxInvoiceAttempts = 25

// Service implements bill use cases.
type Service struct {
	repo         Repository
	carts        Carts
	numbers      Numbers
	settings     SettingsSource
	customers    Customers
	events       Publisher
	gate         subscription.Gate
	logger       zerolog.Logger
	now          func() time.Time
	defaultLimit int
	maxLimit     int
	checkoutMs   metric.Float64Histogram
}

// ServiceConfig groups Service dependencies. Customers and Events are
// optional.
type ServiceConfig struct {
	Repo         Repository
	Carts        Carts
	Numbers      Numbers
	Settings     SettingsSource
	Customers    Customers
	Events       Publisher
	Gate         subscription.Gate
	Logger       zerolog.Logger
	Now          func() time.Time
	DefaultLimit int
	MaxLimit     int
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Repo == nil:
		return nil, errors.New("billing repository is required")
	case cfg.Carts == nil:
		return nil, errors.New("cart service is required")
	case cfg.Numbers == nil:
		return nil, errors.New("invoice generator is required")
	case cfg.Settings == nil:
		return nil, errors.New("settings store is required")
	}
	hist, err := otel.Meter("billing").Float64Histogram("billing.checkout.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time from checkout request to committed bill."))
	if err != nil {
		return nil, fmt.Errorf("checkout histogram: %w", err)
	}
	s := &Service{
		repo:         cfg.Repo,
		carts:        cfg.Carts,
		numbers:      cfg.Numbers,
		settings:     cfg.Settings,
		customers:    cfg.Customers,
		events:       cfg.Events,
		gate:         cfg.Gate,
		logger:       cfg.Logger,
		now:          cfg.Now,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		checkoutMs:   hist,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 50
	}
	if s.maxLimit <= 0 {
		s.maxLimit = 200
	}
	return s, nil
}

// CreateFromCart checks the cart out into a bill. The bill and the stock
// decrements commit in one transaction; if that fails the invoice number is
// released. Numbers already held by older bills are skipped, not released.
// A failure to clear the cart afterwards is logged and the bill stands.
func (s *Service) CreateFromCart(ctx context.Context, cartID string) (Bill, error) {
	start := time.Now()
	ctx, span := otel.Tracer("billing").Start(ctx, "billing.create_from_cart")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", cartID))

	var bill Bill
	err := s.carts.WithCart(ctx, cartID, func(ctx context.Context, c *cart.Cart) error {
		if c.Empty() {
			return ErrEmptyCart
		}
		if err := s.checkQuota(ctx); err != nil {
			return err
		}
		cfg := s.settings.Get(ctx)
		s.attachCustomer(ctx, c)

		registerID, _ := common.RegisterID(ctx)
		billID := uuid.NewString()
		for attempt := 1; ; attempt++ {
			alloc := s.numbers.Generate(ctx)
			bill = Snapshot(c, BusinessFrom(cfg.Business), alloc, s.now())
			bill.ID = billID
			bill.RegisterID = registerID

			err := s.persist(ctx, bill)
			if err == nil {
				break
			}
			if !db.IsUniqueViolation(err) {
				s.compensate(ctx, alloc)
				return fmt.Errorf("persist bill: %w", err)
			}
			// The number already belongs to an older bill (same date last
			// year, or counters were reset). Keep the counter advanced and
			// take the next one.
			s.logger.Warn().Str("invoice_number", alloc.Number).Int("attempt", attempt).Msg("invoice_number_taken")
			if attempt >= maxInvoiceAttempts {
				return common.NewAppError("INVOICE_CONFLICT", "invoice number already used, please retry", http.StatusConflict, err)
			}
		}

		if err := s.carts.Reset(ctx, c); err != nil {
			s.logger.Warn().Err(err).Str("cart_id", c.ID).Str("bill_id", bill.ID).Msg("cart_clear_failed")
		}
		return nil
	})
	if err != nil {
		obs.RecordBillCreated("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Bill{}, err
	}

	result := "ok"
	if bill.InvoiceFallback {
		result = "fallback"
	}
	obs.RecordBillCreated(result)
	s.checkoutMs.Record(ctx, obs.DurationMillis(time.Since(start)), metric.WithAttributes(attribute.String("result", result)))
	span.SetAttributes(attribute.String("bill.id", bill.ID), attribute.String("invoice.number", bill.InvoiceNumber))
	s.logger.Info().
		Str("bill_id", bill.ID).
		Str("invoice_number", bill.InvoiceNumber).
		Float64("total", bill.Total).
		Msg("bill_created")

	s.emit(ctx, events.TopicBillCreated, bill.ID, map[string]any{
		"invoiceNumber": bill.InvoiceNumber,
		"total":         bill.Total,
		"registerId":    bill.RegisterID,
	})
	return bill, nil
}

func (s *Service) checkQuota(ctx context.Context) error {
	if !s.gate.Enabled {
		return nil
	}
	count, err := s.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("count bills: %w", err)
	}
	return s.gate.Bills(ctx, count)
}

// attachCustomer links a named walk-in customer to the directory. Failures
// only cost the link, never the sale.
func (s *Service) attachCustomer(ctx context.Context, c *cart.Cart) {
	if s.customers == nil || c.CustomerID != "" || c.CustomerName == "" || c.CustomerPhone == "" {
		return
	}
	cust, err := s.customers.EnsureFromBilling(ctx, c.CustomerName, c.CustomerPhone)
	if err != nil {
		s.logger.Warn().Err(err).Str("cart_id", c.ID).Msg("customer_autocreate_failed")
		return
	}
	if cust != nil {
		c.CustomerID = cust.ID
	}
}

func (s *Service) persist(ctx context.Context, bill Bill) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertBill(ctx, bill); err != nil {
			return err
		}
		for _, it := range bill.Items {
			if err := tx.AdjustStock(ctx, it.ItemID, -it.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) compensate(ctx context.Context, alloc invoice.Allocation) {
	if alloc.Fallback {
		return
	}
	if err := s.numbers.Release(ctx, alloc); err != nil {
		s.logger.Error().Err(err).Str("invoice_number", alloc.Number).Msg("invoice_release_failed")
		return
	}
	obs.RecordCheckoutCompensation()
	s.logger.Warn().Str("invoice_number", alloc.Number).Msg("invoice_released")
}

func (s *Service) emit(ctx context.Context, topic, billID string, payload any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Emit(ctx, topic, billID, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("bill_id", billID).Msg("event_emit_failed")
	}
}

// Get loads one bill.
func (s *Service) Get(ctx context.Context, id string) (Bill, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Bill{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// List returns bills newest first with the total match count.
func (s *Service) List(ctx context.Context, f Filter) ([]Bill, int, error) {
	if f.Limit <= 0 {
		f.Limit = s.defaultLimit
	}
	if f.Limit > s.maxLimit {
		f.Limit = s.maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("unknown status %q: %w", f.Status, ErrInvalidInput)
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return nil, 0, fmt.Errorf("empty date range: %w", ErrInvalidInput)
	}
	return s.repo.List(ctx, f)
}

// UpdateStatus changes the bill's status, its only mutable field.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (Bill, error) {
	if !status.Valid() {
		return Bill{}, fmt.Errorf("unknown status %q: %w", status, ErrInvalidInput)
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	if existing.Status == status {
		return existing, nil
	}
	updated, err := s.repo.UpdateStatus(ctx, id, status, s.now().UTC())
	if err != nil {
		return Bill{}, err
	}
	s.emit(ctx, events.TopicBillStatusChanged, id, map[string]any{"from": existing.Status, "to": status})
	return updated, nil
}

// Delete removes a bill and puts its quantities back into stock in the same
// transaction.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	var deleted Bill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.DeleteBill(ctx, id)
		if err != nil {
			return err
		}
		for _, it := range b.Items {
			if err := tx.AdjustStock(ctx, it.ItemID, it.Quantity); err != nil {
				return err
			}
		}
		deleted = b
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("bill_id", id).Str("invoice_number", deleted.InvoiceNumber).Msg("bill_deleted")
	s.emit(ctx, events.TopicBillDeleted, id, map[string]any{"invoiceNumber": deleted.InvoiceNumber, "items": len(deleted.Items)})
	return nil
}
