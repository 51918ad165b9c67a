package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/lock"
)

var (
	// ErrNotFound is returned for unknown or expired carts.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidInput flags rejected cart mutations.
	ErrInvalidInput = errors.New("invalid cart input")
	// ErrInsufficientStock is returned when a tracked item cannot cover the quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ItemSource resolves catalog items for new lines.
type ItemSource interface {
	Get(ctx context.Context, id string) (catalog.Item, error)
}

// Service persists carts in a kv.Store. Every mutation is a locked
// read-modify-write so parallel taps on the same register do not lose lines.
type Service struct {
	store    kv.Store
	locker   lock.Locker
	items    ItemSource
	ttl      time.Duration
	lockTTL  time.Duration
	defaults Defaults
	logger   zerolog.Logger
	now      func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store    kv.Store
	Locker   lock.Locker
	Items    ItemSource
	TTL      time.Duration
	LockTTL  time.Duration
	Defaults Defaults
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("cart store is required")
	}
	if cfg.Locker == nil {
		return nil, errors.New("cart locker is required")
	}
	s := &Service{
		store:    cfg.Store,
		locker:   cfg.Locker,
		items:    cfg.Items,
		ttl:      cfg.TTL,
		lockTTL:  cfg.LockTTL,
		defaults: cfg.Defaults,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 7 * 24 * time.Hour
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 5 * time.Second
	}
	if s.defaults == (Defaults{}) {
		s.defaults = DefaultDefaults()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func storeKey(id string) string {
	return "cart:" + id
}

// Defaults returns the values new carts start with.
func (s *Service) Defaults() Defaults {
	return s.defaults
}

func (s *Service) load(ctx context.Context, id string) (*Cart, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var c Cart
	ok, err := kv.GetJSON(ctx, s.store, storeKey(id), &c)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	if c.Lines == nil {
		c.Lines = []Line{}
	}
	return &c, nil
}

func (s *Service) save(ctx context.Context, c *Cart) error {
	c.UpdatedAt = s.now().UTC()
	if err := kv.SetJSON(ctx, s.store, storeKey(c.ID), c, s.ttl); err != nil {
		s.logger.Error().Err(err).Str("cart_id", c.ID).Msg("cart_save_failed")
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// mutate runs fn on the stored cart under the cart lock and persists it.
func (s *Service) mutate(ctx context.Context, id string, fn func(context.Context, *Cart) error) (*Cart, error) {
	var out *Cart
	err := s.locker.WithLock(ctx, lock.CartKey(id), s.lockTTL, func(ctx context.Context) error {
		c, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		if err := s.save(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// Create starts an empty cart.
func (s *Service) Create(ctx context.Context) (*Cart, error) {
	c := New(uuid.NewString(), s.defaults)
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Ensure returns the cart for id, creating it when it does not exist yet.
func (s *Service) Ensure(ctx context.Context, id string) (*Cart, error) {
	if id == "" {
		return s.Create(ctx)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("cart id must be a uuid: %w", ErrInvalidInput)
	}
	var out *Cart
	err := s.locker.WithLock(ctx, lock.CartKey(id), s.lockTTL, func(ctx context.Context) error {
		c, err := s.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			c = New(id, s.defaults)
			if err := s.save(ctx, c); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// Get loads a cart.
func (s *Service) Get(ctx context.Context, id string) (*Cart, error) {
	return s.load(ctx, id)
}

// AddItem adds qty units of a catalog item after checking tracked stock
// against the merged line quantity.
func (s *Service) AddItem(ctx context.Context, id, itemID string, qty int) (*Cart, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if s.items == nil {
		return nil, errors.New("cart item source not configured")
	}
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, common.NewAppError("ITEM_NOT_FOUND", "item not found", http.StatusNotFound, err)
		}
		return nil, err
	}
	return s.mutate(ctx, id, func(_ context.Context, c *Cart) error {
		want := qty
		if l, ok := c.Line(item.ID); ok {
			want += l.Quantity
		}
		if item.Stock != nil && *item.Stock < want {
			return common.NewAppError("INSUFFICIENT_STOCK",
				fmt.Sprintf("only %d %s of %s in stock", *item.Stock, unitOr(item.Unit), item.Name),
				http.StatusBadRequest, ErrInsufficientStock)
		}
		c.AddItem(Product{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Unit:     item.Unit,
			SKU:      item.SKU,
			Category: item.Category,
			TaxClass: item.TaxClass,
		}, qty)
		return nil
	})
}

// UpdateQuantity sets a line quantity; zero or less removes the line, and is
// a no-op for items that are not in the cart.
func (s *Service) UpdateQuantity(ctx context.Context, id, itemID string, qty int) (*Cart, error) {
	var stock *int
	if qty > 0 && s.items != nil {
		item, err := s.items.Get(ctx, itemID)
		if err == nil {
			stock = item.Stock
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
	}
	return s.mutate(ctx, id, func(_ context.Context, c *Cart) error {
		if _, ok := c.Line(itemID); !ok && qty > 0 {
			return common.NewAppError("ITEM_NOT_IN_CART", "item is not in the cart", http.StatusNotFound, ErrNotFound)
		}
		if stock != nil && *stock < qty {
			return common.NewAppError("INSUFFICIENT_STOCK", fmt.Sprintf("only %d in stock", *stock), http.StatusBadRequest, ErrInsufficientStock)
		}
		c.UpdateItemQuantity(itemID, qty)
		return nil
	})
}

// RemoveItem drops a line.
func (s *Service) RemoveItem(ctx context.Context, id, itemID string) (*Cart, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *Cart) error {
		c.RemoveItem(itemID)
		return nil
	})
}

// Clear empties the cart and restores defaults.
func (s *Service) Clear(ctx context.Context, id string) (*Cart, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *Cart) error {
		c.Clear(s.defaults)
		return nil
	})
}

// Patch updates the non-line fields of a cart. Nil fields are unchanged.
type Patch struct {
	CustomerID    *string        `json:"customerId"`
	CustomerName  *string        `json:"customerName"`
	CustomerPhone *string        `json:"customerPhone"`
	Notes         *string        `json:"notes"`
	Discount      *float64       `json:"discount"`
	TaxRate       *float64       `json:"taxRate"`
	PaymentMethod *PaymentMethod `json:"paymentMethod"`
}

// Update applies p.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Cart, error) {
	if p.Discount != nil && (*p.Discount < 0 || *p.Discount > 100) {
		return nil, fmt.Errorf("discount must be between 0 and 100: %w", ErrInvalidInput)
	}
	if p.TaxRate != nil && (*p.TaxRate < 0 || *p.TaxRate > 100) {
		return nil, fmt.Errorf("tax rate must be between 0 and 100: %w", ErrInvalidInput)
	}
	if p.PaymentMethod != nil && !p.PaymentMethod.Valid() {
		return nil, fmt.Errorf("unknown payment method %q: %w", *p.PaymentMethod, ErrInvalidInput)
	}
	return s.mutate(ctx, id, func(_ context.Context, c *Cart) error {
		if p.CustomerID != nil {
			c.CustomerID = strings.TrimSpace(*p.CustomerID)
		}
		if p.CustomerName != nil {
			c.CustomerName = strings.TrimSpace(*p.CustomerName)
		}
		if p.CustomerPhone != nil {
			c.CustomerPhone = strings.TrimSpace(*p.CustomerPhone)
		}
		if p.Notes != nil {
			c.SetNotes(*p.Notes)
		}
		if p.Discount != nil {
			c.SetDiscount(*p.Discount)
		}
		if p.TaxRate != nil {
			c.SetTaxRate(*p.TaxRate)
		}
		if p.PaymentMethod != nil {
			c.SetPaymentMethod(*p.PaymentMethod)
		}
		return nil
	})
}

// WithCart runs fn while holding the cart lock, so checkout sees a cart no
// other request is changing.
func (s *Service) WithCart(ctx context.Context, id string, fn func(context.Context, *Cart) error) error {
	return s.locker.WithLock(ctx, lock.CartKey(id), s.lockTTL, func(ctx context.Context) error {
		c, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, c)
	})
}

// Reset clears a cart without taking the lock; callers inside WithCart use it.
func (s *Service) Reset(ctx context.Context, c *Cart) error {
	c.Clear(s.defaults)
	return s.save(ctx, c)
}

func unitOr(unit string) string {
	if unit == "" {
		return "units"
	}
	return unit
}
