package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/subscription"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("item not found")
	// ErrInvalidInput flags rejected item payloads.
	ErrInvalidInput = errors.New("invalid item")
)

// Item is a sellable catalog entry. A nil Stock means stock is not tracked.
type Item struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Price       float64        `json:"price"`
	Category    string         `json:"category"`
	Description string         `json:"description,omitempty"`
	Stock       *int           `json:"stock,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	SKU         string         `json:"sku,omitempty"`
	TaxClass    *tax.ItemClass `json:"taxClass,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Input is the create and update payload.
type Input struct {
	Name        string         `json:"name" validate:"required,max=200"`
	Price       float64        `json:"price" validate:"gte=0"`
	Category    string         `json:"category" validate:"required,max=100"`
	Description string         `json:"description" validate:"max=2000"`
	Stock       *int           `json:"stock" validate:"omitempty,gte=0"`
	Unit        string         `json:"unit" validate:"max=20"`
	SKU         string         `json:"sku" validate:"max=64"`
	TaxClass    *tax.ItemClass `json:"taxClass"`
}

// Filter narrows List results.
type Filter struct {
	Search   string
	Category string
	Limit    int
	Offset   int
}

// StockStatus answers CheckStock.
type StockStatus struct {
	Available    bool `json:"available"`
	CurrentStock *int `json:"currentStock,omitempty"`
}

// Service implements catalog use cases.
type Service struct {
	repo         Repository
	gate         subscription.Gate
	logger       zerolog.Logger
	now          func() time.Time
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repo         Repository
	Gate         subscription.Gate
	Logger       zerolog.Logger
	Now          func() time.Time
	DefaultLimit int
	MaxLimit     int
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repo == nil {
		return nil, errors.New("catalog repository is required")
	}
	s := &Service{
		repo:         cfg.Repo,
		gate:         cfg.Gate,
		logger:       cfg.Logger,
		now:          cfg.Now,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 50
	}
	if s.maxLimit <= 0 {
		s.maxLimit = 500
	}
	return s, nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validateInput(in Input) error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed %s: %w", verrs[0].Field(), verrs[0].Tag(), ErrInvalidInput)
		}
		return fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	if in.TaxClass != nil {
		switch in.TaxClass.Type {
		case tax.ItemGST, tax.ItemIGST, tax.ItemExempt:
		default:
			return fmt.Errorf("unknown tax type %q: %w", in.TaxClass.Type, ErrInvalidInput)
		}
		if in.TaxClass.GSTRate < 0 || in.TaxClass.IGSTRate < 0 {
			return fmt.Errorf("negative item tax rate: %w", ErrInvalidInput)
		}
	}
	return nil
}

// List returns items matching the filter and the total match count.
func (s *Service) List(ctx context.Context, f Filter) ([]Item, int, error) {
	if f.Limit <= 0 {
		f.Limit = s.defaultLimit
	}
	if f.Limit > s.maxLimit {
		f.Limit = s.maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// Get loads one item.
func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Item{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create adds an item after checking the plan's item quota.
func (s *Service) Create(ctx context.Context, in Input) (Item, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	if err := validateInput(in); err != nil {
		return Item{}, err
	}
	if s.gate.Enabled {
		count, err := s.repo.Count(ctx)
		if err != nil {
			return Item{}, fmt.Errorf("count items: %w", err)
		}
		if err := s.gate.Items(ctx, count); err != nil {
			return Item{}, err
		}
	}
	now := s.now().UTC()
	item := fromInput(in)
	item.ID = uuid.NewString()
	item.CreatedAt = now
	item.UpdatedAt = now
	created, err := s.repo.Create(ctx, item)
	if err != nil {
		return Item{}, fmt.Errorf("create item: %w", err)
	}
	s.logger.Info().Str("item_id", created.ID).Msg("item_created")
	return created, nil
}

// Update replaces an item's fields.
func (s *Service) Update(ctx context.Context, id string, in Input) (Item, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	if err := validateInput(in); err != nil {
		return Item{}, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	item := fromInput(in)
	item.ID = existing.ID
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = s.now().UTC()
	return s.repo.Update(ctx, item)
}

// Delete removes an item. Bills keep their own copy of sold items.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, id)
}

// AdjustStock adds delta to tracked stock, flooring at zero.
func (s *Service) AdjustStock(ctx context.Context, id string, delta int) (Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Item{}, ErrNotFound
	}
	return s.repo.AdjustStock(ctx, id, delta)
}

// CheckStock reports whether qty units can be sold. Untracked stock is
// always available.
func (s *Service) CheckStock(ctx context.Context, id string, qty int) (StockStatus, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return StockStatus{}, err
	}
	return stockStatus(item, qty), nil
}

func stockStatus(item Item, qty int) StockStatus {
	if item.Stock == nil {
		return StockStatus{Available: true}
	}
	current := *item.Stock
	return StockStatus{Available: current >= qty, CurrentStock: &current}
}

func fromInput(in Input) Item {
	return Item{
		Name:        in.Name,
		Price:       in.Price,
		Category:    in.Category,
		Description: in.Description,
		Stock:       in.Stock,
		Unit:        in.Unit,
		SKU:         in.SKU,
		TaxClass:    in.TaxClass,
	}
}
