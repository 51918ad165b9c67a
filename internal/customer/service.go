package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/subscription"
)

// Service implements customer use cases.
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
		return nil, errors.New("customer repository is required")
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

// List returns customers matching the filter and the total match count.
func (s *Service) List(ctx context.Context, f Filter) ([]Customer, int, error) {
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

// Get loads one customer.
func (s *Service) Get(ctx context.Context, id string) (Customer, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Customer{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// FindByPhone looks a customer up by normalized phone number.
func (s *Service) FindByPhone(ctx context.Context, phone string) (Customer, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return Customer{}, ErrNotFound
	}
	return s.repo.GetByPhone(ctx, phone)
}

// Create adds a customer after checking the plan's customer quota.
func (s *Service) Create(ctx context.Context, in Input) (Customer, error) {
	return s.create(ctx, in, SourceManual)
}

func (s *Service) create(ctx context.Context, in Input, src Source) (Customer, error) {
	if err := in.Validate(); err != nil {
		return Customer{}, err
	}
	if err := s.checkQuota(ctx); err != nil {
		return Customer{}, err
	}
	now := s.now().UTC()
	c := fromInput(in)
	c.ID = uuid.NewString()
	c.CreatedFrom = src
	c.CreatedAt = now
	c.UpdatedAt = now
	created, err := s.repo.Create(ctx, c)
	if err != nil {
		if errors.Is(err, ErrDuplicatePhone) {
			return Customer{}, err
		}
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}
	s.logger.Info().Str("customer_id", created.ID).Str("source", string(src)).Msg("customer_created")
	return created, nil
}

func (s *Service) checkQuota(ctx context.Context) error {
	if !s.gate.Enabled {
		return nil
	}
	count, err := s.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("count customers: %w", err)
	}
	return s.gate.Customers(ctx, count)
}

// Update replaces a customer's fields.
func (s *Service) Update(ctx context.Context, id string, in Input) (Customer, error) {
	if err := in.Validate(); err != nil {
		return Customer{}, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Customer{}, err
	}
	return s.repo.Update(ctx, merge(existing, in, s.now().UTC()))
}

// Delete removes a customer. Bills keep the name and phone they were issued with.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, id)
}

// EnsureFromBilling returns the customer owning phone, creating one from the
// checkout details when none exists. Bills without a valid phone skip the
// directory entirely and get a nil customer.
func (s *Service) EnsureFromBilling(ctx context.Context, name, phone string) (*Customer, error) {
	in := Input{Name: name, Phone: phone}
	in.normalize()
	if !phonePattern.MatchString(in.Phone) {
		return nil, nil
	}
	existing, err := s.repo.GetByPhone(ctx, in.Phone)
	switch {
	case err == nil:
		return &existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	if len(in.Name) < 2 {
		in.Name = "Customer " + in.Phone[len(in.Phone)-4:]
	}
	created, err := s.create(ctx, in, SourceBilling)
	if errors.Is(err, ErrDuplicatePhone) {
		// Lost a race with a concurrent checkout for the same phone.
		existing, err = s.repo.GetByPhone(ctx, in.Phone)
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func fromInput(in Input) Customer {
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	return Customer{
		Name:      in.Name,
		Phone:     in.Phone,
		Email:     in.Email,
		Address:   in.Address,
		GSTNumber: in.GSTNumber,
		Notes:     in.Notes,
		Tags:      tags,
		IsActive:  active,
	}
}

func merge(existing Customer, in Input, now time.Time) Customer {
	c := fromInput(in)
	if in.IsActive == nil {
		c.IsActive = existing.IsActive
	}
	c.ID = existing.ID
	c.CreatedFrom = existing.CreatedFrom
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = now
	return c
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ";")
}
