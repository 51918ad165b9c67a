package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/obs"
)

// ErrInvalidScope is returned for unknown reset scopes.
var ErrInvalidScope = errors.New("invalid counter scope")

// Allocation is an issued invoice number together with the counter slot it
// consumed, so a failed checkout can hand the slot back.
type Allocation struct {
	Number   string `json:"number"`
	Scope    Scope  `json:"scope,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    int    `json:"value,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Stats summarises counter usage.
type Stats struct {
	TodayCount        int    `json:"todayCount"`
	MonthCount        int    `json:"monthCount"`
	TotalCount        int    `json:"totalCount"`
	NextInvoiceNumber string `json:"nextInvoiceNumber"`
}

// Config wires a Generator.
type Config struct {
	Store    kv.Store
	Locker   lock.Locker
	LockTTL  time.Duration
	Location *time.Location
	Now      func() time.Time
	Logger   zerolog.Logger
	// Strict turns counter read failures into allocation errors instead of
	// restarting the scope at StartNumber.
	Strict bool
}

// Generator allocates invoice numbers. Every counter mutation runs under the
// invoice counter lock, so concurrent checkouts never share a number.
type Generator struct {
	counters counterStore
	store    kv.Store
	locker   lock.Locker
	lockTTL  time.Duration
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
	strict   bool
}

// NewGenerator constructs a Generator.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Store == nil {
		return nil, errors.New("invoice: store not configured")
	}
	if cfg.Locker == nil {
		return nil, errors.New("invoice: locker not configured")
	}
	g := &Generator{
		counters: counterStore{kv: cfg.Store},
		store:    cfg.Store,
		locker:   cfg.Locker,
		lockTTL:  cfg.LockTTL,
		loc:      cfg.Location,
		now:      cfg.Now,
		logger:   cfg.Logger,
		strict:   cfg.Strict,
	}
	if g.lockTTL <= 0 {
		g.lockTTL = 5 * time.Second
	}
	if g.loc == nil {
		g.loc = time.Local
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

type slot struct {
	scope    Scope
	key      string
	datePart string
}

func (g *Generator) slotFor(s Settings, now time.Time) slot {
	if s.Format == FormatSequential {
		return slot{scope: ScopeGlobal}
	}
	datePart := formatDate(now, s.DateFormat)
	switch {
	case s.ResetDaily:
		return slot{scope: ScopeDaily, key: now.Format(dayKeyLayout), datePart: datePart}
	case s.ResetMonthly:
		return slot{scope: ScopeMonthly, key: now.Format(monthKeyLayout), datePart: datePart}
	default:
		return slot{scope: ScopeGlobal, datePart: datePart}
	}
}

// Settings returns the stored settings merged over the defaults.
func (g *Generator) Settings(ctx context.Context) (Settings, error) {
	s := DefaultSettings()
	if _, err := kv.GetJSON(ctx, g.store, KeySettings, &s); err != nil {
		if g.strict {
			return DefaultSettings(), fmt.Errorf("load numbering settings: %w", err)
		}
		g.logger.Warn().Err(err).Msg("invoice_settings_load_failed")
		return DefaultSettings(), nil
	}
	if s.MinDigits < 1 {
		s.MinDigits = 1
	}
	return s, nil
}

// SaveSettings merges the patch into the stored settings and persists them.
func (g *Generator) SaveSettings(ctx context.Context, p Patch) (Settings, error) {
	var saved Settings
	err := g.locker.WithLock(ctx, lock.InvoiceCounterKey(), g.lockTTL, func(ctx context.Context) error {
		current, err := g.Settings(ctx)
		if err != nil {
			return err
		}
		next := current.Apply(p)
		if err := next.Validate(); err != nil {
			return err
		}
		if err := kv.SetJSON(ctx, g.store, KeySettings, next, 0); err != nil {
			return fmt.Errorf("save numbering settings: %w", err)
		}
		saved = next
		return nil
	})
	return saved, err
}

// Allocate issues the next invoice number and persists the counter. It fails
// when the counter cannot be stored, or read in strict mode.
func (g *Generator) Allocate(ctx context.Context) (Allocation, error) {
	ctx, span := otel.Tracer("invoice").Start(ctx, "invoice.allocate")
	defer span.End()

	var alloc Allocation
	err := g.locker.WithLock(ctx, lock.InvoiceCounterKey(), g.lockTTL, func(ctx context.Context) error {
		s, err := g.Settings(ctx)
		if err != nil {
			return err
		}
		sl := g.slotFor(s, g.now().In(g.loc))
		current, exists, err := g.counters.current(ctx, sl.scope, sl.key)
		if err != nil {
			if g.strict {
				return err
			}
			g.logger.Warn().Err(err).Str("scope", string(sl.scope)).Msg("invoice_counter_read_failed")
			alloc = Allocation{
				Number: buildNumber(s, sl.datePart, padNumber(s.StartNumber, s.MinDigits)),
				Scope:  sl.scope,
				Key:    sl.key,
				Value:  s.StartNumber,
			}
			return nil
		}
		value := s.StartNumber
		if exists {
			value = current + 1
		}
		number := padNumber(value, s.MinDigits)
		if err := g.counters.store(ctx, sl.scope, sl.key, value, number); err != nil {
			return err
		}
		alloc = Allocation{
			Number: buildNumber(s, sl.datePart, number),
			Scope:  sl.scope,
			Key:    sl.key,
			Value:  value,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		obs.RecordInvoiceAllocation("unknown", "error")
		return Allocation{}, err
	}
	span.SetAttributes(attribute.String("invoice.scope", string(alloc.Scope)), attribute.String("invoice.number", alloc.Number))
	obs.RecordInvoiceAllocation(string(alloc.Scope), "ok")
	return alloc, nil
}

// Generate never fails: when Allocate errors it logs and returns a
// timestamp-derived number flagged as a fallback.
func (g *Generator) Generate(ctx context.Context) Allocation {
	alloc, err := g.Allocate(ctx)
	if err == nil {
		return alloc
	}
	number := fallbackNumber(g.now())
	g.logger.Error().Err(err).Str("invoice_number", number).Msg("invoice_allocation_fallback")
	obs.RecordInvoiceAllocation("fallback", "ok")
	return Allocation{Number: number, Fallback: true}
}

// Preview returns the number the next allocation would produce without
// writing anything.
func (g *Generator) Preview(ctx context.Context) (string, error) {
	s, err := g.Settings(ctx)
	if err != nil {
		return "", err
	}
	sl := g.slotFor(s, g.now().In(g.loc))
	current, exists, err := g.counters.current(ctx, sl.scope, sl.key)
	if err != nil {
		if g.strict {
			return "", err
		}
		g.logger.Warn().Err(err).Str("scope", string(sl.scope)).Msg("invoice_counter_read_failed")
		exists = false
	}
	value := s.StartNumber
	if exists {
		value = current + 1
	}
	return buildNumber(s, sl.datePart, padNumber(value, s.MinDigits)), nil
}

// Release hands an allocation back after a failed checkout. The counter is
// only rolled back when nothing was allocated after it.
func (g *Generator) Release(ctx context.Context, a Allocation) error {
	if a.Fallback || a.Scope == "" || a.Value <= 0 {
		return nil
	}
	return g.locker.WithLock(ctx, lock.InvoiceCounterKey(), g.lockTTL, func(ctx context.Context) error {
		current, exists, err := g.counters.current(ctx, a.Scope, a.Key)
		if err != nil {
			return err
		}
		if !exists || current != a.Value {
			g.logger.Warn().Str("invoice_number", a.Number).Int("current", current).Msg("invoice_release_skipped")
			return nil
		}
		s, err := g.Settings(ctx)
		if err != nil {
			return err
		}
		prev := a.Value - 1
		if a.Value <= s.StartNumber {
			prev = -1
		}
		return g.counters.store(ctx, a.Scope, a.Key, prev, padNumber(prev, s.MinDigits))
	})
}

// Reset clears the counters of one scope, or every scope for ScopeAll.
func (g *Generator) Reset(ctx context.Context, scope Scope) error {
	return g.locker.WithLock(ctx, lock.InvoiceCounterKey(), g.lockTTL, func(ctx context.Context) error {
		if err := g.counters.reset(ctx, scope); err != nil {
			return err
		}
		g.logger.Info().Str("scope", string(scope)).Msg("invoice_counters_reset")
		return nil
	})
}

// Statistics loads today's, this month's and the global count together with
// the next number.
func (g *Generator) Statistics(ctx context.Context) (Stats, error) {
	now := g.now().In(g.loc)
	var stats Stats
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		n, _, err := g.counters.current(ctx, ScopeDaily, now.Format(dayKeyLayout))
		stats.TodayCount = n
		return err
	})
	eg.Go(func() error {
		n, _, err := g.counters.current(ctx, ScopeMonthly, now.Format(monthKeyLayout))
		stats.MonthCount = n
		return err
	})
	eg.Go(func() error {
		n, _, err := g.counters.global(ctx)
		stats.TotalCount = n
		return err
	})
	eg.Go(func() error {
		next, err := g.Preview(ctx)
		stats.NextInvoiceNumber = next
		return err
	})
	if err := eg.Wait(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Prune drops daily counters older than keepDays and monthly counters older
// than keepMonths. Current scopes are never removed.
func (g *Generator) Prune(ctx context.Context, keepDays, keepMonths int) (int, error) {
	if keepDays < 1 {
		keepDays = 1
	}
	if keepMonths < 1 {
		keepMonths = 1
	}
	now := g.now().In(g.loc)
	dayCutoff := now.AddDate(0, 0, -(keepDays - 1)).Format(dayKeyLayout)
	monthCutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, g.loc).AddDate(0, -(keepMonths - 1), 0).Format(monthKeyLayout)

	removed := 0
	err := g.locker.WithLock(ctx, lock.InvoiceCounterKey(), g.lockTTL, func(ctx context.Context) error {
		daily, err := g.counters.daily(ctx)
		if err != nil {
			return err
		}
		before := len(daily)
		for k := range daily {
			if k < dayCutoff {
				delete(daily, k)
			}
		}
		if len(daily) != before {
			removed += before - len(daily)
			if err := g.counters.saveDaily(ctx, daily); err != nil {
				return err
			}
		}

		monthly, err := g.counters.monthly(ctx)
		if err != nil {
			return err
		}
		before = len(monthly)
		for k := range monthly {
			if k < monthCutoff {
				delete(monthly, k)
			}
		}
		if len(monthly) != before {
			removed += before - len(monthly)
			return g.counters.saveMonthly(ctx, monthly)
		}
		return nil
	})
	return removed, err
}
