package invoice

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-kasir/internal/kv"
)

// Storage keys shared with the register app's local storage layout.
const (
	KeySettings        = "invoice_numbering_settings"
	KeyDailyCounters   = "daily_counters"
	KeyMonthlyCounters = "monthly_counters"
	KeyGlobalCounter   = "global_counter"
)

// Scope identifies a counter family.
type Scope string

const (
	ScopeDaily   Scope = "daily"
	ScopeMonthly Scope = "monthly"
	ScopeGlobal  Scope = "global"
	ScopeAll     Scope = "all"
)

// DailyCounter is the per-date counter record.
type DailyCounter struct {
	Date           string `json:"date"`
	Count          int    `json:"count"`
	LastBillNumber string `json:"lastBillNumber"`
}

// MonthlyCounter is the per-month counter record.
type MonthlyCounter struct {
	Month          string `json:"month"`
	Count          int    `json:"count"`
	LastBillNumber string `json:"lastBillNumber"`
}

type counterStore struct {
	kv kv.Store
}

func (c counterStore) daily(ctx context.Context) (map[string]DailyCounter, error) {
	out := map[string]DailyCounter{}
	if _, err := kv.GetJSON(ctx, c.kv, KeyDailyCounters, &out); err != nil {
		return nil, fmt.Errorf("read daily counters: %w", err)
	}
	return out, nil
}

func (c counterStore) saveDaily(ctx context.Context, m map[string]DailyCounter) error {
	if err := kv.SetJSON(ctx, c.kv, KeyDailyCounters, m, 0); err != nil {
		return fmt.Errorf("write daily counters: %w", err)
	}
	return nil
}

func (c counterStore) monthly(ctx context.Context) (map[string]MonthlyCounter, error) {
	out := map[string]MonthlyCounter{}
	if _, err := kv.GetJSON(ctx, c.kv, KeyMonthlyCounters, &out); err != nil {
		return nil, fmt.Errorf("read monthly counters: %w", err)
	}
	return out, nil
}

func (c counterStore) saveMonthly(ctx context.Context, m map[string]MonthlyCounter) error {
	if err := kv.SetJSON(ctx, c.kv, KeyMonthlyCounters, m, 0); err != nil {
		return fmt.Errorf("write monthly counters: %w", err)
	}
	return nil
}

// global returns the stored global count and whether it exists.
func (c counterStore) global(ctx context.Context) (int, bool, error) {
	raw, ok, err := c.kv.Get(ctx, KeyGlobalCounter)
	if err != nil {
		return 0, false, fmt.Errorf("read global counter: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false, fmt.Errorf("parse global counter %q: %w", raw, err)
	}
	return n, true, nil
}

func (c counterStore) saveGlobal(ctx context.Context, n int) error {
	if err := c.kv.Set(ctx, KeyGlobalCounter, strconv.Itoa(n), 0); err != nil {
		return fmt.Errorf("write global counter: %w", err)
	}
	return nil
}

// current returns the stored count for the scope key.
func (c counterStore) current(ctx context.Context, scope Scope, key string) (int, bool, error) {
	switch scope {
	case ScopeDaily:
		m, err := c.daily(ctx)
		if err != nil {
			return 0, false, err
		}
		e, ok := m[key]
		return e.Count, ok, nil
	case ScopeMonthly:
		m, err := c.monthly(ctx)
		if err != nil {
			return 0, false, err
		}
		e, ok := m[key]
		return e.Count, ok, nil
	default:
		return c.global(ctx)
	}
}

// store persists count for the scope key. A negative count removes the entry.
func (c counterStore) store(ctx context.Context, scope Scope, key string, count int, last string) error {
	switch scope {
	case ScopeDaily:
		m, err := c.daily(ctx)
		if err != nil {
			return err
		}
		if count < 0 {
			delete(m, key)
		} else {
			m[key] = DailyCounter{Date: key, Count: count, LastBillNumber: last}
		}
		return c.saveDaily(ctx, m)
	case ScopeMonthly:
		m, err := c.monthly(ctx)
		if err != nil {
			return err
		}
		if count < 0 {
			delete(m, key)
		} else {
			m[key] = MonthlyCounter{Month: key, Count: count, LastBillNumber: last}
		}
		return c.saveMonthly(ctx, m)
	default:
		if count < 0 {
			return c.kv.Delete(ctx, KeyGlobalCounter)
		}
		return c.saveGlobal(ctx, count)
	}
}

func (c counterStore) reset(ctx context.Context, scope Scope) error {
	var keys []string
	switch scope {
	case ScopeDaily:
		keys = []string{KeyDailyCounters}
	case ScopeMonthly:
		keys = []string{KeyMonthlyCounters}
	case ScopeGlobal:
		keys = []string{KeyGlobalCounter}
	case ScopeAll:
		keys = []string{KeyDailyCounters, KeyMonthlyCounters, KeyGlobalCounter}
	default:
		return fmt.Errorf("unknown scope %q: %w", scope, ErrInvalidScope)
	}
	return c.kv.Delete(ctx, keys...)
}
