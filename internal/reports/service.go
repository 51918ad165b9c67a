// Package reports aggregates bill history into sales summaries. Results are
// cached briefly because the same dashboard range is requested repeatedly.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

// ErrInvalidRange is returned when from is not before to.
var ErrInvalidRange = errors.New("from must be before to")

// DailySales is one calendar day in the report location.
type DailySales struct {
	Day       string  `json:"day"`
	PaidBills int     `json:"paidBills"`
	AllBills  int     `json:"allBills"`
	Revenue   float64 `json:"revenue"`
	Tax       float64 `json:"tax"`
	Discount  float64 `json:"discount"`
}

// TopItem ranks an item by quantity sold on paid bills.
type TopItem struct {
	ItemID   string  `json:"itemId,omitempty"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

// Querier runs the aggregate queries.
type Querier interface {
	SalesDaily(ctx context.Context, from, to time.Time, tz string) ([]DailySales, error)
	TopItems(ctx context.Context, from, to time.Time, limit int) ([]TopItem, error)
	TaxLines(ctx context.Context, from, to time.Time) ([]TaxLine, error)
}

// Service provides cached report reads.
type Service struct {
	Q     Querier
	Cache kv.Store
	TTL   time.Duration
	// DefaultRange is the number of days reported when no range is given.
	DefaultRange int
	Gate         subscription.Gate
	Location     *time.Location
	Logger       zerolog.Logger
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.Local
}

// timezone is the name Postgres groups days by. "Local" has no meaning to
// the database so it falls back to UTC.
func (s *Service) timezone() string {
	name := s.location().String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}

func (s *Service) defaultRange() int {
	if s.DefaultRange <= 0 {
		return 30
	}
	return s.DefaultRange
}

// DefaultWindow ends at the start of tomorrow and spans days whole days.
func (s *Service) DefaultWindow(days int) (time.Time, time.Time) {
	if days <= 0 {
		days = s.defaultRange()
	}
	now := s.now().In(s.location())
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return to.AddDate(0, 0, -days), to
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// SalesRange returns per-day sales for [from, to).
func (s *Service) SalesRange(ctx context.Context, from, to time.Time) ([]DailySales, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("reports service not configured")
	}
	if err := s.Gate.Feature(ctx, subscription.FeatureReports); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	key := cacheKey("reports", "sales", s.timezone(), from.Unix(), to.Unix())
	var rows []DailySales
	if s.load(ctx, key, &rows) {
		return rows, nil
	}
	rows, err := s.Q.SalesDaily(ctx, from, to, s.timezone())
	if err != nil {
		return nil, fmt.Errorf("sales report: %w", err)
	}
	if rows == nil {
		rows = []DailySales{}
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// TopItems returns the best sellers for [from, to).
func (s *Service) TopItems(ctx context.Context, from, to time.Time, limit int) ([]TopItem, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("reports service not configured")
	}
	if err := s.Gate.Feature(ctx, subscription.FeatureReports); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	if limit <= 0 {
		limit = 10
	}
	key := cacheKey("reports", "top", from.Unix(), to.Unix(), limit)
	var rows []TopItem
	if s.load(ctx, key, &rows) {
		return rows, nil
	}
	rows, err := s.Q.TopItems(ctx, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("top items report: %w", err)
	}
	if rows == nil {
		rows = []TopItem{}
	}
	s.store(ctx, key, rows)
	return rows, nil
}

func (s *Service) load(ctx context.Context, key string, dst any) bool {
	if s.Cache == nil || s.TTL <= 0 {
		return false
	}
	raw, ok, err := s.Cache.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), dst) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.Cache == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, key, string(data), s.TTL); err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("report_cache_store_failed")
	}
}
