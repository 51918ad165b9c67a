// Package subscription gates register features by plan.
package subscription

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Plan names a subscription tier.
type Plan string

const (
	PlanNone      Plan = "none"
	PlanTrial     Plan = "trial"
	PlanMonthly   Plan = "monthly"
	PlanQuarterly Plan = "quarterly"
	PlanYearly    Plan = "yearly"
)

// Status is the lifecycle state reported by the billing provider.
type Status string

const (
	StatusActive      Status = "active"
	StatusExpired     Status = "expired"
	StatusCancelled   Status = "cancelled"
	StatusGracePeriod Status = "grace_period"
)

// Feature names a gated capability.
type Feature string

const (
	FeaturePrint           Feature = "print"
	FeatureExport          Feature = "export"
	FeatureSync            Feature = "sync"
	FeatureReports         Feature = "reports"
	FeaturePrioritySupport Feature = "priority_support"
)

// Unlimited marks a limit without a cap.
const Unlimited = -1

// Limits describes what a plan allows.
type Limits struct {
	MaxBills           int  `json:"maxBills"`
	MaxItems           int  `json:"maxItems"`
	MaxCustomers       int  `json:"maxCustomers"`
	CanPrint           bool `json:"canPrint"`
	CanExport          bool `json:"canExport"`
	CanSync            bool `json:"canSync"`
	HasReports         bool `json:"hasReports"`
	HasPrioritySupport bool `json:"hasPrioritySupport"`
}

var paid = Limits{
	MaxBills:           Unlimited,
	MaxItems:           Unlimited,
	MaxCustomers:       Unlimited,
	CanPrint:           true,
	CanExport:          true,
	CanSync:            true,
	HasReports:         true,
	HasPrioritySupport: true,
}

var planLimits = map[Plan]Limits{
	PlanNone:      {},
	PlanTrial:     {MaxBills: 20, MaxItems: 50, MaxCustomers: 25, CanPrint: true, HasReports: true},
	PlanMonthly:   paid,
	PlanQuarterly: paid,
	PlanYearly:    paid,
}

// LimitsFor returns the limits of plan; unknown plans get none.
func LimitsFor(plan Plan) Limits {
	if l, ok := planLimits[plan]; ok {
		return l
	}
	return planLimits[PlanNone]
}

// Subscription is the register's current entitlement.
type Subscription struct {
	Plan           Plan       `json:"plan"`
	Status         Status     `json:"status"`
	EndDate        time.Time  `json:"endDate"`
	GracePeriodEnd *time.Time `json:"gracePeriodEnd,omitempty"`
}

// IsActive reports whether the subscription is active, or expired but still
// inside its grace period.
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status == StatusActive && !now.After(s.EndDate) {
		return true
	}
	if s.Status == StatusExpired && s.GracePeriodEnd != nil && !now.After(*s.GracePeriodEnd) {
		return true
	}
	return false
}

// Limits returns the plan limits, or none for a nil subscription.
func (s *Subscription) Limits() Limits {
	if s == nil {
		return planLimits[PlanNone]
	}
	return LimitsFor(s.Plan)
}

// DaysRemaining rounds up to whole days until the end date, or the grace end
// for expired subscriptions.
func (s *Subscription) DaysRemaining(now time.Time) int {
	if s == nil {
		return 0
	}
	var end time.Time
	switch {
	case s.Status == StatusActive:
		end = s.EndDate
	case s.Status == StatusExpired && s.GracePeriodEnd != nil:
		end = *s.GracePeriodEnd
	default:
		return 0
	}
	days := math.Ceil(end.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return int(days)
}

// HasFeature reports whether f is available now.
func (s *Subscription) HasFeature(f Feature, now time.Time) bool {
	if !s.IsActive(now) {
		return false
	}
	l := s.Limits()
	switch f {
	case FeaturePrint:
		return l.CanPrint
	case FeatureExport:
		return l.CanExport
	case FeatureSync:
		return l.CanSync
	case FeatureReports:
		return l.HasReports
	case FeaturePrioritySupport:
		return l.HasPrioritySupport
	default:
		return true
	}
}

// Warning returns a renewal reminder, or an empty string when none applies.
func (s *Subscription) Warning(now time.Time) string {
	if s == nil {
		return "No active subscription. Please choose a plan to continue."
	}
	days := s.DaysRemaining(now)
	switch {
	case s.Status == StatusExpired && days > 0:
		return fmt.Sprintf("Your subscription has expired. You have %d days left in your grace period.", days)
	case s.Status == StatusExpired:
		return "Your subscription and grace period have expired. Please renew to continue using the app."
	case s.Status == StatusActive && days <= 7:
		return fmt.Sprintf("Your subscription expires in %d days. Please renew to avoid service interruption.", days)
	}
	return ""
}

// CanCreateBill checks the bill quota against the current bill count.
func (s *Subscription) CanCreateBill(count int, now time.Time) error {
	return s.check(count, now, "bills", func(l Limits) int { return l.MaxBills })
}

// CanAddItem checks the catalog quota.
func (s *Subscription) CanAddItem(count int, now time.Time) error {
	return s.check(count, now, "items", func(l Limits) int { return l.MaxItems })
}

// CanAddCustomer checks the customer quota.
func (s *Subscription) CanAddCustomer(count int, now time.Time) error {
	return s.check(count, now, "customers", func(l Limits) int { return l.MaxCustomers })
}

func (s *Subscription) check(count int, now time.Time, what string, max func(Limits) int) error {
	if s == nil {
		return common.NewAppError("SUBSCRIPTION_REQUIRED", "Please log in to continue.", http.StatusUnauthorized, nil)
	}
	if !s.IsActive(now) {
		return common.NewAppError("SUBSCRIPTION_EXPIRED", "Your subscription has expired. Please renew to continue.", http.StatusPaymentRequired, nil)
	}
	if limit := max(s.Limits()); limit != Unlimited && count >= limit {
		return common.NewAppError("SUBSCRIPTION_LIMIT",
			fmt.Sprintf("You've reached your limit of %d %s. Upgrade your plan to add more.", limit, what),
			http.StatusPaymentRequired, nil).
			WithDetails(map[string]any{"resource": what, "limit": limit, "used": count})
	}
	return nil
}

// RequireFeature returns an AppError when f is unavailable.
func (s *Subscription) RequireFeature(f Feature, now time.Time) error {
	if s.HasFeature(f, now) {
		return nil
	}
	return common.NewAppError("FEATURE_UNAVAILABLE", fmt.Sprintf("%s is not available on the current plan", f), http.StatusPaymentRequired, nil)
}

type ctxKey struct{}

// WithContext stores s on ctx.
func WithContext(ctx context.Context, s *Subscription) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the subscription stored on ctx, or nil.
func FromContext(ctx context.Context) *Subscription {
	s, _ := ctx.Value(ctxKey{}).(*Subscription)
	return s
}
