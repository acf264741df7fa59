package cost_tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domaincache "coursecast/internal/domain/cache"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/metrics"
	"coursecast/internal/services/cache"
	"coursecast/pkg/errors"
)

// Warning shown when the limit store could not be read
const warnUnverified = "cost limits could not be verified; request allowed"

// LimitCheck is the outcome of a pre-flight budget check.
// Percentages and remaining amounts include the estimated cost.
type LimitCheck struct {
	Allowed           bool            `json:"allowed"`
	DailyRemaining    decimal.Decimal `json:"daily_remaining"`
	MonthlyRemaining  decimal.Decimal `json:"monthly_remaining"`
	DailyPercentage   decimal.Decimal `json:"daily_percentage"`
	MonthlyPercentage decimal.Decimal `json:"monthly_percentage"`
	Warnings          []string        `json:"warnings"`

	// Verified is false when the check fell back to allowing without reading a limit
	Verified bool `json:"verified"`

	// DefaultLimit is true when the owner has no stored limit and free-tier defaults applied
	DefaultLimit bool `json:"default_limit"`
}

// Err returns errors.ErrCostLimitExceeded when the check denied the operation
func (c LimitCheck) Err() error {
	if c.Allowed {
		return nil
	}
	return errors.Wrapf(errors.ErrCostLimitExceeded, "daily %s%%, monthly %s%%",
		c.DailyPercentage.StringFixed(1), c.MonthlyPercentage.StringFixed(1))
}

func unverified() LimitCheck {
	return LimitCheck{
		Allowed:           true,
		DailyRemaining:    decimal.Zero,
		MonthlyRemaining:  decimal.Zero,
		DailyPercentage:   decimal.Zero,
		MonthlyPercentage: decimal.Zero,
		Warnings:          []string{warnUnverified},
	}
}

// GetLimit returns the owner's limit through the cache. Owners without a stored
// row get the free-tier defaults with IsDefault set.
func (s *Service) GetLimit(ctx context.Context, ownerID string) (*cost_limit.CostLimit, error) {
	ttl := s.cfg.Policy.For(domaincache.KindCostLimit)
	return cache.GetOrCompute(ctx, s.cache, cachekey.CostLimit(ownerID), ttl, func(ctx context.Context) (*cost_limit.CostLimit, error) {
		l, err := s.limits.GetByOwner(ctx, ownerID)
		if errors.Is(err, errors.ErrNotFound) {
			d := s.defaultLimit(ownerID, s.clock())
			d.IsDefault = true
			return d, nil
		}
		return l, err
	})
}

// CheckCostLimit projects estimatedCost onto the owner's daily and monthly spend.
// The owner is the tenant when given, otherwise the actor. The check fails open:
// it denies only when the limit enforces a hard cap and the projection passes it.
func (s *Service) CheckCostLimit(ctx context.Context, actorID, tenantID string, estimatedCost decimal.Decimal) LimitCheck {
	owner := ownerOf(actorID, tenantID)
	if owner == "" {
		metrics.CostLimitChecks.WithLabelValues("unverified").Inc()
		s.log.Warnw("Cost limit check without owner")
		return unverified()
	}
	if estimatedCost.IsNegative() {
		estimatedCost = decimal.Zero
	}

	l, err := s.GetLimit(ctx, owner)
	if err != nil {
		metrics.CostLimitChecks.WithLabelValues("unverified").Inc()
		s.log.Errorw("Failed to load cost limit, allowing", "owner_id", owner, "error", err)
		return unverified()
	}

	check := evaluate(l, estimatedCost, s.clock())
	decision := "allowed"
	if !check.Allowed {
		decision = "denied"
		s.log.Infow("Cost limit reached",
			"owner_id", owner,
			"estimated_cost", estimatedCost.String(),
			"daily_pct", check.DailyPercentage.StringFixed(1),
			"monthly_pct", check.MonthlyPercentage.StringFixed(1),
		)
	}
	metrics.CostLimitChecks.WithLabelValues(decision).Inc()

	return check
}

// evaluate is the pure part of CheckCostLimit
func evaluate(l *cost_limit.CostLimit, estimated decimal.Decimal, now time.Time) LimitCheck {
	projectedDaily := l.EffectiveDailySpent(now).Add(estimated)
	projectedMonthly := l.EffectiveMonthlySpent(now).Add(estimated)

	check := LimitCheck{
		Allowed:           true,
		DailyRemaining:    cost_limit.Remaining(projectedDaily, l.DailyLimit),
		MonthlyRemaining:  cost_limit.Remaining(projectedMonthly, l.MonthlyLimit),
		DailyPercentage:   cost_limit.Percentage(projectedDaily, l.DailyLimit).Round(2),
		MonthlyPercentage: cost_limit.Percentage(projectedMonthly, l.MonthlyLimit).Round(2),
		Warnings:          []string{},
		Verified:          true,
		DefaultLimit:      l.IsDefault,
	}

	dailyOver := exceeds(projectedDaily, l.DailyLimit)
	monthlyOver := exceeds(projectedMonthly, l.MonthlyLimit)

	check.Warnings = appendWarning(check.Warnings, l, cost_limit.PeriodDaily, projectedDaily, check.DailyPercentage)
	check.Warnings = appendWarning(check.Warnings, l, cost_limit.PeriodMonthly, projectedMonthly, check.MonthlyPercentage)

	if l.EnforceHardLimit && (dailyOver || monthlyOver) {
		check.Allowed = false
	}
	return check
}

// exceeds reports projected > limit; a non-positive limit is unlimited
func exceeds(projected, limit decimal.Decimal) bool {
	return limit.IsPositive() && projected.GreaterThan(limit)
}

func appendWarning(warnings []string, l *cost_limit.CostLimit, p cost_limit.Period, projected, pct decimal.Decimal) []string {
	limit := l.Limit(p)
	switch l.LevelOf(p, projected) {
	case cost_limit.LevelExceeded:
		if exceeds(projected, limit) {
			return append(warnings, fmt.Sprintf("%s limit would be exceeded: $%s of $%s (%s%%)",
				p, projected.StringFixed(2), limit.StringFixed(2), pct.StringFixed(1)))
		}
		return append(warnings, fmt.Sprintf("%s limit reached: $%s of $%s", p, projected.StringFixed(2), limit.StringFixed(2)))
	case cost_limit.LevelCritical:
		return append(warnings, fmt.Sprintf("%s spend at %s%% of limit", p, pct.StringFixed(1)))
	case cost_limit.LevelWarning:
		return append(warnings, fmt.Sprintf("%s spend approaching limit: %s%%", p, pct.StringFixed(1)))
	}
	return warnings
}
