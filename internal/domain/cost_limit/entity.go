package cost_limit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Default alert thresholds in percent of the limit
const (
	DefaultWarningThresholdPct  = 80
	DefaultCriticalThresholdPct = 95
)

var hundred = decimal.NewFromInt(100)

// Period is the window a spend limit applies to
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// CostLimit is the spend budget of one owner (tenant or actor).
// Spent values only grow within a period and drop to zero at the matching ResetAt.
type CostLimit struct {
	ID       uuid.UUID `db:"id" json:"id"`
	OwnerID  string    `db:"owner_id" json:"owner_id"`
	PlanTier PlanTier  `db:"plan_tier" json:"plan_tier"`

	DailyLimit   decimal.Decimal `db:"daily_limit" json:"daily_limit"`
	MonthlyLimit decimal.Decimal `db:"monthly_limit" json:"monthly_limit"`
	DailySpent   decimal.Decimal `db:"daily_spent" json:"daily_spent"`
	MonthlySpent decimal.Decimal `db:"monthly_spent" json:"monthly_spent"`

	DailyResetAt   time.Time `db:"daily_reset_at" json:"daily_reset_at"`
	MonthlyResetAt time.Time `db:"monthly_reset_at" json:"monthly_reset_at"`

	WarningThresholdPct  int  `db:"warning_threshold_pct" json:"warning_threshold_pct"`
	CriticalThresholdPct int  `db:"critical_threshold_pct" json:"critical_threshold_pct"`
	EnforceHardLimit     bool `db:"enforce_hard_limit" json:"enforce_hard_limit"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// IsDefault marks a limit synthesized for an owner without a stored row
	IsDefault bool `db:"-" json:"is_default"`
}

// NextDailyReset returns the next UTC midnight after now
func NextDailyReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// NextMonthlyReset returns the first instant of the next UTC month
func NextMonthlyReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// DailyPeriodStart returns the start of the daily window ending at DailyResetAt
func (l *CostLimit) DailyPeriodStart() time.Time {
	return l.DailyResetAt.AddDate(0, 0, -1)
}

// MonthlyPeriodStart returns the start of the monthly window ending at MonthlyResetAt
func (l *CostLimit) MonthlyPeriodStart() time.Time {
	return l.MonthlyResetAt.AddDate(0, -1, 0)
}

// EffectiveDailySpent is DailySpent, or zero once the daily reset time has passed
func (l *CostLimit) EffectiveDailySpent(now time.Time) decimal.Decimal {
	if !now.Before(l.DailyResetAt) {
		return decimal.Zero
	}
	return l.DailySpent
}

// EffectiveMonthlySpent is MonthlySpent, or zero once the monthly reset time has passed
func (l *CostLimit) EffectiveMonthlySpent(now time.Time) decimal.Decimal {
	if !now.Before(l.MonthlyResetAt) {
		return decimal.Zero
	}
	return l.MonthlySpent
}

// Limit returns the configured amount for a period
func (l *CostLimit) Limit(p Period) decimal.Decimal {
	if p == PeriodMonthly {
		return l.MonthlyLimit
	}
	return l.DailyLimit
}

// Thresholds returns warning and critical percentages, falling back to defaults
func (l *CostLimit) Thresholds() (warning, critical int) {
	warning, critical = l.WarningThresholdPct, l.CriticalThresholdPct
	if warning <= 0 {
		warning = DefaultWarningThresholdPct
	}
	if critical <= 0 {
		critical = DefaultCriticalThresholdPct
	}
	return warning, critical
}

// LevelOf classifies spend against one of the limit's periods
func (l *CostLimit) LevelOf(p Period, spent decimal.Decimal) Level {
	warning, critical := l.Thresholds()
	return LevelFor(Percentage(spent, l.Limit(p)), warning, critical)
}

// Percentage returns spent as a percentage of limit. A non-positive limit means unlimited and yields 0.
func Percentage(spent, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return spent.Mul(hundred).Div(limit)
}

// Remaining returns limit - spent clamped at zero
func Remaining(spent, limit decimal.Decimal) decimal.Decimal {
	r := limit.Sub(spent)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// NewCostLimit builds a limit for owner from the tier defaults with reset times after now
func NewCostLimit(ownerID string, tier PlanTier, now time.Time) *CostLimit {
	d := DefaultsFor(tier)
	return &CostLimit{
		ID:                   uuid.New(),
		OwnerID:              ownerID,
		PlanTier:             tier,
		DailyLimit:           d.DailyLimit,
		MonthlyLimit:         d.MonthlyLimit,
		DailySpent:           decimal.Zero,
		MonthlySpent:         decimal.Zero,
		DailyResetAt:         NextDailyReset(now),
		MonthlyResetAt:       NextMonthlyReset(now),
		WarningThresholdPct:  DefaultWarningThresholdPct,
		CriticalThresholdPct: DefaultCriticalThresholdPct,
		EnforceHardLimit:     d.EnforceHardLimit,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
