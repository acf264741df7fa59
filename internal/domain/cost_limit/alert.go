package cost_limit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertType is the threshold tier an alert reports
type AlertType string

const (
	AlertWarning       AlertType = "warning"
	AlertCritical      AlertType = "critical"
	AlertLimitExceeded AlertType = "limit_exceeded"
)

// Alert records that spend crossed a threshold for the first time in a period.
// At most one alert exists per (owner, type, period, period start).
type Alert struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	OwnerID      string          `db:"owner_id" json:"owner_id"`
	AlertType    AlertType       `db:"alert_type" json:"alert_type"`
	Period       Period          `db:"period" json:"period"`
	PeriodStart  time.Time       `db:"period_start" json:"period_start"`
	ThresholdPct int             `db:"threshold_pct" json:"threshold_pct"`
	CurrentSpent decimal.Decimal `db:"current_spent" json:"current_spent"`
	LimitAmount  decimal.Decimal `db:"limit_amount" json:"limit_amount"`
	Message      string          `db:"message" json:"message"`

	Acknowledged   bool       `db:"acknowledged" json:"acknowledged"`
	AcknowledgedBy *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Transition describes spend moving from one level to a higher one
type Transition struct {
	Period Period
	From   Level
	To     Level
	Spent  decimal.Decimal
	Limit  decimal.Decimal
}

// Transitions compares spend before and after an increment and returns the
// upward level changes per period. Only the highest level reached is reported.
func Transitions(before, after *CostLimit, now time.Time) []Transition {
	var out []Transition

	if t, ok := transition(after, PeriodDaily, before.EffectiveDailySpent(now), after.DailySpent); ok {
		out = append(out, t)
	}
	if t, ok := transition(after, PeriodMonthly, before.EffectiveMonthlySpent(now), after.MonthlySpent); ok {
		out = append(out, t)
	}

	return out
}

func transition(l *CostLimit, p Period, prev, cur decimal.Decimal) (Transition, bool) {
	from := l.LevelOf(p, prev)
	to := l.LevelOf(p, cur)
	if to <= from {
		return Transition{}, false
	}
	return Transition{Period: p, From: from, To: to, Spent: cur, Limit: l.Limit(p)}, true
}

// NewAlert builds the alert for a transition
func NewAlert(l *CostLimit, t Transition, now time.Time) *Alert {
	warning, critical := l.Thresholds()

	start := l.DailyPeriodStart()
	if t.Period == PeriodMonthly {
		start = l.MonthlyPeriodStart()
	}

	return &Alert{
		ID:           uuid.New(),
		OwnerID:      l.OwnerID,
		AlertType:    t.To.AlertType(),
		Period:       t.Period,
		PeriodStart:  start,
		ThresholdPct: ThresholdPct(t.To, warning, critical),
		CurrentSpent: t.Spent,
		LimitAmount:  t.Limit,
		CreatedAt:    now,
	}
}
