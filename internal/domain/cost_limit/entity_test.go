package cost_limit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestResetTimes(t *testing.T) {
	now := time.Date(2024, 12, 31, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), NextDailyReset(now))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), NextMonthlyReset(now))

	l := NewCostLimit("t1", TierFree, now)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), l.DailyPeriodStart())
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), l.MonthlyPeriodStart())
}

func TestEffectiveSpentResetsAtResetTime(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	l := NewCostLimit("t1", TierBasic, now)
	l.DailySpent = d("3")
	l.MonthlySpent = d("20")

	assert.True(t, d("3").Equal(l.EffectiveDailySpent(now)))
	assert.True(t, l.EffectiveDailySpent(l.DailyResetAt).IsZero())
	assert.True(t, d("20").Equal(l.EffectiveMonthlySpent(l.DailyResetAt)))
	assert.True(t, l.EffectiveMonthlySpent(l.MonthlyResetAt).IsZero())
}

func TestPercentageAndRemaining(t *testing.T) {
	assert.True(t, d("102").Equal(Percentage(d("5.10"), d("5.00"))))
	assert.True(t, Percentage(d("3"), decimal.Zero).IsZero())
	assert.True(t, d("0.05").Equal(Remaining(d("4.95"), d("5.00"))))
	assert.True(t, Remaining(d("6"), d("5")).IsZero())
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		pct  string
		want Level
	}{
		{"0", LevelUnderWarning},
		{"79.99", LevelUnderWarning},
		{"80", LevelWarning},
		{"94.9", LevelWarning},
		{"95", LevelCritical},
		{"99.99", LevelCritical},
		{"100", LevelExceeded},
		{"250", LevelExceeded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(d(tt.pct), 80, 95), tt.pct)
	}
}

func TestTransitions_OnlyUpwardAndHighest(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	before := NewCostLimit("t1", TierBasic, now) // 5 daily / 50 monthly
	before.DailySpent = d("3.90")
	before.MonthlySpent = d("10")

	after := *before
	after.DailySpent = d("4.80") // 78% -> 96%: skips warning, lands in critical
	after.MonthlySpent = d("10.90")

	got := Transitions(before, &after, now)
	require.Len(t, got, 1)
	assert.Equal(t, PeriodDaily, got[0].Period)
	assert.Equal(t, LevelUnderWarning, got[0].From)
	assert.Equal(t, LevelCritical, got[0].To)

	// staying inside critical raises nothing
	again := after
	again.DailySpent = d("4.85")
	assert.Empty(t, Transitions(&after, &again, now))
}

func TestTransitions_AfterRollover(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	before := NewCostLimit("t1", TierBasic, now.AddDate(0, 0, -1))
	before.DailySpent = d("4.90") // critical yesterday

	after := *before
	after.DailyResetAt = NextDailyReset(now)
	after.DailySpent = d("4.90") // critical again today

	got := Transitions(before, &after, now)
	require.Len(t, got, 1)
	assert.Equal(t, LevelCritical, got[0].To)

	alert := NewAlert(&after, got[0], now)
	assert.Equal(t, AlertCritical, alert.AlertType)
	assert.Equal(t, 95, alert.ThresholdPct)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), alert.PeriodStart)
	assert.True(t, d("5").Equal(alert.LimitAmount))
}

func TestTierDefaults(t *testing.T) {
	free := DefaultsFor(TierFree)
	assert.False(t, free.EnforceHardLimit)
	assert.Equal(t, free, DefaultsFor("unknown"))
	assert.True(t, DefaultsFor(TierPro).MonthlyLimit.GreaterThan(DefaultsFor(TierBasic).MonthlyLimit))

	_, err := ParsePlanTier("platinum")
	assert.Error(t, err)
}
