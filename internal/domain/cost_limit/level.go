package cost_limit

import "github.com/shopspring/decimal"

// Level is the alert state of spend within one period.
// Levels only move up within a period and return to LevelUnderWarning on reset.
type Level int

const (
	LevelUnderWarning Level = iota
	LevelWarning
	LevelCritical
	LevelExceeded
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelExceeded:
		return "exceeded"
	default:
		return "under_warning"
	}
}

// AlertType returns the alert raised on entering the level; empty for LevelUnderWarning
func (l Level) AlertType() AlertType {
	switch l {
	case LevelWarning:
		return AlertWarning
	case LevelCritical:
		return AlertCritical
	case LevelExceeded:
		return AlertLimitExceeded
	}
	return ""
}

// LevelFor maps a percentage of the limit onto a Level
func LevelFor(pct decimal.Decimal, warningPct, criticalPct int) Level {
	switch {
	case pct.GreaterThanOrEqual(hundred):
		return LevelExceeded
	case pct.GreaterThanOrEqual(decimal.NewFromInt(int64(criticalPct))):
		return LevelCritical
	case pct.GreaterThanOrEqual(decimal.NewFromInt(int64(warningPct))):
		return LevelWarning
	}
	return LevelUnderWarning
}

// ThresholdPct returns the percentage at which the level begins
func ThresholdPct(l Level, warningPct, criticalPct int) int {
	switch l {
	case LevelWarning:
		return warningPct
	case LevelCritical:
		return criticalPct
	case LevelExceeded:
		return 100
	}
	return 0
}
