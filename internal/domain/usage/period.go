package usage

import (
	"time"

	"coursecast/pkg/errors"
)

// PeriodType is the granularity of a usage summary
type PeriodType string

const (
	PeriodHour  PeriodType = "hour"
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week"
	PeriodMonth PeriodType = "month"
)

// ParsePeriodType validates a period name
func ParsePeriodType(s string) (PeriodType, error) {
	switch p := PeriodType(s); p {
	case PeriodHour, PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidInput, "unknown period %q", s)
}

// Start returns the UTC start of the period containing t. Weeks start on Monday.
func (p PeriodType) Start(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodHour:
		return t.Truncate(time.Hour)
	case PeriodWeek:
		day := StartOfDay(t)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return StartOfDay(t)
	}
}

// End returns the exclusive UTC end of the period containing t
func (p PeriodType) End(t time.Time) time.Time {
	start := p.Start(t)
	switch p {
	case PeriodHour:
		return start.Add(time.Hour)
	case PeriodWeek:
		return start.AddDate(0, 0, 7)
	case PeriodMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Previous returns the start of the period before the one containing t
func (p PeriodType) Previous(t time.Time) time.Time {
	return p.Start(p.Start(t).Add(-time.Nanosecond))
}

// StartOfDay truncates t to UTC midnight
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
