package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/pkg/errors"
)

func TestPeriodBounds(t *testing.T) {
	// Thursday
	ts := time.Date(2024, 2, 29, 13, 45, 10, 0, time.UTC)

	tests := []struct {
		period PeriodType
		start  time.Time
		end    time.Time
	}{
		{PeriodHour, time.Date(2024, 2, 29, 13, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 14, 0, 0, 0, time.UTC)},
		{PeriodDay, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodWeek, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{PeriodMonth, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			assert.Equal(t, tt.start, tt.period.Start(ts))
			assert.Equal(t, tt.end, tt.period.End(ts))
		})
	}
}

func TestPeriodWeekStartsMonday(t *testing.T) {
	sunday := time.Date(2024, 3, 3, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), PeriodWeek.Start(sunday))

	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, PeriodWeek.Start(monday))
}

func TestPeriodPrevious(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), PeriodDay.Previous(ts))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), PeriodMonth.Previous(ts))
	assert.Equal(t, time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC), PeriodHour.Previous(ts))
}

func TestParsePeriodType(t *testing.T) {
	p, err := ParsePeriodType("week")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, p)

	_, err = ParsePeriodType("year")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestEventOwner(t *testing.T) {
	assert.Equal(t, "t1", (&Event{TenantID: "t1", ActorID: "a1"}).OwnerID())
	assert.Equal(t, "a1", (&Event{ActorID: "a1"}).OwnerID())
	assert.True(t, (&Event{StatusCode: code(404)}).IsError())
	assert.False(t, (&Event{}).IsError())
}
