package usage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(v int64) *int64 { return &v }
func code(v int) *int   { return &v }

func TestAggregate(t *testing.T) {
	events := []*Event{
		{Provider: ProviderAnthropic, Service: ServiceChat, Model: "claude-3-5-sonnet", InputUnits: 100, OutputUnits: 50,
			CostAmount: decimal.RequireFromString("0.00105"), DurationMs: ms(400), StatusCode: code(200)},
		{Provider: ProviderOpenAI, Service: ServiceEmbeddings, Model: "text-embedding-3-small", InputUnits: 1000,
			CostAmount: decimal.RequireFromString("0.00002"), DurationMs: ms(100), StatusCode: code(500)},
		{Provider: ProviderOpenAI, Service: ServiceTranscription, Model: "whisper-1",
			CostAmount: decimal.RequireFromString("0.06")},
		nil,
	}

	got := Aggregate(events)

	assert.Equal(t, int64(3), got.TotalCalls)
	assert.True(t, decimal.RequireFromString("0.06107").Equal(got.TotalCost), got.TotalCost.String())
	assert.True(t, decimal.RequireFromString("0.06002").Equal(got.CostByProvider["openai"]))
	assert.True(t, decimal.RequireFromString("0.00105").Equal(got.CostByService["chat"]))
	assert.True(t, decimal.RequireFromString("0.06").Equal(got.CostByModel["whisper-1"]))
	assert.Equal(t, int64(1100), got.InputUnits)
	assert.Equal(t, int64(50), got.OutputUnits)
	// the event without a duration does not dilute the average
	assert.InDelta(t, 250.0, got.AvgLatencyMs, 0.001)
	assert.Equal(t, int64(1), got.ErrorCount)
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil)

	assert.Zero(t, got.TotalCalls)
	assert.True(t, got.TotalCost.IsZero())
	assert.Zero(t, got.AvgLatencyMs)
	assert.NotNil(t, got.CostByProvider)
}

func TestMerge(t *testing.T) {
	a := Aggregate([]*Event{{Provider: ProviderOpenAI, Service: ServiceChat, CostAmount: decimal.NewFromInt(1), DurationMs: ms(100)}})
	b := Aggregate([]*Event{
		{Provider: ProviderOpenAI, Service: ServiceChat, CostAmount: decimal.NewFromInt(2), DurationMs: ms(400)},
		{Provider: ProviderAWS, Service: ServiceStorage, CostAmount: decimal.NewFromInt(3), DurationMs: ms(400)},
	})

	got := Merge(a, b)

	assert.Equal(t, int64(3), got.TotalCalls)
	assert.True(t, decimal.NewFromInt(6).Equal(got.TotalCost))
	assert.True(t, decimal.NewFromInt(3).Equal(got.CostByProvider["openai"]))
	assert.InDelta(t, 300.0, got.AvgLatencyMs, 0.001)
	assert.Equal(t, int64(3), got.LatencySamples)
}

func TestMerge_CallsWithoutDurationDoNotDiluteLatency(t *testing.T) {
	day1 := []*Event{{Provider: ProviderOpenAI, Service: ServiceChat, DurationMs: ms(100)}}
	for i := 0; i < 9; i++ {
		day1 = append(day1, &Event{Provider: ProviderAWS, Service: ServiceStorage})
	}
	day2 := []*Event{{Provider: ProviderOpenAI, Service: ServiceChat, DurationMs: ms(200)}}

	direct := Aggregate(append(append([]*Event{}, day1...), day2...))
	merged := Merge(Aggregate(day1), Aggregate(day2))

	assert.InDelta(t, 150.0, direct.AvgLatencyMs, 0.001)
	assert.InDelta(t, direct.AvgLatencyMs, merged.AvgLatencyMs, 0.001)
	assert.Equal(t, int64(11), merged.TotalCalls)
	assert.Equal(t, int64(2), merged.LatencySamples)
}

func TestMerge_NoDurations(t *testing.T) {
	got := Merge(Aggregate([]*Event{{Provider: ProviderAWS, Service: ServiceStorage}}), NewTotals())

	assert.Equal(t, int64(1), got.TotalCalls)
	assert.Zero(t, got.AvgLatencyMs)
	assert.Zero(t, got.LatencySamples)
}

func TestDailySeries_ZeroFillsContiguousDays(t *testing.T) {
	through := time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC)
	events := []*Event{
		{OccurredAt: time.Date(2024, 3, 31, 1, 0, 0, 0, time.UTC), CostAmount: decimal.NewFromInt(1)},
		{OccurredAt: time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC), CostAmount: decimal.NewFromInt(1)},
		{OccurredAt: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC), CostAmount: decimal.NewFromInt(5)},
		{OccurredAt: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), CostAmount: decimal.NewFromInt(9)},
	}

	points := DailySeries(events, 30, through)

	require.Len(t, points, 30)
	for i := 1; i < len(points); i++ {
		assert.Equal(t, points[i-1].Date.AddDate(0, 0, 1), points[i].Date)
	}
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), points[0].Date)
	assert.Equal(t, int64(1), points[0].Calls)
	assert.Equal(t, int64(2), points[29].Calls)
	assert.True(t, decimal.NewFromInt(2).Equal(points[29].Cost))
	assert.Zero(t, points[15].Calls)
}

func TestFillDays(t *testing.T) {
	through := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	summaries := []*Summary{
		{PeriodStart: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), Totals: Totals{TotalCalls: 4, TotalCost: decimal.NewFromInt(2)}},
	}

	points := FillDays(summaries, 7, through)

	require.Len(t, points, 7)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), points[0].Date)
	assert.Equal(t, int64(4), points[5].Calls)
	assert.True(t, points[6].Cost.IsZero())
	assert.Empty(t, FillDays(nil, 0, through))
}
