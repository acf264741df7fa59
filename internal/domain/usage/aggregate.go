package usage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Totals is the aggregate over a set of events
type Totals struct {
	TotalCalls     int64                      `json:"total_calls"`
	TotalCost      decimal.Decimal            `json:"total_cost"`
	CostByProvider map[string]decimal.Decimal `json:"cost_by_provider"`
	CostByService  map[string]decimal.Decimal `json:"cost_by_service"`
	CostByModel    map[string]decimal.Decimal `json:"cost_by_model"`
	InputUnits     int64                      `json:"input_units"`
	OutputUnits    int64                      `json:"output_units"`
	AvgLatencyMs   float64                    `json:"avg_latency_ms"`
	LatencySamples int64                      `json:"latency_samples"` // events that reported a duration
	ErrorCount     int64                      `json:"error_count"`
}

// Summary is the materialized aggregate of one owner over one period.
// It is always recomputed wholesale, never patched.
type Summary struct {
	OwnerID     string     `json:"owner_id"`
	PeriodType  PeriodType `json:"period_type"`
	PeriodStart time.Time  `json:"period_start"`
	Totals
	ComputedAt time.Time `json:"computed_at"`
}

// NewTotals returns empty totals with initialized buckets
func NewTotals() Totals {
	return Totals{
		TotalCost:      decimal.Zero,
		CostByProvider: map[string]decimal.Decimal{},
		CostByService:  map[string]decimal.Decimal{},
		CostByModel:    map[string]decimal.Decimal{},
	}
}

// Aggregate folds events into Totals in a single pass.
// Latency is averaged over events that carry a duration only;
// events with status >= 400 count as errors.
func Aggregate(events []*Event) Totals {
	t := NewTotals()

	var (
		latencySum   int64
		latencyCount int64
	)

	for _, e := range events {
		if e == nil {
			continue
		}
		t.TotalCalls++
		t.TotalCost = t.TotalCost.Add(e.CostAmount)
		t.CostByProvider[string(e.Provider)] = t.CostByProvider[string(e.Provider)].Add(e.CostAmount)
		t.CostByService[string(e.Service)] = t.CostByService[string(e.Service)].Add(e.CostAmount)
		if e.Model != "" {
			t.CostByModel[e.Model] = t.CostByModel[e.Model].Add(e.CostAmount)
		}
		t.InputUnits += e.InputUnits
		t.OutputUnits += e.OutputUnits

		if e.DurationMs != nil {
			latencySum += *e.DurationMs
			latencyCount++
		}
		if e.IsError() {
			t.ErrorCount++
		}
	}

	if latencyCount > 0 {
		t.AvgLatencyMs = float64(latencySum) / float64(latencyCount)
		t.LatencySamples = latencyCount
	}
	return t
}

// Merge combines totals of disjoint event sets. Average latency is weighted by
// LatencySamples, so parts with calls but no reported durations do not dilute it.
func Merge(parts ...Totals) Totals {
	out := NewTotals()
	var weighted float64
	var samples int64

	for _, p := range parts {
		out.TotalCalls += p.TotalCalls
		out.TotalCost = out.TotalCost.Add(p.TotalCost)
		mergeBucket(out.CostByProvider, p.CostByProvider)
		mergeBucket(out.CostByService, p.CostByService)
		mergeBucket(out.CostByModel, p.CostByModel)
		out.InputUnits += p.InputUnits
		out.OutputUnits += p.OutputUnits
		out.ErrorCount += p.ErrorCount
		if p.LatencySamples > 0 {
			weighted += p.AvgLatencyMs * float64(p.LatencySamples)
			samples += p.LatencySamples
		}
	}

	if samples > 0 {
		out.AvgLatencyMs = weighted / float64(samples)
		out.LatencySamples = samples
	}
	return out
}

func mergeBucket(dst, src map[string]decimal.Decimal) {
	for k, v := range src {
		dst[k] = dst[k].Add(v)
	}
}

// DailySeries buckets events by UTC day over the `days` days ending on `through`.
// Days without events are present with zero values.
func DailySeries(events []*Event, days int, through time.Time) []DailyPoint {
	if days <= 0 {
		return []DailyPoint{}
	}

	last := StartOfDay(through)
	first := last.AddDate(0, 0, -(days - 1))

	points := make([]DailyPoint, days)
	for i := range points {
		points[i] = DailyPoint{Date: first.AddDate(0, 0, i), Cost: decimal.Zero}
	}

	for _, e := range events {
		if e == nil {
			continue
		}
		idx := int(StartOfDay(e.OccurredAt).Sub(first).Hours() / 24)
		if idx < 0 || idx >= days {
			continue
		}
		points[idx].Calls++
		points[idx].Cost = points[idx].Cost.Add(e.CostAmount)
	}
	return points
}

// FillDays expands sparse daily summaries into a contiguous series of `days` points ending on `through`
func FillDays(summaries []*Summary, days int, through time.Time) []DailyPoint {
	if days <= 0 {
		return []DailyPoint{}
	}

	last := StartOfDay(through)
	first := last.AddDate(0, 0, -(days - 1))

	byDay := make(map[time.Time]*Summary, len(summaries))
	for _, s := range summaries {
		if s != nil {
			byDay[StartOfDay(s.PeriodStart)] = s
		}
	}

	points := make([]DailyPoint, days)
	for i := range points {
		day := first.AddDate(0, 0, i)
		points[i] = DailyPoint{Date: day, Cost: decimal.Zero}
		if s, ok := byDay[day]; ok {
			points[i].Calls = s.TotalCalls
			points[i].Cost = s.TotalCost
		}
	}
	return points
}
