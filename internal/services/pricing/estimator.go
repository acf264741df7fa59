package pricing

import (
	"sync"

	"github.com/shopspring/decimal"

	"coursecast/internal/domain/usage"
)

// Cost amounts are kept to this many decimal places
const costScale = 8

var (
	thousand     = decimal.NewFromInt(1000)
	msPerMinute  = decimal.NewFromInt(60_000)
	daysPerMonth = decimal.NewFromInt(30)
)

// Usage is the metered quantity of one call
type Usage struct {
	InputUnits  int64
	OutputUnits int64
	DurationMs  int64
	StorageGB   decimal.Decimal
	StorageDays int
	Queries     int64
}

// Estimate is a priced usage. Known is false when no rate matched; Cost is then zero.
type Estimate struct {
	Cost  decimal.Decimal
	Known bool
	Items []usage.CostItem
}

// CostEstimator prices usage
type CostEstimator interface {
	Estimate(provider usage.Provider, service usage.Service, model string, u Usage) Estimate
}

// Compile-time check
var _ CostEstimator = (*Estimator)(nil)

// Estimator prices usage from a Table. Safe for concurrent use.
type Estimator struct {
	mu    sync.RWMutex
	table Table
}

// NewEstimator creates an estimator over table
func NewEstimator(table Table) *Estimator {
	return &Estimator{table: table}
}

// UpdateTable swaps the pricing table
func (e *Estimator) UpdateTable(table Table) {
	e.mu.Lock()
	e.table = table
	e.mu.Unlock()
}

// Estimate prices u. It never fails: unknown provider/service/model yields a zero, unknown estimate.
func (e *Estimator) Estimate(provider usage.Provider, service usage.Service, model string, u Usage) Estimate {
	e.mu.RLock()
	rate, ok := e.table.Lookup(provider, service, model)
	e.mu.RUnlock()

	if !ok {
		return Estimate{Cost: decimal.Zero}
	}

	est := Estimate{Cost: decimal.Zero, Known: true}
	add := func(qty decimal.Decimal, unit string, unitCost, total decimal.Decimal) {
		if total.IsZero() {
			return
		}
		total = total.Round(costScale)
		est.Cost = est.Cost.Add(total)
		est.Items = append(est.Items, usage.CostItem{
			Provider:  provider,
			Service:   service,
			Model:     model,
			Quantity:  qty,
			Unit:      unit,
			UnitCost:  unitCost,
			TotalCost: total,
		})
	}

	if u.InputUnits > 0 && rate.InputPer1K.IsPositive() {
		in := decimal.NewFromInt(u.InputUnits)
		add(in, "input_1k_units", rate.InputPer1K, in.Mul(rate.InputPer1K).Div(thousand))
	}
	if u.OutputUnits > 0 && rate.OutputPer1K.IsPositive() {
		out := decimal.NewFromInt(u.OutputUnits)
		add(out, "output_1k_units", rate.OutputPer1K, out.Mul(rate.OutputPer1K).Div(thousand))
	}
	if u.DurationMs > 0 && rate.PerMinute.IsPositive() {
		minutes := decimal.NewFromInt(u.DurationMs).Div(msPerMinute)
		add(minutes, "minute", rate.PerMinute, minutes.Mul(rate.PerMinute))
	}
	if u.StorageGB.IsPositive() && u.StorageDays > 0 && rate.PerGBMonth.IsPositive() {
		months := decimal.NewFromInt(int64(u.StorageDays)).Div(daysPerMonth)
		add(u.StorageGB, "gb_month", rate.PerGBMonth, u.StorageGB.Mul(rate.PerGBMonth).Mul(months))
	}
	if u.Queries > 0 && rate.Per1KQueries.IsPositive() {
		q := decimal.NewFromInt(u.Queries)
		add(q, "1k_queries", rate.Per1KQueries, q.Mul(rate.Per1KQueries).Div(thousand))
	}

	return est
}
