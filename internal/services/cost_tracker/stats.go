package cost_tracker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	domaincache "coursecast/internal/domain/cache"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/domain/usage"
	"coursecast/internal/services/cache"
	"coursecast/pkg/errors"
)

// Breakdown is the cost of an owner over [From, To) split by provider, service and model
type Breakdown struct {
	OwnerID    string                     `json:"owner_id"`
	From       time.Time                  `json:"from"`
	To         time.Time                  `json:"to"`
	TotalCalls int64                      `json:"total_calls"`
	TotalCost  decimal.Decimal            `json:"total_cost"`
	ByProvider map[string]decimal.Decimal `json:"by_provider"`
	ByService  map[string]decimal.Decimal `json:"by_service"`
	ByModel    map[string]decimal.Decimal `json:"by_model"`
}

// LimitStatus is the spend of an owner against its limits
type LimitStatus struct {
	PlanTier          cost_limit.PlanTier `json:"plan_tier"`
	DailyLimit        decimal.Decimal     `json:"daily_limit"`
	DailySpent        decimal.Decimal     `json:"daily_spent"`
	DailyPercentage   decimal.Decimal     `json:"daily_percentage"`
	MonthlyLimit      decimal.Decimal     `json:"monthly_limit"`
	MonthlySpent      decimal.Decimal     `json:"monthly_spent"`
	MonthlyPercentage decimal.Decimal     `json:"monthly_percentage"`
	EnforceHardLimit  bool                `json:"enforce_hard_limit"`
	IsDefault         bool                `json:"is_default"`
}

// Stats is the dashboard bundle of an owner
type Stats struct {
	OwnerID     string              `json:"owner_id"`
	Today       *usage.Summary      `json:"today"`
	Month       *usage.Summary      `json:"month"`
	Daily       []usage.DailyPoint  `json:"daily"`
	Limit       *LimitStatus        `json:"limit,omitempty"`
	Alerts      []*cost_limit.Alert `json:"alerts"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// statsDays is the length of the daily series in Stats
const statsDays = 30

func emptySummary(owner string, period usage.PeriodType, start time.Time) *usage.Summary {
	return &usage.Summary{
		OwnerID:     owner,
		PeriodType:  period,
		PeriodStart: start,
		Totals:      usage.NewTotals(),
	}
}

// totals aggregates [from, to). Whole closed days are served from daily
// rollups when every day is materialized; anything else reads raw events.
func (s *Service) totals(ctx context.Context, owner string, from, to time.Time) (usage.Totals, error) {
	if days := wholeDays(from, to); days > 0 && !to.After(usage.StartOfDay(s.clock())) {
		rollups, err := s.ledger.QueryRollups(ctx, owner, usage.PeriodDay, from, to)
		if err == nil && len(rollups) == days {
			parts := make([]usage.Totals, 0, len(rollups))
			for _, r := range rollups {
				parts = append(parts, r.Totals)
			}
			return usage.Merge(parts...), nil
		}
		if err != nil {
			s.log.Warnw("Rollup query failed, aggregating raw events", "owner_id", owner, "error", err)
		}
	}

	events, err := s.ledger.Query(ctx, usage.Filter{OwnerID: owner, From: from, To: to})
	if err != nil {
		return usage.Totals{}, err
	}
	return usage.Aggregate(events), nil
}

// wholeDays returns the number of UTC days in [from, to) when both ends are midnights
func wholeDays(from, to time.Time) int {
	if !from.Equal(usage.StartOfDay(from)) || !to.Equal(usage.StartOfDay(to)) || !to.After(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

// GetUsageSummary returns the owner's totals for the period containing at.
// A materialized rollup is used when present; otherwise raw events are aggregated.
// Storage errors yield an empty summary.
func (s *Service) GetUsageSummary(ctx context.Context, owner string, period usage.PeriodType, at time.Time) *usage.Summary {
	summary, err := s.usageSummary(ctx, owner, period, at)
	if err != nil {
		s.log.Errorw("Failed to compute usage summary", "owner_id", owner, "period", period, "error", err)
		return emptySummary(owner, period, period.Start(at))
	}
	return summary
}

func (s *Service) usageSummary(ctx context.Context, owner string, period usage.PeriodType, at time.Time) (*usage.Summary, error) {
	start := period.Start(at)
	end := period.End(at)
	key := cachekey.UsageSummary(owner, string(period), start)
	ttl := s.cfg.Policy.For(domaincache.KindUsage)

	return cache.GetOrComputeWithLock(ctx, s.cache, key, ttl, func(ctx context.Context) (*usage.Summary, error) {
		rollups, err := s.ledger.QueryRollups(ctx, owner, period, start, end)
		if err == nil && len(rollups) > 0 {
			return rollups[0], nil
		}

		t, err := s.totals(ctx, owner, start, end)
		if err != nil {
			return nil, err
		}
		return &usage.Summary{
			OwnerID:     owner,
			PeriodType:  period,
			PeriodStart: start,
			Totals:      t,
			ComputedAt:  s.clock(),
		}, nil
	})
}

// GetDailyUsage returns exactly `days` contiguous points ending today (UTC),
// with days capped at 366; larger requests get the last 366 days.
// Closed days come from daily rollups when present, the rest from raw events;
// days without usage are zero.
func (s *Service) GetDailyUsage(ctx context.Context, owner string, days int) []usage.DailyPoint {
	if days > maxDailyPoints {
		days = maxDailyPoints
	}
	if days <= 0 {
		return []usage.DailyPoint{}
	}
	now := s.clock()

	points, err := s.dailyUsage(ctx, owner, days, now)
	if err != nil {
		s.log.Errorw("Failed to compute daily usage", "owner_id", owner, "days", days, "error", err)
		return usage.FillDays(nil, days, now)
	}
	return points
}

func (s *Service) dailyUsage(ctx context.Context, owner string, days int, now time.Time) ([]usage.DailyPoint, error) {
	key := cachekey.UsageDaily(owner, days, now)
	ttl := s.cfg.Policy.For(domaincache.KindUsage)

	return cache.GetOrComputeWithLock(ctx, s.cache, key, ttl, func(ctx context.Context) ([]usage.DailyPoint, error) {
		today := usage.StartOfDay(now)
		first := today.AddDate(0, 0, -(days - 1))

		rollups, err := s.ledger.QueryRollups(ctx, owner, usage.PeriodDay, first, today)
		if err != nil {
			s.log.Warnw("Rollup query failed, aggregating raw events", "owner_id", owner, "error", err)
			rollups = nil
		}

		covered := make(map[time.Time]bool, len(rollups))
		for _, r := range rollups {
			covered[usage.StartOfDay(r.PeriodStart)] = true
		}

		// Raw events only from the first day without a rollup
		rawFrom := today
		for d := first; d.Before(today); d = d.AddDate(0, 0, 1) {
			if !covered[d] {
				rawFrom = d
				break
			}
		}

		events, err := s.ledger.Query(ctx, usage.Filter{OwnerID: owner, From: rawFrom, To: today.AddDate(0, 0, 1)})
		if err != nil {
			return nil, err
		}

		series := usage.FillDays(rollups, days, now)
		raw := usage.DailySeries(events, days, now)
		for i := range series {
			if !covered[series[i].Date] {
				series[i] = raw[i]
			}
		}
		return series, nil
	})
}

// GetCostBreakdown splits the owner's cost over [from, to) by provider, service and model.
// Storage errors yield an empty breakdown.
func (s *Service) GetCostBreakdown(ctx context.Context, owner string, from, to time.Time) *Breakdown {
	from, to = from.UTC(), to.UTC()
	key := cachekey.UsageBreakdown(owner, from, to)
	ttl := s.cfg.Policy.For(domaincache.KindUsage)

	b, err := cache.GetOrCompute(ctx, s.cache, key, ttl, func(ctx context.Context) (*Breakdown, error) {
		t, err := s.totals(ctx, owner, from, to)
		if err != nil {
			return nil, err
		}
		return breakdownOf(owner, from, to, t), nil
	})
	if err != nil {
		s.log.Errorw("Failed to compute cost breakdown", "owner_id", owner, "error", err)
		return breakdownOf(owner, from, to, usage.NewTotals())
	}
	return b
}

func breakdownOf(owner string, from, to time.Time, t usage.Totals) *Breakdown {
	return &Breakdown{
		OwnerID:    owner,
		From:       from,
		To:         to,
		TotalCalls: t.TotalCalls,
		TotalCost:  t.TotalCost,
		ByProvider: t.CostByProvider,
		ByService:  t.CostByService,
		ByModel:    t.CostByModel,
	}
}

// degradedStats carries a bundle in which some parts fell back to empty.
// Returned from the compute step so the bundle is served but not cached.
type degradedStats struct {
	stats *Stats
	parts []string
}

func (e *degradedStats) Error() string {
	return "usage stats degraded: " + strings.Join(e.parts, ", ")
}

// GetUsageStats bundles today's and this month's summaries, the 30-day series,
// limit status and open alerts. Parts are fetched concurrently; each degrades
// to empty on its own, and a degraded bundle is not cached.
func (s *Service) GetUsageStats(ctx context.Context, owner string) *Stats {
	now := s.clock()
	key := cachekey.UsageStats(owner, now)
	ttl := s.cfg.Policy.Duration(cachekey.ClassShort)

	stats, err := cache.GetOrCompute(ctx, s.cache, key, ttl, func(ctx context.Context) (*Stats, error) {
		return s.collectStats(ctx, owner, now)
	})
	var degraded *degradedStats
	if errors.As(err, &degraded) {
		s.log.Warnw("Serving uncached usage stats", "owner_id", owner, "degraded", degraded.parts)
		return degraded.stats
	}
	if err != nil || stats == nil {
		s.log.Errorw("Failed to compute usage stats", "owner_id", owner, "error", err)
		return &Stats{OwnerID: owner, GeneratedAt: now, Daily: usage.FillDays(nil, statsDays, now), Alerts: []*cost_limit.Alert{}}
	}
	return stats
}

func (s *Service) collectStats(ctx context.Context, owner string, now time.Time) (*Stats, error) {
	st := &Stats{OwnerID: owner, GeneratedAt: now}

	var (
		mu     sync.Mutex
		failed []string
	)
	fail := func(part string, err error) {
		s.log.Errorw("Usage stats part unavailable", "owner_id", owner, "part", part, "error", err)
		mu.Lock()
		failed = append(failed, part)
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		sum, err := s.usageSummary(ctx, owner, usage.PeriodDay, now)
		if err != nil {
			fail("today", err)
			sum = emptySummary(owner, usage.PeriodDay, usage.PeriodDay.Start(now))
		}
		st.Today = sum
		return nil
	})
	g.Go(func() error {
		sum, err := s.usageSummary(ctx, owner, usage.PeriodMonth, now)
		if err != nil {
			fail("month", err)
			sum = emptySummary(owner, usage.PeriodMonth, usage.PeriodMonth.Start(now))
		}
		st.Month = sum
		return nil
	})
	g.Go(func() error {
		points, err := s.dailyUsage(ctx, owner, statsDays, now)
		if err != nil {
			fail("daily", err)
			points = usage.FillDays(nil, statsDays, now)
		}
		st.Daily = points
		return nil
	})
	g.Go(func() error {
		alerts, err := s.listAlerts(ctx, owner, s.cfg.AlertsPageSize)
		if err != nil {
			fail("alerts", err)
			alerts = []*cost_limit.Alert{}
		}
		st.Alerts = alerts
		return nil
	})
	g.Go(func() error {
		l, err := s.GetLimit(ctx, owner)
		if err != nil {
			fail("limit", err)
			return nil
		}
		st.Limit = limitStatus(l, now)
		return nil
	})
	_ = g.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		return nil, &degradedStats{stats: st, parts: failed}
	}
	return st, nil
}

func limitStatus(l *cost_limit.CostLimit, now time.Time) *LimitStatus {
	daily := l.EffectiveDailySpent(now)
	monthly := l.EffectiveMonthlySpent(now)
	return &LimitStatus{
		PlanTier:          l.PlanTier,
		DailyLimit:        l.DailyLimit,
		DailySpent:        daily,
		DailyPercentage:   cost_limit.Percentage(daily, l.DailyLimit).Round(2),
		MonthlyLimit:      l.MonthlyLimit,
		MonthlySpent:      monthly,
		MonthlyPercentage: cost_limit.Percentage(monthly, l.MonthlyLimit).Round(2),
		EnforceHardLimit:  l.EnforceHardLimit,
		IsDefault:         l.IsDefault,
	}
}
