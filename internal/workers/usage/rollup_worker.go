package usage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "coursecast/internal/domain/usage"
	"coursecast/internal/workers"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// rollupConcurrency bounds parallel per-owner aggregation
const rollupConcurrency = 4

// RollupWorker materializes usage summaries of closed periods.
// Each run recomputes the last Lookback closed periods of every granularity
// from raw events and replaces the stored summaries wholesale.
type RollupWorker struct {
	*workers.BaseWorker
	ledger   domain.Ledger
	periods  []domain.PeriodType
	lookback int
	now      func() time.Time
}

// NewRollupWorker creates a new usage rollup worker
func NewRollupWorker(ledger domain.Ledger, interval time.Duration, enabled bool, log *logger.Logger) *RollupWorker {
	return &RollupWorker{
		BaseWorker: workers.NewBaseWorker("usage_rollup", interval, enabled, log),
		ledger:     ledger,
		periods:    []domain.PeriodType{domain.PeriodHour, domain.PeriodDay, domain.PeriodWeek, domain.PeriodMonth},
		lookback:   2,
		now:        time.Now,
	}
}

// Run executes one rollup pass
func (w *RollupWorker) Run(ctx context.Context) error {
	now := w.now().UTC()

	var errs errors.MultiError
	total := 0
	for _, p := range w.periods {
		start := p.Start(now)
		for i := 0; i < w.lookback; i++ {
			start = p.Previous(start)
			n, err := w.rollup(ctx, p, start, p.End(start), now)
			if err != nil {
				errs.Add(errors.Wrapf(err, "%s rollup at %s", p, start.Format(time.RFC3339)))
				continue
			}
			total += n
		}
	}

	w.Log().Infow("Usage rollup complete", "summaries", total, "errors", len(errs.Errors))
	return errs.ToError()
}

// rollup recomputes one period for every owner active in it
func (w *RollupWorker) rollup(ctx context.Context, p domain.PeriodType, from, to, now time.Time) (int, error) {
	owners, err := w.ledger.ActiveOwners(ctx, from, to)
	if err != nil {
		return 0, errors.Wrap(err, "list active owners")
	}
	if len(owners) == 0 {
		return 0, nil
	}

	var (
		mu        sync.Mutex
		summaries = make([]*domain.Summary, 0, len(owners))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rollupConcurrency)
	for _, owner := range owners {
		g.Go(func() error {
			events, err := w.ledger.Query(gctx, domain.Filter{OwnerID: owner, From: from, To: to})
			if err != nil {
				return errors.Wrapf(err, "query events of %s", owner)
			}

			s := &domain.Summary{
				OwnerID:     owner,
				PeriodType:  p,
				PeriodStart: from,
				Totals:      domain.Aggregate(events),
				ComputedAt:  now,
			}

			mu.Lock()
			summaries = append(summaries, s)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := w.ledger.UpsertRollups(ctx, summaries); err != nil {
		return 0, errors.Wrap(err, "upsert rollups")
	}

	w.Log().Debugw("Period rolled up", "period", p, "start", from, "owners", len(owners))
	return len(summaries), nil
}
