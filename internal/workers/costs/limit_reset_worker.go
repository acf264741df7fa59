package costs

import (
	"context"
	"time"

	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/workers"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// LimitInvalidator drops cached limit state of an owner
type LimitInvalidator interface {
	InvalidateCostLimit(ctx context.Context, ownerID string)
}

// LimitResetWorker zeroes spend whose period has ended. Spend increments roll
// periods over on their own; the sweep keeps idle owners' rows and cached
// limits current.
type LimitResetWorker struct {
	*workers.BaseWorker
	limits      cost_limit.Repository
	invalidator LimitInvalidator
	now         func() time.Time
}

// NewLimitResetWorker creates a new limit reset worker
func NewLimitResetWorker(
	limits cost_limit.Repository,
	invalidator LimitInvalidator,
	interval time.Duration,
	enabled bool,
	log *logger.Logger,
) *LimitResetWorker {
	return &LimitResetWorker{
		BaseWorker:  workers.NewBaseWorker("limit_reset", interval, enabled, log),
		limits:      limits,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// Run executes one sweep
func (w *LimitResetWorker) Run(ctx context.Context) error {
	owners, err := w.limits.ResetExpired(ctx, w.now().UTC())
	if err != nil {
		return errors.Wrap(err, "reset expired limits")
	}

	for _, owner := range owners {
		w.invalidator.InvalidateCostLimit(ctx, owner)
	}

	if len(owners) > 0 {
		w.Log().Infow("Spend periods reset", "owners", len(owners))
	}
	return nil
}
