package cost_limit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SpendUpdate is the outcome of an atomic spend increment
type SpendUpdate struct {
	Before *CostLimit
	After  *CostLimit
}

// Repository persists cost limits
type Repository interface {
	// GetByOwner returns errors.ErrNotFound when the owner has no limit
	GetByOwner(ctx context.Context, ownerID string) (*CostLimit, error)

	// Create inserts a limit unless one already exists for the owner
	Create(ctx context.Context, limit *CostLimit) error

	// Update replaces limits, thresholds and enforcement, keeping spend untouched
	Update(ctx context.Context, limit *CostLimit) error

	// AddSpend atomically adds amount to daily and monthly spend, rolling a
	// period over first when its reset time has passed.
	// Returns errors.ErrNotFound when the owner has no limit.
	AddSpend(ctx context.Context, ownerID string, amount decimal.Decimal, now time.Time) (*SpendUpdate, error)

	// ResetExpired zeroes every period whose reset time has passed and
	// returns the affected owners
	ResetExpired(ctx context.Context, now time.Time) ([]string, error)
}

// AlertRepository persists cost alerts
type AlertRepository interface {
	// Create inserts the alert and reports false when an alert for the same
	// owner, type, period and period start already exists
	Create(ctx context.Context, alert *Alert) (bool, error)

	// ListUnacknowledged returns open alerts newest first
	ListUnacknowledged(ctx context.Context, ownerID string, limit int) ([]*Alert, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)

	// Acknowledge stamps the alert; errors.ErrAlertAlreadyAcknowledged when it was stamped before
	Acknowledge(ctx context.Context, id uuid.UUID, actorID string, at time.Time) error
}
