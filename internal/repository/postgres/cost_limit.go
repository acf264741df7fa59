package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/metrics"
	pkgerrors "coursecast/pkg/errors"
)

// Compile-time check
var _ cost_limit.Repository = (*CostLimitRepository)(nil)

const costLimitColumns = `
	id, owner_id, plan_tier,
	daily_limit, monthly_limit, daily_spent, monthly_spent,
	daily_reset_at, monthly_reset_at,
	warning_threshold_pct, critical_threshold_pct, enforce_hard_limit,
	created_at, updated_at`

// CostLimitRepository implements cost_limit.Repository using sqlx
type CostLimitRepository struct {
	db *sqlx.DB
}

// NewCostLimitRepository creates a new cost limit repository
func NewCostLimitRepository(db *sqlx.DB) *CostLimitRepository {
	return &CostLimitRepository{db: db}
}

func getLimit(ctx context.Context, q DBTX, ownerID string, forUpdate bool) (*cost_limit.CostLimit, error) {
	query := `SELECT ` + costLimitColumns + ` FROM cost_limits WHERE owner_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var limit cost_limit.CostLimit
	err := q.GetContext(ctx, &limit, query, ownerID)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "cost limit for %s", ownerID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get cost limit")
	}
	return &limit, nil
}

// GetByOwner retrieves the limit of an owner
func (r *CostLimitRepository) GetByOwner(ctx context.Context, ownerID string) (*cost_limit.CostLimit, error) {
	start := time.Now()
	limit, err := getLimit(ctx, r.db, ownerID, false)
	metrics.RecordDBQuery("postgres", "cost_limit_get", time.Since(start), ignoreNotFound(err))
	return limit, err
}

// Create inserts a new limit. An existing row for the owner is left untouched.
func (r *CostLimitRepository) Create(ctx context.Context, limit *cost_limit.CostLimit) error {
	query := `
		INSERT INTO cost_limits (` + costLimitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (owner_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		limit.ID, limit.OwnerID, limit.PlanTier,
		limit.DailyLimit, limit.MonthlyLimit, limit.DailySpent, limit.MonthlySpent,
		limit.DailyResetAt, limit.MonthlyResetAt,
		limit.WarningThresholdPct, limit.CriticalThresholdPct, limit.EnforceHardLimit,
		limit.CreatedAt, limit.UpdatedAt,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create cost limit")
	}

	return nil
}

// Update changes tier, limits, thresholds and enforcement of an owner
func (r *CostLimitRepository) Update(ctx context.Context, limit *cost_limit.CostLimit) error {
	query := `
		UPDATE cost_limits
		SET plan_tier = $2,
			daily_limit = $3,
			monthly_limit = $4,
			warning_threshold_pct = $5,
			critical_threshold_pct = $6,
			enforce_hard_limit = $7,
			updated_at = NOW()
		WHERE owner_id = $1`

	result, err := r.db.ExecContext(ctx, query,
		limit.OwnerID, limit.PlanTier,
		limit.DailyLimit, limit.MonthlyLimit,
		limit.WarningThresholdPct, limit.CriticalThresholdPct, limit.EnforceHardLimit,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update cost limit")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "cost limit for %s", limit.OwnerID)
	}

	return nil
}

// AddSpend locks the owner's row, rolls expired periods over and adds amount
// to both periods in one transaction. Concurrent increments serialize on the
// row lock so none is lost.
func (r *CostLimitRepository) AddSpend(ctx context.Context, ownerID string, amount decimal.Decimal, now time.Time) (_ *cost_limit.SpendUpdate, err error) {
	if amount.IsNegative() {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidInput, "spend amount must not be negative")
	}

	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("postgres", "cost_limit_add_spend", time.Since(start), ignoreNotFound(err))
	}()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	before, err := getLimit(ctx, tx, ownerID, true)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE cost_limits
		SET daily_spent = CASE WHEN daily_reset_at <= $2 THEN $3 ELSE daily_spent + $3 END,
			daily_reset_at = CASE WHEN daily_reset_at <= $2 THEN $4 ELSE daily_reset_at END,
			monthly_spent = CASE WHEN monthly_reset_at <= $2 THEN $3 ELSE monthly_spent + $3 END,
			monthly_reset_at = CASE WHEN monthly_reset_at <= $2 THEN $5 ELSE monthly_reset_at END,
			updated_at = $2
		WHERE owner_id = $1
		RETURNING ` + costLimitColumns

	var after cost_limit.CostLimit
	err = tx.GetContext(ctx, &after, query,
		ownerID, now, amount,
		cost_limit.NextDailyReset(now), cost_limit.NextMonthlyReset(now),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to add spend")
	}

	if err = tx.Commit(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to commit spend")
	}

	return &cost_limit.SpendUpdate{Before: before, After: &after}, nil
}

// ResetExpired zeroes every period whose reset time has passed
func (r *CostLimitRepository) ResetExpired(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE cost_limits
		SET daily_spent = CASE WHEN daily_reset_at <= $1 THEN 0 ELSE daily_spent END,
			daily_reset_at = CASE WHEN daily_reset_at <= $1 THEN $2 ELSE daily_reset_at END,
			monthly_spent = CASE WHEN monthly_reset_at <= $1 THEN 0 ELSE monthly_spent END,
			monthly_reset_at = CASE WHEN monthly_reset_at <= $1 THEN $3 ELSE monthly_reset_at END,
			updated_at = $1
		WHERE daily_reset_at <= $1 OR monthly_reset_at <= $1
		RETURNING owner_id`

	start := time.Now()
	var owners []string
	err := r.db.SelectContext(ctx, &owners, query,
		now, cost_limit.NextDailyReset(now), cost_limit.NextMonthlyReset(now),
	)
	metrics.RecordDBQuery("postgres", "cost_limit_reset", time.Since(start), err)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to reset expired cost limits")
	}

	return owners, nil
}

func ignoreNotFound(err error) error {
	if pkgerrors.Is(err, pkgerrors.ErrNotFound) {
		return nil
	}
	return err
}
