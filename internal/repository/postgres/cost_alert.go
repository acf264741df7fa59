package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"coursecast/internal/domain/cost_limit"
	pkgerrors "coursecast/pkg/errors"
)

// Compile-time check
var _ cost_limit.AlertRepository = (*CostAlertRepository)(nil)

const costAlertColumns = `
	id, owner_id, alert_type, period, period_start,
	threshold_pct, current_spent, limit_amount, message,
	acknowledged, acknowledged_by, acknowledged_at, created_at`

// CostAlertRepository implements cost_limit.AlertRepository using sqlx
type CostAlertRepository struct {
	db *sqlx.DB
}

// NewCostAlertRepository creates a new cost alert repository
func NewCostAlertRepository(db *sqlx.DB) *CostAlertRepository {
	return &CostAlertRepository{db: db}
}

// Create inserts the alert unless the same tier was already alerted for the period
func (r *CostAlertRepository) Create(ctx context.Context, alert *cost_limit.Alert) (bool, error) {
	query := `
		INSERT INTO cost_alerts (` + costAlertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT ON CONSTRAINT uq_cost_alerts_tier DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.OwnerID, alert.AlertType, alert.Period, alert.PeriodStart,
		alert.ThresholdPct, alert.CurrentSpent, alert.LimitAmount, alert.Message,
		alert.Acknowledged, alert.AcknowledgedBy, alert.AcknowledgedAt, alert.CreatedAt,
	)
	if err != nil {
		return false, pkgerrors.Wrap(err, "failed to create cost alert")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, pkgerrors.Wrap(err, "failed to get rows affected")
	}

	return rows == 1, nil
}

// ListUnacknowledged returns open alerts of an owner, newest first
func (r *CostAlertRepository) ListUnacknowledged(ctx context.Context, ownerID string, limit int) ([]*cost_limit.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + costAlertColumns + `
		FROM cost_alerts
		WHERE owner_id = $1 AND acknowledged = false
		ORDER BY created_at DESC
		LIMIT $2`

	alerts := make([]*cost_limit.Alert, 0)
	if err := r.db.SelectContext(ctx, &alerts, query, ownerID, limit); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list cost alerts")
	}

	return alerts, nil
}

// GetByID retrieves an alert by ID
func (r *CostAlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*cost_limit.Alert, error) {
	query := `SELECT ` + costAlertColumns + ` FROM cost_alerts WHERE id = $1`

	var alert cost_limit.Alert
	err := r.db.GetContext(ctx, &alert, query, id)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "cost alert %s", id)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get cost alert")
	}

	return &alert, nil
}

// Acknowledge marks an open alert as seen by actorID
func (r *CostAlertRepository) Acknowledge(ctx context.Context, id uuid.UUID, actorID string, at time.Time) error {
	query := `
		UPDATE cost_alerts
		SET acknowledged = true,
			acknowledged_by = $2,
			acknowledged_at = $3
		WHERE id = $1 AND acknowledged = false`

	result, err := r.db.ExecContext(ctx, query, id, actorID, at)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to acknowledge cost alert")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 1 {
		return nil
	}

	// Nothing updated: either the alert is missing or it was acknowledged before
	var acknowledged bool
	err = r.db.QueryRowContext(ctx, `SELECT acknowledged FROM cost_alerts WHERE id = $1`, id).Scan(&acknowledged)
	if err == sql.ErrNoRows {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "cost alert %s", id)
	}
	if err != nil {
		return pkgerrors.Wrap(err, "failed to get cost alert")
	}

	return pkgerrors.Wrapf(pkgerrors.ErrAlertAlreadyAcknowledged, "cost alert %s", id)
}
