package cost_tracker

import (
	"context"

	"github.com/google/uuid"

	domaincache "coursecast/internal/domain/cache"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/services/cache"
	"coursecast/pkg/errors"
)

// GetAlerts returns up to limit unacknowledged alerts of the owner, newest first.
// The limit is capped at the configured page size. Storage errors yield an empty list.
func (s *Service) GetAlerts(ctx context.Context, owner string, limit int) []*cost_limit.Alert {
	alerts, err := s.listAlerts(ctx, owner, limit)
	if err != nil {
		s.log.Errorw("Failed to list cost alerts", "owner_id", owner, "error", err)
		return []*cost_limit.Alert{}
	}
	return alerts
}

func (s *Service) listAlerts(ctx context.Context, owner string, limit int) ([]*cost_limit.Alert, error) {
	page := s.cfg.AlertsPageSize
	if limit <= 0 || limit > page {
		limit = page
	}

	ttl := s.cfg.Policy.For(domaincache.KindCostLimit)
	alerts, err := cache.GetOrCompute(ctx, s.cache, cachekey.CostAlerts(owner), ttl, func(ctx context.Context) ([]*cost_limit.Alert, error) {
		return s.alerts.ListUnacknowledged(ctx, owner, page)
	})
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		return []*cost_limit.Alert{}, nil
	}
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert as seen by actorID. Acknowledging twice is a
// no-op; there is no way back to unacknowledged.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID uuid.UUID, actorID string) error {
	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.Acknowledged {
		return nil
	}

	err = s.alerts.Acknowledge(ctx, alertID, actorID, s.clock())
	if err != nil && !errors.Is(err, errors.ErrAlertAlreadyAcknowledged) {
		return errors.Wrap(err, "failed to acknowledge alert")
	}

	s.invalidator.InvalidateCostLimit(ctx, alert.OwnerID)
	s.invalidator.InvalidateUsage(ctx, alert.OwnerID)

	s.log.Infow("Cost alert acknowledged", "alert_id", alertID, "owner_id", alert.OwnerID, "actor_id", actorID)
	return nil
}
