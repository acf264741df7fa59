package events

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"coursecast/internal/adapters/kafka"
	"coursecast/internal/domain/cost_limit"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// Producer publishes JSON payloads; implemented by kafka.Producer
type Producer interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// CostAlertMessage is the payload published for every newly stored cost alert
type CostAlertMessage struct {
	Envelope
	AlertID      string               `json:"alert_id"`
	OwnerID      string               `json:"owner_id"`
	AlertType    cost_limit.AlertType `json:"alert_type"`
	Period       cost_limit.Period    `json:"period"`
	PeriodStart  time.Time            `json:"period_start"`
	ThresholdPct int                  `json:"threshold_pct"`
	CurrentSpent decimal.Decimal      `json:"current_spent"`
	LimitAmount  decimal.Decimal      `json:"limit_amount"`
	Message      string               `json:"message"`
	Summary      string               `json:"summary"`
}

// CostAlertPublisher fans cost alerts out to Kafka for notification services
type CostAlertPublisher struct {
	producer Producer
	source   string
	log      *logger.Logger
}

// NewCostAlertPublisher creates a new cost alert publisher
func NewCostAlertPublisher(producer Producer, source string, log *logger.Logger) *CostAlertPublisher {
	return &CostAlertPublisher{
		producer: producer,
		source:   source,
		log:      log.Component("cost_alert_publisher"),
	}
}

// NotifyCostAlert publishes alert keyed by owner so one owner's alerts stay ordered
func (p *CostAlertPublisher) NotifyCostAlert(ctx context.Context, alert *cost_limit.Alert) error {
	if alert == nil {
		return errors.Wrap(errors.ErrInvalidInput, "nil alert")
	}

	msg := CostAlertMessage{
		Envelope:     NewEnvelope(TypeCostAlertRaised, p.source, alert.CreatedAt),
		AlertID:      alert.ID.String(),
		OwnerID:      alert.OwnerID,
		AlertType:    alert.AlertType,
		Period:       alert.Period,
		PeriodStart:  alert.PeriodStart,
		ThresholdPct: alert.ThresholdPct,
		CurrentSpent: alert.CurrentSpent,
		LimitAmount:  alert.LimitAmount,
		Message:      SanitizeUTF8(alert.Message),
		Summary:      AlertSummary(alert),
	}

	if err := p.producer.Publish(ctx, kafka.TopicCostAlerts, alert.OwnerID, msg); err != nil {
		return errors.Wrap(err, "publish cost alert")
	}

	p.log.Debugw("Cost alert published", "alert_id", alert.ID, "owner_id", alert.OwnerID, "type", alert.AlertType)
	return nil
}

// AlertSummary renders a one-line human readable description of an alert
func AlertSummary(a *cost_limit.Alert) string {
	spent := money(a.CurrentSpent)
	limit := money(a.LimitAmount)

	switch a.AlertType {
	case cost_limit.AlertLimitExceeded:
		return fmt.Sprintf("%s limit of %s exceeded: %s spent in the period starting %s",
			a.Period, limit, spent, a.PeriodStart.Format("Jan 2"))
	case cost_limit.AlertCritical:
		return fmt.Sprintf("%s spend is critical: %s of %s (%d%% threshold)",
			a.Period, spent, limit, a.ThresholdPct)
	default:
		return fmt.Sprintf("%s spend passed %d%%: %s of %s", a.Period, a.ThresholdPct, spent, limit)
	}
}

func money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return "$" + humanize.FormatFloat("#,###.##", f)
}
