package cost_tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/domain/usage"
	"coursecast/internal/metrics"
	"coursecast/internal/services/pricing"
	"coursecast/pkg/errors"
)

// TrackUsage records a metered call. It assigns RequestID and OccurredAt when
// missing, appends the event to the ledger, adds its cost to the owner's spend,
// raises alerts for newly crossed thresholds and clears the owner's cached
// usage and limit. Failures are logged and never reach the caller.
func (s *Service) TrackUsage(ctx context.Context, ev *usage.Event) {
	if ev == nil {
		return
	}
	if ev.RequestID == "" {
		ev.RequestID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.clock()
	}
	if ev.CostAmount.IsNegative() {
		s.log.Warnw("Negative usage cost clamped to zero", "request_id", ev.RequestID, "cost", ev.CostAmount.String())
		ev.CostAmount = decimal.Zero
	}

	var callErr error
	if ev.IsError() {
		callErr = errors.Newf("status %d", *ev.StatusCode)
	}
	cost, _ := ev.CostAmount.Float64()
	metrics.RecordUsage(string(ev.Provider), string(ev.Service), cost, ev.InputUnits, ev.OutputUnits, callErr)

	if err := s.ledger.Insert(ctx, ev); err != nil {
		s.log.Errorw("Failed to record usage event",
			"request_id", ev.RequestID,
			"provider", ev.Provider,
			"service", ev.Service,
			"error", err,
		)
	}

	owner := ev.OwnerID()
	if owner == "" {
		s.log.Warnw("Usage event without owner, spend not attributed", "request_id", ev.RequestID)
		return
	}

	if ev.CostAmount.IsPositive() {
		s.addSpend(ctx, owner, ev.CostAmount)
	}
	s.invalidator.InvalidateUsage(ctx, owner)

	s.log.Debugw("Usage tracked",
		"request_id", ev.RequestID,
		"owner_id", owner,
		"provider", ev.Provider,
		"service", ev.Service,
		"model", ev.Model,
		"cost", ev.CostAmount.String(),
	)
}

// addSpend increments the owner's limit row, creating it from defaults on first use
func (s *Service) addSpend(ctx context.Context, owner string, amount decimal.Decimal) {
	now := s.clock()

	upd, err := s.limits.AddSpend(ctx, owner, amount, now)
	if errors.Is(err, errors.ErrNotFound) {
		if err = s.limits.Create(ctx, s.defaultLimit(owner, now)); err == nil {
			upd, err = s.limits.AddSpend(ctx, owner, amount, now)
		}
	}
	if err != nil {
		s.log.Errorw("Failed to add spend", "owner_id", owner, "amount", amount.String(), "error", err)
		return
	}

	s.raiseAlerts(ctx, upd, now)
	// Cleared only once alerts are stored; an earlier clear lets a concurrent
	// GetAlerts cache a list without them.
	s.invalidator.InvalidateCostLimit(ctx, owner)
}

// EventsPersisted clears cached usage of every owner in a batch that just
// became queryable. Ledgers that buffer inserts call it after each write, so a
// read between TrackUsage and the flush cannot pin a stale summary.
func (s *Service) EventsPersisted(ctx context.Context, events []*usage.Event) {
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil {
			continue
		}
		owner := e.OwnerID()
		if owner == "" {
			continue
		}
		if _, ok := seen[owner]; ok {
			continue
		}
		seen[owner] = struct{}{}
		s.invalidator.InvalidateUsage(ctx, owner)
	}
}

// raiseAlerts stores one alert per upward level transition. The store ignores
// a second alert for the same tier and period, so retries never duplicate.
func (s *Service) raiseAlerts(ctx context.Context, upd *cost_limit.SpendUpdate, now time.Time) {
	for _, t := range cost_limit.Transitions(upd.Before, upd.After, now) {
		alert := cost_limit.NewAlert(upd.After, t, now)
		alert.Message = alertMessage(alert)

		created, err := s.alerts.Create(ctx, alert)
		if err != nil {
			s.log.Errorw("Failed to store cost alert",
				"owner_id", alert.OwnerID,
				"type", alert.AlertType,
				"period", alert.Period,
				"error", err,
			)
			continue
		}
		if !created {
			continue
		}

		metrics.CostAlertsRaised.WithLabelValues(string(alert.AlertType), string(alert.Period)).Inc()
		s.log.Warnw("Cost alert raised",
			"owner_id", alert.OwnerID,
			"type", alert.AlertType,
			"period", alert.Period,
			"spent", alert.CurrentSpent.String(),
			"limit", alert.LimitAmount.String(),
		)

		if s.notifier != nil {
			if err := s.notifier.NotifyCostAlert(ctx, alert); err != nil {
				s.log.Warnw("Failed to publish cost alert", "alert_id", alert.ID, "error", err)
			}
		}
	}
}

func alertMessage(a *cost_limit.Alert) string {
	switch a.AlertType {
	case cost_limit.AlertLimitExceeded:
		return fmt.Sprintf("%s spend limit of $%s reached ($%s spent)",
			a.Period, a.LimitAmount.StringFixed(2), a.CurrentSpent.StringFixed(2))
	default:
		return fmt.Sprintf("%s spend passed %d%% of the $%s limit ($%s spent)",
			a.Period, a.ThresholdPct, a.LimitAmount.StringFixed(2), a.CurrentSpent.StringFixed(2))
	}
}

// Call identifies who made a metered call and how it ended
type Call struct {
	ActorID    string
	TenantID   string
	SubjectID  string
	Endpoint   string
	HTTPMethod string
	Latency    time.Duration
	StatusCode int // 0 when not an HTTP call
	Err        error
	Metadata   map[string]string
}

func (c Call) event(provider usage.Provider, service usage.Service, model string) *usage.Event {
	ev := &usage.Event{
		ActorID:    c.ActorID,
		TenantID:   c.TenantID,
		SubjectID:  c.SubjectID,
		Endpoint:   c.Endpoint,
		HTTPMethod: c.HTTPMethod,
		Provider:   provider,
		Service:    service,
		Model:      model,
		Metadata:   c.Metadata,
	}
	if c.Latency > 0 {
		ms := c.Latency.Milliseconds()
		ev.DurationMs = &ms
	}
	if c.StatusCode != 0 {
		code := c.StatusCode
		ev.StatusCode = &code
	}
	if c.Err != nil {
		ev.ErrorMessage = c.Err.Error()
	}
	return ev
}

// price fills cost fields from the estimator and warns about unknown models
func (s *Service) price(ev *usage.Event, u pricing.Usage) *usage.Event {
	est := s.estimator.Estimate(ev.Provider, ev.Service, ev.Model, u)
	if !est.Known {
		s.log.Warnw("No pricing for model, recording zero cost",
			"provider", ev.Provider,
			"service", ev.Service,
			"model", ev.Model,
		)
	}
	ev.CostAmount = est.Cost
	ev.CostBreakdown = est.Items
	return ev
}

// TrackChatUsage meters one chat completion on the configured chat provider.
// An empty model uses the configured default.
func (s *Service) TrackChatUsage(ctx context.Context, call Call, model string, inputTokens, outputTokens int64) *usage.Event {
	return s.trackChat(ctx, call, s.cfg.ChatProvider, model, inputTokens, outputTokens)
}

func (s *Service) trackChat(ctx context.Context, call Call, provider usage.Provider, model string, inputTokens, outputTokens int64) *usage.Event {
	if model == "" {
		model = s.cfg.ChatModel
	}
	ev := call.event(provider, usage.ServiceChat, model)
	ev.InputUnits = inputTokens
	ev.OutputUnits = outputTokens

	s.price(ev, pricing.Usage{InputUnits: inputTokens, OutputUnits: outputTokens})
	s.TrackUsage(ctx, ev)
	return ev
}

// TrackEmbeddingUsage meters one OpenAI embedding request
func (s *Service) TrackEmbeddingUsage(ctx context.Context, call Call, model string, tokens int64) *usage.Event {
	if model == "" {
		model = s.cfg.EmbeddingModel
	}
	ev := call.event(usage.ProviderOpenAI, usage.ServiceEmbeddings, model)
	ev.InputUnits = tokens

	s.price(ev, pricing.Usage{InputUnits: tokens})
	s.TrackUsage(ctx, ev)
	return ev
}

// TrackTranscriptionUsage meters transcription of audio. Input units are audio milliseconds.
func (s *Service) TrackTranscriptionUsage(ctx context.Context, call Call, model string, audio time.Duration) *usage.Event {
	if model == "" {
		model = s.cfg.TranscriptionModel
	}
	ev := call.event(s.cfg.TranscriptionProvider, usage.ServiceTranscription, model)
	ev.InputUnits = audio.Milliseconds()

	s.price(ev, pricing.Usage{DurationMs: audio.Milliseconds()})
	s.TrackUsage(ctx, ev)
	return ev
}
