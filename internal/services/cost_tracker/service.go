package cost_tracker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"coursecast/internal/adapters/config"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/domain/usage"
	"coursecast/internal/services/cache"
	"coursecast/internal/services/pricing"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// maxDailyPoints caps GetDailyUsage series length; larger requests get the
// most recent maxDailyPoints days
const maxDailyPoints = 366

// Config holds limit defaults, default models and cache TTLs
type Config struct {
	Policy         cachekey.Policy
	AlertsPageSize int

	FreeDailyLimit       decimal.Decimal
	FreeMonthlyLimit     decimal.Decimal
	WarningThresholdPct  int
	CriticalThresholdPct int

	ChatProvider          usage.Provider
	ChatModel             string
	EmbeddingModel        string
	TranscriptionProvider usage.Provider
	TranscriptionModel    string
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	free := cost_limit.FreeTierDefaults()
	return Config{
		Policy:                cachekey.DefaultPolicy(),
		AlertsPageSize:        50,
		FreeDailyLimit:        free.DailyLimit,
		FreeMonthlyLimit:      free.MonthlyLimit,
		WarningThresholdPct:   cost_limit.DefaultWarningThresholdPct,
		CriticalThresholdPct:  cost_limit.DefaultCriticalThresholdPct,
		ChatProvider:          usage.ProviderAnthropic,
		ChatModel:             "claude-3-5-sonnet",
		EmbeddingModel:        "text-embedding-3-small",
		TranscriptionProvider: usage.ProviderOpenAI,
		TranscriptionModel:    "whisper-1",
	}
}

// ConfigFrom builds Config from the environment sections
func ConfigFrom(costs config.CostConfig, cacheCfg config.CacheConfig) (Config, error) {
	cfg := DefaultConfig()

	daily, err := decimal.NewFromString(costs.FreeDailyLimit)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrInvalidInput, "COST_FREE_DAILY_LIMIT %q", costs.FreeDailyLimit)
	}
	monthly, err := decimal.NewFromString(costs.FreeMonthlyLimit)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrInvalidInput, "COST_FREE_MONTHLY_LIMIT %q", costs.FreeMonthlyLimit)
	}

	cfg.Policy = cachekey.Policy{
		Short:  cacheCfg.TTLShort,
		Medium: cacheCfg.TTLMedium,
		Long:   cacheCfg.TTLLong,
		Day:    cacheCfg.TTLDay,
	}
	cfg.AlertsPageSize = costs.AlertsPageSize
	cfg.FreeDailyLimit = daily
	cfg.FreeMonthlyLimit = monthly
	cfg.WarningThresholdPct = costs.WarningThresholdPct
	cfg.CriticalThresholdPct = costs.CriticalThresholdPct
	cfg.ChatProvider = usage.Provider(costs.ChatProvider)
	cfg.ChatModel = costs.ChatModel
	cfg.EmbeddingModel = costs.EmbeddingModel
	cfg.TranscriptionProvider = usage.Provider(costs.TranscriptionProvider)
	cfg.TranscriptionModel = costs.TranscriptionModel

	return cfg, nil
}

// AlertNotifier is told about every newly stored alert
type AlertNotifier interface {
	NotifyCostAlert(ctx context.Context, alert *cost_limit.Alert) error
}

// Option customizes a Service
type Option func(*Service)

// WithNotifier fans new alerts out to n
func WithNotifier(n AlertNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service records metered usage, enforces spend limits and serves usage dashboards.
// It is the only writer of cost limits and the usage ledger.
type Service struct {
	ledger      usage.Ledger
	limits      cost_limit.Repository
	alerts      cost_limit.AlertRepository
	estimator   pricing.CostEstimator
	cache       *cache.Service
	invalidator *cache.Invalidator
	notifier    AlertNotifier
	cfg         Config
	now         func() time.Time
	log         *logger.Logger
}

// NewService creates a new cost tracker
func NewService(
	ledger usage.Ledger,
	limits cost_limit.Repository,
	alerts cost_limit.AlertRepository,
	estimator pricing.CostEstimator,
	cacheSvc *cache.Service,
	invalidator *cache.Invalidator,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) *Service {
	if cfg.AlertsPageSize <= 0 {
		cfg.AlertsPageSize = 50
	}

	s := &Service{
		ledger:      ledger,
		limits:      limits,
		alerts:      alerts,
		estimator:   estimator,
		cache:       cacheSvc,
		invalidator: invalidator,
		cfg:         cfg,
		now:         time.Now,
		log:         log.Component("cost_tracker"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// defaultLimit is the free-tier limit applied to owners without a stored row
func (s *Service) defaultLimit(ownerID string, now time.Time) *cost_limit.CostLimit {
	l := cost_limit.NewCostLimit(ownerID, cost_limit.TierFree, now)
	l.DailyLimit = s.cfg.FreeDailyLimit
	l.MonthlyLimit = s.cfg.FreeMonthlyLimit
	if s.cfg.WarningThresholdPct > 0 {
		l.WarningThresholdPct = s.cfg.WarningThresholdPct
	}
	if s.cfg.CriticalThresholdPct > 0 {
		l.CriticalThresholdPct = s.cfg.CriticalThresholdPct
	}
	return l
}

// ownerOf picks the tenant when present, otherwise the actor
func ownerOf(actorID, tenantID string) string {
	if tenantID != "" {
		return tenantID
	}
	return actorID
}
