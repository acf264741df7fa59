package cost_limit

import (
	"github.com/shopspring/decimal"

	"coursecast/pkg/errors"
)

// PlanTier is the subscription plan of an owner
type PlanTier string

const (
	TierFree       PlanTier = "free"
	TierBasic      PlanTier = "basic"
	TierPro        PlanTier = "pro"
	TierEnterprise PlanTier = "enterprise"
)

// ParsePlanTier validates a tier name
func ParsePlanTier(s string) (PlanTier, error) {
	switch t := PlanTier(s); t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return t, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidInput, "unknown plan tier %q", s)
}

// Quotas are per-tier feature allowances
type Quotas struct {
	ChatMessagesPerDay           int `json:"chat_messages_per_day"`
	TranscriptionMinutesPerMonth int `json:"transcription_minutes_per_month"`
	StorageGB                    int `json:"storage_gb"`
	Videos                       int `json:"videos"` // -1 = unlimited
}

// TierDefaults are the limits applied when an owner is created on a tier
type TierDefaults struct {
	DailyLimit       decimal.Decimal `json:"daily_limit"`
	MonthlyLimit     decimal.Decimal `json:"monthly_limit"`
	EnforceHardLimit bool            `json:"enforce_hard_limit"`
	Quotas           Quotas          `json:"quotas"`
}

// DefaultsFor returns the defaults of a tier; unknown tiers get the free tier
func DefaultsFor(tier PlanTier) TierDefaults {
	switch tier {
	case TierBasic:
		return TierDefaults{
			DailyLimit:       decimal.NewFromInt(5),
			MonthlyLimit:     decimal.NewFromInt(50),
			EnforceHardLimit: true,
			Quotas:           Quotas{ChatMessagesPerDay: 200, TranscriptionMinutesPerMonth: 300, StorageGB: 50, Videos: 100},
		}
	case TierPro:
		return TierDefaults{
			DailyLimit:       decimal.NewFromInt(25),
			MonthlyLimit:     decimal.NewFromInt(250),
			EnforceHardLimit: true,
			Quotas:           Quotas{ChatMessagesPerDay: 2000, TranscriptionMinutesPerMonth: 2000, StorageGB: 500, Videos: 1000},
		}
	case TierEnterprise:
		return TierDefaults{
			DailyLimit:       decimal.NewFromInt(250),
			MonthlyLimit:     decimal.NewFromInt(5000),
			EnforceHardLimit: false, // overage is billed
			Quotas:           Quotas{ChatMessagesPerDay: 50000, TranscriptionMinutesPerMonth: 20000, StorageGB: 5000, Videos: -1},
		}
	default:
		return FreeTierDefaults()
	}
}

// FreeTierDefaults returns the limits of the free tier
func FreeTierDefaults() TierDefaults {
	return TierDefaults{
		DailyLimit:       decimal.NewFromInt(1),
		MonthlyLimit:     decimal.NewFromInt(10),
		EnforceHardLimit: false,
		Quotas:           Quotas{ChatMessagesPerDay: 20, TranscriptionMinutesPerMonth: 30, StorageGB: 1, Videos: 5},
	}
}
