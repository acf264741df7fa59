package usage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies the party billing for a unit of work
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderAWS        Provider = "aws"
	ProviderInternalDB Provider = "internal-db"
)

// Service identifies the kind of work billed
type Service string

const (
	ServiceChat          Service = "chat"
	ServiceEmbeddings    Service = "embeddings"
	ServiceTranscription Service = "transcription"
	ServiceStorage       Service = "storage"
	ServiceVectorSearch  Service = "vector-search"
)

// Event is one metered call. Events are append-only and never mutated after Insert.
type Event struct {
	RequestID  string    `json:"request_id"`
	OccurredAt time.Time `json:"occurred_at"`

	// Who
	ActorID   string `json:"actor_id,omitempty"`   // user
	TenantID  string `json:"tenant_id,omitempty"`  // creator
	SubjectID string `json:"subject_id,omitempty"` // student

	// Where
	Endpoint   string `json:"endpoint,omitempty"`
	HTTPMethod string `json:"http_method,omitempty"`

	// What
	Provider    Provider `json:"provider"`
	Service     Service  `json:"service"`
	Model       string   `json:"model,omitempty"`
	InputUnits  int64    `json:"input_units"`
	OutputUnits int64    `json:"output_units"`
	DurationMs  *int64   `json:"duration_ms,omitempty"`

	CostAmount    decimal.Decimal `json:"cost_amount"`
	CostBreakdown []CostItem      `json:"cost_breakdown,omitempty"`

	StatusCode   *int              `json:"status_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// OwnerID returns the tenant when present, otherwise the actor.
// Limits and summaries are keyed by this value.
func (e *Event) OwnerID() string {
	if e.TenantID != "" {
		return e.TenantID
	}
	return e.ActorID
}

// IsError reports whether the call ended with an HTTP error status
func (e *Event) IsError() bool {
	return e.StatusCode != nil && *e.StatusCode >= 400
}

// CostItem is one priced line of an event's cost
type CostItem struct {
	Provider  Provider        `json:"provider"`
	Service   Service         `json:"service"`
	Model     string          `json:"model,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// Filter selects events attributed to one owner in [From, To). See Event.OwnerID.
type Filter struct {
	OwnerID string
	From    time.Time
	To      time.Time
}

// DailyPoint is one bucket of a daily usage series
type DailyPoint struct {
	Date  time.Time       `json:"date"`
	Calls int64           `json:"calls"`
	Cost  decimal.Decimal `json:"cost"`
}
