package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event type names carried by Envelope.Type
const (
	TypeCostAlertRaised   = "cost.alert_raised"
	TypeCacheInvalidation = "cache.invalidation"
)

// envelopeVersion is bumped on breaking payload changes
const envelopeVersion = "1.0"

// Envelope is the common header of every published message
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    string    `json:"version"`
}

// NewEnvelope creates a header with a fresh ID
func NewEnvelope(eventType, source string, at time.Time) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		Source:     source,
		OccurredAt: at.UTC(),
		Version:    envelopeVersion,
	}
}

// SanitizeUTF8 drops invalid UTF-8 sequences. Provider error text can carry
// raw bytes that downstream consumers reject.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
