package usage

import (
	"context"
	"time"
)

// Ledger is the append-only event store plus its materialized rollups
type Ledger interface {
	// Insert appends an event; delivery to storage may be buffered
	Insert(ctx context.Context, event *Event) error

	// Query returns raw events of one owner in [From, To)
	Query(ctx context.Context, filter Filter) ([]*Event, error)

	// QueryRollups returns materialized summaries with PeriodStart in [from, to)
	QueryRollups(ctx context.Context, ownerID string, period PeriodType, from, to time.Time) ([]*Summary, error)

	// UpsertRollups replaces summaries keyed by (owner, period type, period start)
	UpsertRollups(ctx context.Context, summaries []*Summary) error

	// ActiveOwners lists owners with at least one event in [from, to)
	ActiveOwners(ctx context.Context, from, to time.Time) ([]string, error)
}
