package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"coursecast/internal/domain/usage"
	"coursecast/internal/metrics"
	"coursecast/pkg/clickhouse"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// Compile-time check
var _ usage.Ledger = (*UsageRepository)(nil)

// UsageRepositoryConfig tunes table names and batching
type UsageRepositoryConfig struct {
	EventsTable    string        // Default: usage_events
	SummariesTable string        // Default: usage_summaries
	BatchSize      int           // Default: 500
	FlushInterval  time.Duration // Default: 5s
}

// PersistedFunc is told about every batch of events once it is queryable
type PersistedFunc func(ctx context.Context, events []*usage.Event)

// UsageRepository implements usage.Ledger for ClickHouse.
// Events go through a batch writer; rollups are written synchronously.
type UsageRepository struct {
	conn        driver.Conn
	events      string
	summaries   string
	batchWriter *clickhouse.BatchWriter[*usage.Event]
	persisted   PersistedFunc
	log         *logger.Logger
}

// NewUsageRepository creates a new usage repository with batch writer
func NewUsageRepository(conn driver.Conn, cfg UsageRepositoryConfig, log *logger.Logger) *UsageRepository {
	if cfg.EventsTable == "" {
		cfg.EventsTable = "usage_events"
	}
	if cfg.SummariesTable == "" {
		cfg.SummariesTable = "usage_summaries"
	}

	repo := &UsageRepository{
		conn:      conn,
		events:    cfg.EventsTable,
		summaries: cfg.SummariesTable,
		log:       log.Component("usage_repository"),
	}

	repo.batchWriter = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[*usage.Event]{
		FlushFunc:    repo.flushBatch,
		OnFlush:      onFlush,
		AfterFlush:   repo.afterFlush,
		Table:        cfg.EventsTable,
		MaxBatchSize: cfg.BatchSize,
		MaxAge:       cfg.FlushInterval,
		Log:          log,
	})

	return repo
}

func onFlush(n int, took time.Duration, err error) {
	metrics.RecordDBQuery("clickhouse", "usage_insert", took, err)
}

// OnPersisted registers fn to run after each successful batch insert.
// Call it before Start.
func (r *UsageRepository) OnPersisted(fn PersistedFunc) {
	r.persisted = fn
}

func (r *UsageRepository) afterFlush(ctx context.Context, batch []*usage.Event) {
	if r.persisted != nil {
		r.persisted(ctx, batch)
	}
}

// Start begins the background flush loop
func (r *UsageRepository) Start(ctx context.Context) {
	r.batchWriter.Start(ctx)
}

// Stop flushes buffered events and shuts down the batch writer
func (r *UsageRepository) Stop(ctx context.Context) error {
	return r.batchWriter.Stop(ctx)
}

// Flush forces buffered events out
func (r *UsageRepository) Flush(ctx context.Context) error {
	return r.batchWriter.Flush(ctx)
}

// Pending returns batch writer stats for health reporting
func (r *UsageRepository) Pending() clickhouse.BatchWriterStats {
	return r.batchWriter.Stats()
}

// Insert buffers an event; it reaches ClickHouse on the next flush
func (r *UsageRepository) Insert(ctx context.Context, event *usage.Event) error {
	if event == nil {
		return errors.Wrap(errors.ErrInvalidInput, "nil usage event")
	}
	return r.batchWriter.Add(ctx, event)
}

const eventColumns = `
	request_id, occurred_at, owner_id, actor_id, tenant_id, subject_id,
	endpoint, http_method, provider, service, model,
	input_units, output_units, duration_ms,
	cost_amount, cost_breakdown, status_code, error_message, metadata`

// eventRow mirrors one usage_events row
type eventRow struct {
	RequestID     string            `ch:"request_id"`
	OccurredAt    time.Time         `ch:"occurred_at"`
	OwnerID       string            `ch:"owner_id"`
	ActorID       string            `ch:"actor_id"`
	TenantID      string            `ch:"tenant_id"`
	SubjectID     string            `ch:"subject_id"`
	Endpoint      string            `ch:"endpoint"`
	HTTPMethod    string            `ch:"http_method"`
	Provider      string            `ch:"provider"`
	Service       string            `ch:"service"`
	Model         string            `ch:"model"`
	InputUnits    int64             `ch:"input_units"`
	OutputUnits   int64             `ch:"output_units"`
	DurationMs    *int64            `ch:"duration_ms"`
	CostAmount    decimal.Decimal   `ch:"cost_amount"`
	CostBreakdown string            `ch:"cost_breakdown"`
	StatusCode    *int32            `ch:"status_code"`
	ErrorMessage  string            `ch:"error_message"`
	Metadata      map[string]string `ch:"metadata"`
}

func toEventRow(e *usage.Event) (eventRow, error) {
	breakdown := "[]"
	if len(e.CostBreakdown) > 0 {
		raw, err := json.Marshal(e.CostBreakdown)
		if err != nil {
			return eventRow{}, errors.Wrap(err, "failed to encode cost breakdown")
		}
		breakdown = string(raw)
	}

	var status *int32
	if e.StatusCode != nil {
		s := int32(*e.StatusCode)
		status = &s
	}

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	return eventRow{
		RequestID:     e.RequestID,
		OccurredAt:    e.OccurredAt.UTC(),
		OwnerID:       e.OwnerID(),
		ActorID:       e.ActorID,
		TenantID:      e.TenantID,
		SubjectID:     e.SubjectID,
		Endpoint:      e.Endpoint,
		HTTPMethod:    e.HTTPMethod,
		Provider:      string(e.Provider),
		Service:       string(e.Service),
		Model:         e.Model,
		InputUnits:    e.InputUnits,
		OutputUnits:   e.OutputUnits,
		DurationMs:    e.DurationMs,
		CostAmount:    e.CostAmount,
		CostBreakdown: breakdown,
		StatusCode:    status,
		ErrorMessage:  e.ErrorMessage,
		Metadata:      metadata,
	}, nil
}

func (row eventRow) toEvent() (*usage.Event, error) {
	e := &usage.Event{
		RequestID:    row.RequestID,
		OccurredAt:   row.OccurredAt.UTC(),
		ActorID:      row.ActorID,
		TenantID:     row.TenantID,
		SubjectID:    row.SubjectID,
		Endpoint:     row.Endpoint,
		HTTPMethod:   row.HTTPMethod,
		Provider:     usage.Provider(row.Provider),
		Service:      usage.Service(row.Service),
		Model:        row.Model,
		InputUnits:   row.InputUnits,
		OutputUnits:  row.OutputUnits,
		DurationMs:   row.DurationMs,
		CostAmount:   row.CostAmount,
		ErrorMessage: row.ErrorMessage,
	}
	if row.StatusCode != nil {
		s := int(*row.StatusCode)
		e.StatusCode = &s
	}
	if len(row.Metadata) > 0 {
		e.Metadata = row.Metadata
	}
	if row.CostBreakdown != "" && row.CostBreakdown != "[]" {
		if err := json.Unmarshal([]byte(row.CostBreakdown), &e.CostBreakdown); err != nil {
			return nil, errors.Wrapf(err, "failed to decode cost breakdown of %s", row.RequestID)
		}
	}
	return e, nil
}

// flushBatch sends one INSERT for the whole batch.
// PrepareBatch and Append stay in memory; Send is the only network call.
func (r *UsageRepository) flushBatch(ctx context.Context, batch []*usage.Event) error {
	if len(batch) == 0 {
		return nil
	}

	stmt, err := r.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", r.events, eventColumns))
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for _, e := range batch {
		row, err := toEventRow(e)
		if err != nil {
			r.log.Warnw("Skipping unencodable usage event", "request_id", e.RequestID, "error", err)
			continue
		}
		if err := stmt.AppendStruct(&row); err != nil {
			return errors.Wrap(err, "failed to append to batch")
		}
	}

	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}
	return nil
}

// Query returns raw events of one owner in [From, To), oldest first.
// Buffered events that have not been flushed yet are not visible.
func (r *UsageRepository) Query(ctx context.Context, filter usage.Filter) ([]*usage.Event, error) {
	if filter.OwnerID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "owner id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s FINAL
		WHERE owner_id = ?
		  AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at
	`, eventColumns, r.events)

	start := time.Now()
	var rows []eventRow
	err := r.conn.Select(ctx, &rows, query, filter.OwnerID, filter.From.UTC(), filter.To.UTC())
	metrics.RecordDBQuery("clickhouse", "usage_query", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage events")
	}

	events := make([]*usage.Event, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// summaryRow mirrors one usage_summaries row. Cost buckets are stored as JSON.
type summaryRow struct {
	OwnerID        string          `ch:"owner_id"`
	PeriodType     string          `ch:"period_type"`
	PeriodStart    time.Time       `ch:"period_start"`
	TotalCalls     int64           `ch:"total_calls"`
	TotalCost      decimal.Decimal `ch:"total_cost"`
	CostByProvider string          `ch:"cost_by_provider"`
	CostByService  string          `ch:"cost_by_service"`
	CostByModel    string          `ch:"cost_by_model"`
	InputUnits     int64           `ch:"input_units"`
	OutputUnits    int64           `ch:"output_units"`
	AvgLatencyMs   float64         `ch:"avg_latency_ms"`
	LatencySamples int64           `ch:"latency_samples"`
	ErrorCount     int64           `ch:"error_count"`
	ComputedAt     time.Time       `ch:"computed_at"`
}

const summaryColumns = `
	owner_id, period_type, period_start,
	total_calls, total_cost, cost_by_provider, cost_by_service, cost_by_model,
	input_units, output_units, avg_latency_ms, latency_samples, error_count, computed_at`

func encodeBucket(m map[string]decimal.Decimal) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeBucket(raw string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toSummaryRow(s *usage.Summary) (summaryRow, error) {
	providers, err := encodeBucket(s.CostByProvider)
	if err != nil {
		return summaryRow{}, errors.Wrap(err, "failed to encode provider costs")
	}
	services, err := encodeBucket(s.CostByService)
	if err != nil {
		return summaryRow{}, errors.Wrap(err, "failed to encode service costs")
	}
	models, err := encodeBucket(s.CostByModel)
	if err != nil {
		return summaryRow{}, errors.Wrap(err, "failed to encode model costs")
	}

	return summaryRow{
		OwnerID:        s.OwnerID,
		PeriodType:     string(s.PeriodType),
		PeriodStart:    s.PeriodStart.UTC(),
		TotalCalls:     s.TotalCalls,
		TotalCost:      s.TotalCost,
		CostByProvider: providers,
		CostByService:  services,
		CostByModel:    models,
		InputUnits:     s.InputUnits,
		OutputUnits:    s.OutputUnits,
		AvgLatencyMs:   s.AvgLatencyMs,
		LatencySamples: s.LatencySamples,
		ErrorCount:     s.ErrorCount,
		ComputedAt:     s.ComputedAt.UTC(),
	}, nil
}

func (row summaryRow) toSummary() (*usage.Summary, error) {
	providers, err := decodeBucket(row.CostByProvider)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode provider costs")
	}
	services, err := decodeBucket(row.CostByService)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode service costs")
	}
	models, err := decodeBucket(row.CostByModel)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode model costs")
	}

	return &usage.Summary{
		OwnerID:     row.OwnerID,
		PeriodType:  usage.PeriodType(row.PeriodType),
		PeriodStart: row.PeriodStart.UTC(),
		Totals: usage.Totals{
			TotalCalls:     row.TotalCalls,
			TotalCost:      row.TotalCost,
			CostByProvider: providers,
			CostByService:  services,
			CostByModel:    models,
			InputUnits:     row.InputUnits,
			OutputUnits:    row.OutputUnits,
			AvgLatencyMs:   row.AvgLatencyMs,
			LatencySamples: row.LatencySamples,
			ErrorCount:     row.ErrorCount,
		},
		ComputedAt: row.ComputedAt.UTC(),
	}, nil
}

// QueryRollups returns materialized summaries with PeriodStart in [from, to).
// FINAL collapses older versions of a recomputed summary.
func (r *UsageRepository) QueryRollups(ctx context.Context, ownerID string, period usage.PeriodType, from, to time.Time) ([]*usage.Summary, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s FINAL
		WHERE owner_id = ? AND period_type = ?
		  AND period_start >= ? AND period_start < ?
		ORDER BY period_start
	`, summaryColumns, r.summaries)

	start := time.Now()
	var rows []summaryRow
	err := r.conn.Select(ctx, &rows, query, ownerID, string(period), from.UTC(), to.UTC())
	metrics.RecordDBQuery("clickhouse", "rollup_query", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage summaries")
	}

	out := make([]*usage.Summary, 0, len(rows))
	for _, row := range rows {
		s, err := row.toSummary()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// UpsertRollups inserts new versions of the summaries. ReplacingMergeTree keeps
// the row with the latest computed_at per (owner, period type, period start).
func (r *UsageRepository) UpsertRollups(ctx context.Context, summaries []*usage.Summary) error {
	if len(summaries) == 0 {
		return nil
	}

	start := time.Now()
	err := r.insertRollups(ctx, summaries)
	metrics.RecordDBQuery("clickhouse", "rollup_upsert", time.Since(start), err)
	return err
}

func (r *UsageRepository) insertRollups(ctx context.Context, summaries []*usage.Summary) error {
	stmt, err := r.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", r.summaries, summaryColumns))
	if err != nil {
		return errors.Wrap(err, "failed to prepare rollup batch")
	}
	defer stmt.Close()

	for _, s := range summaries {
		if s == nil {
			continue
		}
		row, err := toSummaryRow(s)
		if err != nil {
			return err
		}
		if err := stmt.AppendStruct(&row); err != nil {
			return errors.Wrap(err, "failed to append rollup")
		}
	}

	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send rollup batch")
	}
	return nil
}

// ActiveOwners lists owners with at least one event in [from, to)
func (r *UsageRepository) ActiveOwners(ctx context.Context, from, to time.Time) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT owner_id
		FROM %s
		WHERE occurred_at >= ? AND occurred_at < ? AND owner_id != ''
		ORDER BY owner_id
	`, r.events)

	rows, err := r.conn.Query(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query active owners")
	}
	defer rows.Close()

	owners := make([]string, 0)
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, errors.Wrap(err, "failed to scan owner")
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}
