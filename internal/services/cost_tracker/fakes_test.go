package cost_tracker

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/domain/usage"
	"coursecast/internal/services/cache"
	"coursecast/internal/services/pricing"
	"coursecast/internal/testsupport"
	"coursecast/pkg/clickhouse"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memLedger is an in-memory usage.Ledger
type memLedger struct {
	mu        sync.Mutex
	events    []*usage.Event
	rollups   []*usage.Summary
	insertErr error
	queryErr  error
	queries   int
}

func (l *memLedger) Insert(_ context.Context, e *usage.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return l.insertErr
	}
	l.events = append(l.events, e)
	return nil
}

func (l *memLedger) Query(_ context.Context, f usage.Filter) ([]*usage.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries++
	if l.queryErr != nil {
		return nil, l.queryErr
	}
	var out []*usage.Event
	for _, e := range l.events {
		if e.OwnerID() == f.OwnerID && !e.OccurredAt.Before(f.From) && e.OccurredAt.Before(f.To) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memLedger) QueryRollups(_ context.Context, owner string, p usage.PeriodType, from, to time.Time) ([]*usage.Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queryErr != nil {
		return nil, l.queryErr
	}
	var out []*usage.Summary
	for _, s := range l.rollups {
		if s.OwnerID == owner && s.PeriodType == p && !s.PeriodStart.Before(from) && s.PeriodStart.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (l *memLedger) UpsertRollups(_ context.Context, summaries []*usage.Summary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range summaries {
		replaced := false
		for i, cur := range l.rollups {
			if cur.OwnerID == s.OwnerID && cur.PeriodType == s.PeriodType && cur.PeriodStart.Equal(s.PeriodStart) {
				l.rollups[i] = s
				replaced = true
			}
		}
		if !replaced {
			l.rollups = append(l.rollups, s)
		}
	}
	return nil
}

func (l *memLedger) ActiveOwners(_ context.Context, from, to time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, e := range l.events {
		if o := e.OwnerID(); o != "" && !seen[o] && !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			seen[o] = true
			out = append(out, o)
		}
	}
	sort.Strings(out)
	return out, nil
}

// bufferedLedger holds inserts in a batch writer until Flush, like the ClickHouse ledger
type bufferedLedger struct {
	*memLedger
	bw *clickhouse.BatchWriter[*usage.Event]
}

func newBufferedLedger(mem *memLedger, persisted func(context.Context, []*usage.Event)) *bufferedLedger {
	l := &bufferedLedger{memLedger: mem}
	l.bw = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[*usage.Event]{
		FlushFunc: func(ctx context.Context, batch []*usage.Event) error {
			for _, e := range batch {
				if err := mem.Insert(ctx, e); err != nil {
					return err
				}
			}
			return nil
		},
		AfterFlush:   persisted,
		Table:        "usage_events",
		MaxBatchSize: 100,
		MaxAge:       time.Hour,
		Log:          logger.NewNop(),
	})
	return l
}

func (l *bufferedLedger) Insert(ctx context.Context, e *usage.Event) error {
	return l.bw.Add(ctx, e)
}

func (l *bufferedLedger) Flush(ctx context.Context) error {
	return l.bw.Flush(ctx)
}

// memLimits mirrors the row-locked increment of the SQL repository
type memLimits struct {
	mu     sync.Mutex
	rows   map[string]*cost_limit.CostLimit
	getErr error
}

func newMemLimits() *memLimits {
	return &memLimits{rows: map[string]*cost_limit.CostLimit{}}
}

func (m *memLimits) put(l *cost_limit.CostLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.rows[l.OwnerID] = &cp
}

func (m *memLimits) get(owner string) *cost_limit.CostLimit {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[owner]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

func (m *memLimits) GetByOwner(_ context.Context, owner string) (*cost_limit.CostLimit, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if l := m.get(owner); l != nil {
		return l, nil
	}
	return nil, errors.ErrNotFound
}

func (m *memLimits) Create(_ context.Context, l *cost_limit.CostLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[l.OwnerID]; !ok {
		cp := *l
		m.rows[l.OwnerID] = &cp
	}
	return nil
}

func (m *memLimits) Update(_ context.Context, l *cost_limit.CostLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[l.OwnerID]
	if !ok {
		return errors.ErrNotFound
	}
	cur.PlanTier = l.PlanTier
	cur.DailyLimit = l.DailyLimit
	cur.MonthlyLimit = l.MonthlyLimit
	cur.EnforceHardLimit = l.EnforceHardLimit
	return nil
}

func (m *memLimits) AddSpend(_ context.Context, owner string, amount decimal.Decimal, now time.Time) (*cost_limit.SpendUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[owner]
	if !ok {
		return nil, errors.ErrNotFound
	}
	before := *l

	if !now.Before(l.DailyResetAt) {
		l.DailySpent = amount
		l.DailyResetAt = cost_limit.NextDailyReset(now)
	} else {
		l.DailySpent = l.DailySpent.Add(amount)
	}
	if !now.Before(l.MonthlyResetAt) {
		l.MonthlySpent = amount
		l.MonthlyResetAt = cost_limit.NextMonthlyReset(now)
	} else {
		l.MonthlySpent = l.MonthlySpent.Add(amount)
	}

	after := *l
	return &cost_limit.SpendUpdate{Before: &before, After: &after}, nil
}

func (m *memLimits) ResetExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owners []string
	for owner, l := range m.rows {
		reset := false
		if !now.Before(l.DailyResetAt) {
			l.DailySpent = decimal.Zero
			l.DailyResetAt = cost_limit.NextDailyReset(now)
			reset = true
		}
		if !now.Before(l.MonthlyResetAt) {
			l.MonthlySpent = decimal.Zero
			l.MonthlyResetAt = cost_limit.NextMonthlyReset(now)
			reset = true
		}
		if reset {
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

// memAlerts enforces one alert per (owner, type, period, period start)
type memAlerts struct {
	mu     sync.Mutex
	alerts []*cost_limit.Alert
}

func (m *memAlerts) Create(_ context.Context, a *cost_limit.Alert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.alerts {
		if cur.OwnerID == a.OwnerID && cur.AlertType == a.AlertType && cur.Period == a.Period && cur.PeriodStart.Equal(a.PeriodStart) {
			return false, nil
		}
	}
	cp := *a
	m.alerts = append(m.alerts, &cp)
	return true, nil
}

func (m *memAlerts) ListUnacknowledged(_ context.Context, owner string, limit int) ([]*cost_limit.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*cost_limit.Alert
	for _, a := range m.alerts {
		if a.OwnerID == owner && !a.Acknowledged {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAlerts) GetByID(_ context.Context, id uuid.UUID) (*cost_limit.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (m *memAlerts) Acknowledge(_ context.Context, id uuid.UUID, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID != id {
			continue
		}
		if a.Acknowledged {
			return errors.ErrAlertAlreadyAcknowledged
		}
		a.Acknowledged = true
		a.AcknowledgedBy = &actor
		a.AcknowledgedAt = &at
		return nil
	}
	return errors.ErrNotFound
}

func (m *memAlerts) byType(owner string, t cost_limit.AlertType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.alerts {
		if a.OwnerID == owner && a.AlertType == t {
			n++
		}
	}
	return n
}

// MockNotifier is a mock for AlertNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyCostAlert(ctx context.Context, alert *cost_limit.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

type fixture struct {
	svc    *Service
	cache  *cache.Service
	mr     *miniredis.Miniredis
	ledger *memLedger
	limits *memLimits
	alerts *memAlerts
	clock  *testClock
}

var testNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithLedger(t, func(_ *fixture, mem *memLedger) usage.Ledger { return mem }, opts...)
}

// newFixtureWithLedger lets a test put its own ledger in front of the in-memory one
func newFixtureWithLedger(t *testing.T, wrap func(*fixture, *memLedger) usage.Ledger, opts ...Option) *fixture {
	t.Helper()

	store, mr := testsupport.NewRedisStore(t)
	cacheSvc := cache.NewService(store, logger.NewNop(), cache.DefaultOptions())
	t.Cleanup(func() { _ = cacheSvc.Close(context.Background()) })

	f := &fixture{
		cache:  cacheSvc,
		mr:     mr,
		ledger: &memLedger{},
		limits: newMemLimits(),
		alerts: &memAlerts{},
		clock:  &testClock{now: testNow},
	}

	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.svc = NewService(
		wrap(f, f.ledger), f.limits, f.alerts,
		pricing.NewEstimator(pricing.DefaultTable()),
		cacheSvc, cache.NewInvalidator(cacheSvc, logger.NewNop()),
		DefaultConfig(), logger.NewNop(), opts...,
	)
	return f
}

// awaitCached blocks until a background cache write for key has landed
func (f *fixture) awaitCached(t *testing.T, key string) {
	t.Helper()
	require.Eventually(t, func() bool { return f.mr.Exists(key) }, time.Second, 5*time.Millisecond)
}
