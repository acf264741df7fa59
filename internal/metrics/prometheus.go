package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_cache_requests_total",
			Help: "Cache lookups by result",
		},
		[]string{"op", "result"}, // result: hit|miss|error
	)

	CacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_cache_errors_total",
			Help: "Swallowed cache backend errors by operation",
		},
		[]string{"op"},
	)

	CacheLockOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_cache_lock_outcomes_total",
			Help: "Single-flight lock outcomes",
		},
		[]string{"outcome"}, // acquired|waited_hit|fallback_compute|backend_error
	)

	CacheBackgroundWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_cache_background_writes_total",
			Help: "Fire-and-forget cache writes by status",
		},
		[]string{"status"}, // queued|dropped|done
	)

	CacheComputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursecast_cache_compute_duration_seconds",
			Help:    "Duration of compute callbacks run on cache miss",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"mode"}, // plain|locked
	)

	CacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_cache_invalidations_total",
			Help: "Invalidation requests by entity kind",
		},
		[]string{"kind"},
	)

	// Usage metrics
	UsageEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_usage_events_total",
			Help: "Tracked usage events",
		},
		[]string{"provider", "service", "status"}, // status: recorded|failed
	)

	UsageCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_usage_cost_usd_total",
			Help: "Tracked cost in USD",
		},
		[]string{"provider", "service"},
	)

	UsageUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_usage_units_total",
			Help: "Tracked input/output units",
		},
		[]string{"provider", "service", "direction"}, // direction: input|output
	)

	// Limit metrics
	CostLimitChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_cost_limit_checks_total",
			Help: "Cost limit checks by decision",
		},
		[]string{"decision"}, // allowed|denied|unverified
	)

	CostAlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_cost_alerts_raised_total",
			Help: "Cost alerts created",
		},
		[]string{"type", "period"},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursecast_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	// Database metrics
	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursecast_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"}, // database: postgres|clickhouse
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursecast_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"database", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		CacheRequests,
		CacheErrors,
		CacheLockOutcomes,
		CacheBackgroundWrites,
		CacheComputeDuration,
		CacheInvalidations,
		UsageEvents,
		UsageCost,
		UsageUnits,
		CostLimitChecks,
		CostAlertsRaised,
		WorkerExecutions,
		WorkerDuration,
		DBQueries,
		DBQueryDuration,
	)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerRun records a worker execution
func RecordWorkerRun(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, status(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	DBQueries.WithLabelValues(database, operation, status(err)).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordUsage records a tracked usage event
func RecordUsage(provider, service string, cost float64, input, output int64, err error) {
	if err != nil {
		UsageEvents.WithLabelValues(provider, service, "failed").Inc()
		return
	}
	UsageEvents.WithLabelValues(provider, service, "recorded").Inc()
	if cost > 0 {
		UsageCost.WithLabelValues(provider, service).Add(cost)
	}
	if input > 0 {
		UsageUnits.WithLabelValues(provider, service, "input").Add(float64(input))
	}
	if output > 0 {
		UsageUnits.WithLabelValues(provider, service, "output").Add(float64(output))
	}
}
