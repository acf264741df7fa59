package metrics

import (
	"context"
	"time"

	"coursecast/pkg/logger"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// CustomCollector exposes gauges read from the backing stores at scrape time
type CustomCollector struct {
	log        *logger.Logger
	postgres   *sqlx.DB
	clickhouse driver.Conn
	redis      *redis.Client

	// Descriptors
	costLimits     *prometheus.Desc
	openAlerts     *prometheus.Desc
	usageEvents24h *prometheus.Desc
	usageCost24h   *prometheus.Desc
	cacheKeys      *prometheus.Desc
}

// NewCustomCollector creates a new custom metrics collector
func NewCustomCollector(log *logger.Logger, postgres *sqlx.DB, clickhouse driver.Conn, redis *redis.Client) *CustomCollector {
	return &CustomCollector{
		log:        log,
		postgres:   postgres,
		clickhouse: clickhouse,
		redis:      redis,

		costLimits: prometheus.NewDesc(
			"coursecast_cost_limits",
			"Persisted cost limits by plan tier",
			[]string{"tier"}, nil,
		),
		openAlerts: prometheus.NewDesc(
			"coursecast_cost_alerts_open",
			"Unacknowledged cost alerts by type",
			[]string{"type"}, nil,
		),
		usageEvents24h: prometheus.NewDesc(
			"coursecast_usage_events_24h",
			"Usage events recorded in the last 24h by service",
			[]string{"service"}, nil,
		),
		usageCost24h: prometheus.NewDesc(
			"coursecast_usage_cost_usd_24h",
			"Cost recorded in the last 24h by provider",
			[]string{"provider"}, nil,
		),
		cacheKeys: prometheus.NewDesc(
			"coursecast_cache_keys",
			"Number of keys in the cache database",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *CustomCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.costLimits
	ch <- c.openAlerts
	ch <- c.usageEvents24h
	ch <- c.usageCost24h
	ch <- c.cacheKeys
}

// Collect implements prometheus.Collector
func (c *CustomCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.postgres != nil {
		c.collectCostLimits(ctx, ch)
		c.collectOpenAlerts(ctx, ch)
	}
	if c.clickhouse != nil {
		c.collectUsage(ctx, ch)
	}
	if c.redis != nil {
		c.collectCacheKeys(ctx, ch)
	}
}

func (c *CustomCollector) collectCostLimits(ctx context.Context, ch chan<- prometheus.Metric) {
	type tierCount struct {
		Tier  string `db:"plan_tier"`
		Count int    `db:"count"`
	}

	var rows []tierCount
	err := c.postgres.SelectContext(ctx, &rows, `
		SELECT plan_tier, COUNT(*) AS count
		FROM cost_limits
		GROUP BY plan_tier
	`)
	if err != nil {
		c.log.Error("Failed to collect cost limit metric", "error", err)
		return
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(c.costLimits, prometheus.GaugeValue, float64(r.Count), r.Tier)
	}
}

func (c *CustomCollector) collectOpenAlerts(ctx context.Context, ch chan<- prometheus.Metric) {
	type alertCount struct {
		Type  string `db:"alert_type"`
		Count int    `db:"count"`
	}

	var rows []alertCount
	err := c.postgres.SelectContext(ctx, &rows, `
		SELECT alert_type, COUNT(*) AS count
		FROM cost_alerts
		WHERE acknowledged = false
		GROUP BY alert_type
	`)
	if err != nil {
		c.log.Error("Failed to collect open alert metric", "error", err)
		return
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(c.openAlerts, prometheus.GaugeValue, float64(r.Count), r.Type)
	}
}

func (c *CustomCollector) collectUsage(ctx context.Context, ch chan<- prometheus.Metric) {
	rows, err := c.clickhouse.Query(ctx, `
		SELECT service, count() AS events
		FROM usage_events
		WHERE occurred_at > now() - INTERVAL 24 HOUR
		GROUP BY service
	`)
	if err != nil {
		c.log.Error("Failed to collect usage event metric", "error", err)
		return
	}
	for rows.Next() {
		var (
			service string
			events  uint64
		)
		if err := rows.Scan(&service, &events); err != nil {
			break
		}
		ch <- prometheus.MustNewConstMetric(c.usageEvents24h, prometheus.GaugeValue, float64(events), service)
	}
	rows.Close()

	costRows, err := c.clickhouse.Query(ctx, `
		SELECT provider, toFloat64(sum(cost_amount)) AS cost
		FROM usage_events
		WHERE occurred_at > now() - INTERVAL 24 HOUR
		GROUP BY provider
	`)
	if err != nil {
		c.log.Error("Failed to collect usage cost metric", "error", err)
		return
	}
	defer costRows.Close()
	for costRows.Next() {
		var (
			provider string
			cost     float64
		)
		if err := costRows.Scan(&provider, &cost); err != nil {
			return
		}
		ch <- prometheus.MustNewConstMetric(c.usageCost24h, prometheus.GaugeValue, cost, provider)
	}
}

func (c *CustomCollector) collectCacheKeys(ctx context.Context, ch chan<- prometheus.Metric) {
	n, err := c.redis.DBSize(ctx).Result()
	if err != nil {
		c.log.Error("Failed to collect cache key metric", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.cacheKeys, prometheus.GaugeValue, float64(n))
}
