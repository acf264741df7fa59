package kafka

// Topic definitions for Kafka event streaming
const (
	// Spend alerts, keyed by owner ID
	TopicCostAlerts = "costs.alerts"

	// Entity mutations that invalidate cached data, keyed by entity ID
	TopicCacheInvalidations = "cache.invalidations"
)
