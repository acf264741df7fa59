package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/joho/godotenv"

	"coursecast/internal/adapters/config"
)

// DatabaseConfigs bundles the config sections integration tests connect with
type DatabaseConfigs struct {
	Postgres   config.PostgresConfig
	ClickHouse config.ClickHouseConfig
	Redis      config.RedisConfig
	Kafka      config.KafkaConfig
}

var requiredEnv = []string{
	"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
	"CLICKHOUSE_HOST", "CLICKHOUSE_DB",
	"REDIS_HOST",
}

// LoadDatabaseConfigsFromEnv reads integration settings from the environment,
// falling back to the nearest .env.test above the working directory.
// Tests are skipped when required variables are missing.
func LoadDatabaseConfigsFromEnv(t *testing.T) DatabaseConfigs {
	t.Helper()

	if path := findUp(".env.test"); path != "" {
		// Load never overrides variables that are already set
		_ = godotenv.Load(path)
	}

	var missing []string
	for _, key := range requiredEnv {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		t.Skipf("integration environment missing, set %v to run", missing)
	}

	return DatabaseConfigs{
		Postgres: config.PostgresConfig{
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     intValue("POSTGRES_PORT", 5432),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Database: os.Getenv("POSTGRES_DB"),
			SSLMode:  valueWithDefault("POSTGRES_SSL_MODE", "disable"),
			MaxConns: 10,
		},
		ClickHouse: config.ClickHouseConfig{
			Host:      os.Getenv("CLICKHOUSE_HOST"),
			Port:      intValue("CLICKHOUSE_PORT", 9000),
			User:      valueWithDefault("CLICKHOUSE_USER", "default"),
			Password:  os.Getenv("CLICKHOUSE_PASSWORD"),
			Database:  os.Getenv("CLICKHOUSE_DB"),
			BatchSize: 10,
		},
		Redis: config.RedisConfig{
			Host:     os.Getenv("REDIS_HOST"),
			Port:     intValue("REDIS_PORT", 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intValue("REDIS_DB", 0),
		},
		Kafka: config.KafkaConfig{
			Enabled: os.Getenv("KAFKA_BROKERS") != "",
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			GroupID: valueWithDefault("KAFKA_GROUP_ID", "coursecast-test"),
		},
	}
}

// findUp returns the first match of name in the working directory or its parents
func findUp(name string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func valueWithDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func intValue(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
