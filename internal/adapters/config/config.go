package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"coursecast/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	OpenAI        OpenAIConfig
	Cache         CacheConfig
	Costs         CostConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"coursecast"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type HTTPConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8080"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host          string        `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port          int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User          string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"CLICKHOUSE_PASSWORD"`
	Database      string        `envconfig:"CLICKHOUSE_DB" default:"coursecast"`
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"true"`
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"coursecast"`
}

type OpenAIConfig struct {
	APIKey         string        `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel string        `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	Timeout        time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
}

// CacheConfig holds the TTL classes and the knobs of the cache-aside layer
type CacheConfig struct {
	TTLShort  time.Duration `envconfig:"CACHE_TTL_SHORT" default:"60s"`
	TTLMedium time.Duration `envconfig:"CACHE_TTL_MEDIUM" default:"5m"`
	TTLLong   time.Duration `envconfig:"CACHE_TTL_LONG" default:"1h"`
	TTLDay    time.Duration `envconfig:"CACHE_TTL_DAY" default:"24h"`

	LockTTL       time.Duration `envconfig:"CACHE_LOCK_TTL" default:"10s"`
	LockWait      time.Duration `envconfig:"CACHE_LOCK_WAIT" default:"100ms"`
	ScanPageSize  int64         `envconfig:"CACHE_SCAN_PAGE_SIZE" default:"100"`
	WriteWorkers  int           `envconfig:"CACHE_WRITE_WORKERS" default:"4"`
	WriteQueue    int           `envconfig:"CACHE_WRITE_QUEUE" default:"1024"`
	WriteTimeout  time.Duration `envconfig:"CACHE_WRITE_TIMEOUT" default:"2s"`
	ErrorLogEvery time.Duration `envconfig:"CACHE_ERROR_LOG_EVERY" default:"1s"`
}

// CostConfig holds spend limit defaults and pricing sources
type CostConfig struct {
	WarningThresholdPct  int    `envconfig:"COST_WARNING_THRESHOLD_PCT" default:"80"`
	CriticalThresholdPct int    `envconfig:"COST_CRITICAL_THRESHOLD_PCT" default:"95"`
	FreeDailyLimit       string `envconfig:"COST_FREE_DAILY_LIMIT" default:"1.00"`
	FreeMonthlyLimit     string `envconfig:"COST_FREE_MONTHLY_LIMIT" default:"10.00"`
	AlertsPageSize       int    `envconfig:"COST_ALERTS_PAGE_SIZE" default:"50"`
	PricingFile          string `envconfig:"PRICING_FILE"`

	ChatProvider          string `envconfig:"COST_CHAT_PROVIDER" default:"anthropic"`
	ChatModel             string `envconfig:"COST_CHAT_MODEL" default:"claude-3-5-sonnet"`
	EmbeddingModel        string `envconfig:"COST_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	TranscriptionProvider string `envconfig:"COST_TRANSCRIPTION_PROVIDER" default:"openai"`
	TranscriptionModel    string `envconfig:"COST_TRANSCRIPTION_MODEL" default:"whisper-1"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	UsageRollupInterval time.Duration `envconfig:"WORKER_USAGE_ROLLUP_INTERVAL" default:"10m"`
	LimitResetInterval  time.Duration `envconfig:"WORKER_LIMIT_RESET_INTERVAL" default:"1m"`
	UsageRollupEnabled  bool          `envconfig:"WORKER_USAGE_ROLLUP_ENABLED" default:"true"`
	LimitResetEnabled   bool          `envconfig:"WORKER_LIMIT_RESET_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Costs.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c CostConfig) validate() error {
	if c.WarningThresholdPct <= 0 || c.WarningThresholdPct > 100 {
		return errors.Wrapf(errors.ErrInvalidInput, "COST_WARNING_THRESHOLD_PCT out of range: %d", c.WarningThresholdPct)
	}
	if c.CriticalThresholdPct < c.WarningThresholdPct || c.CriticalThresholdPct > 100 {
		return errors.Wrapf(errors.ErrInvalidInput, "COST_CRITICAL_THRESHOLD_PCT must be within [warning, 100]: %d", c.CriticalThresholdPct)
	}
	return nil
}
