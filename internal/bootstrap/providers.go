package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	chclient "coursecast/internal/adapters/clickhouse"
	"coursecast/internal/adapters/config"
	"coursecast/internal/adapters/embeddings"
	errnoop "coursecast/internal/adapters/errors/noop"
	"coursecast/internal/adapters/errors/sentry"
	"coursecast/internal/adapters/kafka"
	pgclient "coursecast/internal/adapters/postgres"
	redisclient "coursecast/internal/adapters/redis"
	"coursecast/internal/api"
	"coursecast/internal/api/handlers"
	"coursecast/internal/api/health"
	domaincache "coursecast/internal/domain/cache"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/events"
	"coursecast/internal/metrics"
	chrepo "coursecast/internal/repository/clickhouse"
	pgrepo "coursecast/internal/repository/postgres"
	"coursecast/internal/services/cache"
	"coursecast/internal/services/cost_tracker"
	"coursecast/internal/services/pricing"
	"coursecast/internal/workers"
	"coursecast/internal/workers/costs"
	"coursecast/internal/workers/usage"
	"coursecast/migrations"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.ErrorTracker = provideErrorTracker(cfg, logger.Get())
	logger.SetErrorTracker(c.ErrorTracker)

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects data stores and applies their schemas
func (c *Container) MustInitInfrastructure() {
	var err error

	ctx, cancel := context.WithTimeout(c.Context, 60*time.Second)
	defer cancel()

	// PostgreSQL
	c.Log.Info("Connecting to PostgreSQL...")
	c.PG, err = pgclient.NewClient(ctx, c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect postgres: %v", err)
	}
	if err := c.PG.ApplySchema(ctx, migrations.FS, migrations.PostgresDir); err != nil {
		c.Log.Fatalf("failed to apply postgres schema: %v", err)
	}
	c.Log.Info("✓ PostgreSQL connected")

	// ClickHouse
	c.Log.Info("Connecting to ClickHouse...")
	c.CH, err = chclient.NewClient(ctx, c.Config.ClickHouse)
	if err != nil {
		c.Log.Fatalf("failed to connect clickhouse: %v", err)
	}
	if err := c.CH.ApplySchema(ctx, migrations.FS, migrations.ClickHouseDir); err != nil {
		c.Log.Fatalf("failed to apply clickhouse schema: %v", err)
	}
	c.Log.Info("✓ ClickHouse connected")

	// Redis
	c.Log.Info("Connecting to Redis...")
	c.Redis, err = redisclient.NewClient(c.Config.Redis)
	if err != nil {
		c.Log.Fatalf("failed to connect redis: %v", err)
	}
	c.Log.Info("✓ Redis connected")

	prometheus.MustRegister(metrics.NewCustomCollector(c.Log, c.PG.DB(), c.CH.Conn(), c.Redis.Client()))
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories initializes the usage ledger and limit stores
func (c *Container) MustInitRepositories() {
	c.Repos.Usage = chrepo.NewUsageRepository(c.CH.Conn(), chrepo.UsageRepositoryConfig{
		BatchSize:     c.Config.ClickHouse.BatchSize,
		FlushInterval: c.Config.ClickHouse.FlushInterval,
	}, c.Log)
	c.Repos.CostLimits = pgrepo.NewCostLimitRepository(c.PG.DB())
	c.Repos.CostAlerts = pgrepo.NewCostAlertRepository(c.PG.DB())

	c.Log.Info("✓ Repositories initialized")
}

// ========================================
// Phase 4: Services
// ========================================

// MustInitServices wires the cache layer, pricing and the cost tracker
func (c *Container) MustInitServices() {
	c.Services.Cache = cache.NewService(c.Redis, c.Log, cache.OptionsFromConfig(c.Config.Cache))
	c.Services.Invalidator = cache.NewInvalidator(c.Services.Cache, c.Log)

	table, err := providePricingTable(c.Config.Costs, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to load pricing: %v", err)
	}
	c.Services.Estimator = pricing.NewEstimator(table)

	trackerCfg, err := cost_tracker.ConfigFrom(c.Config.Costs, c.Config.Cache)
	if err != nil {
		c.Log.Fatalf("invalid cost configuration: %v", err)
	}
	c.Services.CachePolicy = trackerCfg.Policy

	// Alert fan-out is only available with Kafka; the producer is created here
	// so the tracker can be built once.
	var opts []cost_tracker.Option
	if c.Config.Kafka.Enabled {
		c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
		c.Adapters.CostAlertPublisher = events.NewCostAlertPublisher(c.Adapters.KafkaProducer, c.Config.App.Name, c.Log)
		c.Adapters.InvalidationPublisher = events.NewInvalidationPublisher(c.Adapters.KafkaProducer, c.Config.App.Name)
		opts = append(opts, cost_tracker.WithNotifier(c.Adapters.CostAlertPublisher))
	}

	c.Services.CostTracker = cost_tracker.NewService(
		c.Repos.Usage,
		c.Repos.CostLimits,
		c.Repos.CostAlerts,
		c.Services.Estimator,
		c.Services.Cache,
		c.Services.Invalidator,
		trackerCfg,
		c.Log,
		opts...,
	)
	// Buffered events become visible only on flush; drop summaries cached in between
	c.Repos.Usage.OnPersisted(c.Services.CostTracker.EventsPersisted)

	c.Log.Info("✓ Services initialized")
}

// ========================================
// Phase 5: External Adapters
// ========================================

// MustInitAdapters initializes Kafka consumers and the embeddings provider
func (c *Container) MustInitAdapters() {
	if c.Config.Kafka.Enabled {
		c.Adapters.InvalidationConsumer = provideKafkaConsumer(c.Config, kafka.TopicCacheInvalidations, c.Log)
	}

	var err error
	c.Adapters.EmbeddingProvider, err = provideEmbeddingProvider(
		c.Config.OpenAI,
		c.Services.Cache,
		c.Services.CachePolicy,
		c.Services.CostTracker,
		c.Log,
	)
	if err != nil {
		c.Log.Fatalf("failed to init embeddings provider: %v", err)
	}

	c.Log.Info("✓ Adapters initialized")
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication builds the HTTP API
func (c *Container) MustInitApplication() {
	// Scheduler is created first so /health can report worker state
	c.Background.WorkerScheduler = workers.NewScheduler(c.Log)

	c.Application.HealthHandler = health.New(c.Log, c.Config.App.Name, c.Config.App.Version, c.Background.WorkerScheduler,
		health.Check{Name: "postgres", Ping: c.PG.Health},
		health.Check{Name: "clickhouse", Ping: c.CH.Health},
		health.Check{Name: "redis", Ping: c.Redis.Ping},
	)

	routes := []api.Routes{handlers.NewUsageHandler(c.Services.CostTracker, c.Log)}
	if c.Adapters.EmbeddingProvider != nil {
		routes = append(routes, handlers.NewEmbeddingsHandler(
			c.Adapters.EmbeddingProvider,
			c.Services.CostTracker,
			c.Services.Estimator,
			c.Log,
		))
	}

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:        c.Config.HTTP.Port,
		ServiceName: c.Config.App.Name,
		Version:     c.Config.App.Version,
	}, c.Application.HealthHandler, c.Log, routes...)

	c.Log.Info("✓ Application layer initialized")
}

// ========================================
// Phase 7: Background Processing
// ========================================

// MustInitBackground registers the periodic workers
func (c *Container) MustInitBackground() {
	provideWorkers(c.Background.WorkerScheduler, c.Config.Workers, c, c.Log)
	c.Log.Info("✓ Background workers registered")
}

// ========================================
// Helper Provider Functions
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(sentry.Config{
		DSN:         cfg.ErrorTracking.SentryDSN,
		Environment: cfg.ErrorTracking.Environment,
		Release:     cfg.App.Version,
	})
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func providePricingTable(cfg config.CostConfig, log *logger.Logger) (pricing.Table, error) {
	if cfg.PricingFile == "" {
		return pricing.DefaultTable(), nil
	}

	table, err := pricing.LoadTable(cfg.PricingFile)
	if err != nil {
		return nil, errors.Wrapf(err, "pricing file %s", cfg.PricingFile)
	}
	log.Infow("✓ Pricing table loaded", "file", cfg.PricingFile)
	return table, nil
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	log.Info("Initializing Kafka producer...")
	if len(cfg.Kafka.Brokers) == 0 {
		log.Warn("Kafka brokers not configured, using default localhost:9092")
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, log)
	log.Info("✓ Kafka producer initialized")
	return producer
}

// provideKafkaConsumer joins a per-instance group: every instance must see
// every invalidation.
func provideKafkaConsumer(cfg *config.Config, topic string, log *logger.Logger) *kafka.Consumer {
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, host),
		Topic:   topic,
	}, log)
}

// provideEmbeddingProvider returns nil when no OpenAI key is configured
func provideEmbeddingProvider(
	cfg config.OpenAIConfig,
	cacheSvc *cache.Service,
	policy cachekey.Policy,
	meter embeddings.Meter,
	log *logger.Logger,
) (embeddings.Provider, error) {
	if cfg.APIKey == "" {
		log.Warn("OPENAI_API_KEY not set, embeddings API disabled")
		return nil, nil
	}

	openai, err := embeddings.NewOpenAIProvider(
		cfg.APIKey,
		cfg.EmbeddingModel,
		cfg.Timeout,
		embeddings.WithMeter(meter),
		embeddings.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	log.Infow("✓ Embeddings provider initialized", "model", openai.Name(), "dimensions", openai.Dimensions())
	return embeddings.NewCachedProvider(openai, cacheSvc, policy.For(domaincache.KindEmbedding), log), nil
}

// provideWorkers registers the usage rollup and limit reset workers
func provideWorkers(scheduler *workers.Scheduler, cfg config.WorkerConfig, c *Container, log *logger.Logger) {
	scheduler.RegisterWorker(usage.NewRollupWorker(
		c.Repos.Usage,
		cfg.UsageRollupInterval,
		cfg.UsageRollupEnabled,
		log,
	))

	var limits costs.LimitInvalidator = c.Services.Invalidator
	if c.Adapters.InvalidationPublisher != nil {
		limits = events.NewLimitBroadcaster(c.Services.Invalidator, c.Adapters.InvalidationPublisher, log)
	}

	scheduler.RegisterWorker(costs.NewLimitResetWorker(
		c.Repos.CostLimits,
		limits,
		cfg.LimitResetInterval,
		cfg.LimitResetEnabled,
		log,
	))
}
