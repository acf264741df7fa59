package bootstrap

import (
	"context"
	"sync"

	chclient "coursecast/internal/adapters/clickhouse"
	"coursecast/internal/adapters/config"
	"coursecast/internal/adapters/embeddings"
	"coursecast/internal/adapters/kafka"
	pgclient "coursecast/internal/adapters/postgres"
	redisclient "coursecast/internal/adapters/redis"
	"coursecast/internal/api"
	"coursecast/internal/api/health"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/domain/cost_limit"
	"coursecast/internal/events"
	chrepo "coursecast/internal/repository/clickhouse"
	"coursecast/internal/services/cache"
	"coursecast/internal/services/cost_tracker"
	"coursecast/internal/services/pricing"
	"coursecast/internal/workers"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (Data stores)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Services    *Services
	Adapters    *Adapters
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups all domain repositories
type Repositories struct {
	Usage      *chrepo.UsageRepository
	CostLimits cost_limit.Repository
	CostAlerts cost_limit.AlertRepository
}

// Services groups all domain services
type Services struct {
	Cache       *cache.Service
	Invalidator *cache.Invalidator
	Estimator   *pricing.Estimator
	CachePolicy cachekey.Policy
	CostTracker *cost_tracker.Service
}

// Adapters groups all external adapters
type Adapters struct {
	KafkaProducer         *kafka.Producer
	InvalidationConsumer  *kafka.Consumer
	CostAlertPublisher    *events.CostAlertPublisher
	InvalidationPublisher *events.InvalidationPublisher

	// nil when no OpenAI key is configured
	EmbeddingProvider embeddings.Provider
}

// Application groups application layer components
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups all background processing components
type Background struct {
	WorkerScheduler *workers.Scheduler
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Services:    &Services{},
		Adapters:    &Adapters{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitServices()
	c.MustInitAdapters()
	c.MustInitApplication()
	c.MustInitBackground()
}

// Start starts all background components
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	c.Repos.Usage.Start(c.Context)

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.startConsumers()

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// startConsumers starts Kafka consumers in background goroutines
func (c *Container) startConsumers() {
	consumer := c.Adapters.InvalidationConsumer
	if consumer == nil {
		return
	}

	handler := events.InvalidationHandler(c.Services.Invalidator, c.Log)

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := consumer.Consume(c.Context, handler); err != nil && c.Context.Err() == nil {
			c.Log.Errorw("Invalidation consumer failed", "error", err)
		}
	}()

	c.Log.Infow("✓ Event consumers started", "consumers", []string{"cache_invalidations"})
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Cancel application context to signal all components to stop
	c.Cancel()

	c.Lifecycle.Shutdown(ShutdownTargets{
		WG:                   c.WG,
		HTTPServer:           c.Application.HTTPServer,
		WorkerScheduler:      c.Background.WorkerScheduler,
		InvalidationConsumer: c.Adapters.InvalidationConsumer,
		UsageRepository:      c.Repos.Usage,
		Cache:                c.Services.Cache,
		KafkaProducer:        c.Adapters.KafkaProducer,
		PG:                   c.PG,
		CH:                   c.CH,
		Redis:                c.Redis,
		ErrorTracker:         c.ErrorTracker,
	}, c.Log)
}
