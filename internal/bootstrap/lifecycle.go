package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "coursecast/internal/adapters/clickhouse"
	"coursecast/internal/adapters/kafka"
	pgclient "coursecast/internal/adapters/postgres"
	redisclient "coursecast/internal/adapters/redis"
	"coursecast/internal/api"
	chrepo "coursecast/internal/repository/clickhouse"
	"coursecast/internal/services/cache"
	"coursecast/internal/workers"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// ShutdownTargets lists everything Lifecycle stops. Nil fields are skipped.
type ShutdownTargets struct {
	WG                   *sync.WaitGroup
	HTTPServer           *api.Server
	WorkerScheduler      *workers.Scheduler
	InvalidationConsumer *kafka.Consumer
	UsageRepository      *chrepo.UsageRepository
	Cache                *cache.Service
	KafkaProducer        *kafka.Producer
	PG                   *pgclient.Client
	CH                   *chclient.Client
	Redis                *redisclient.Client
	ErrorTracker         errors.Tracker
}

// Shutdown performs coordinated cleanup of all components in the correct order:
// 1. No new requests accepted
// 2. Workers finish their current run
// 3. Kafka consumers unblock before waiting for goroutines
// 4. Buffered usage events and cache writes are flushed
// 5. Producer closes after everything that may publish
// 6. Logs and errors flushed
// 7. Database connections last (other components may need them)
func (l *Lifecycle) Shutdown(t ShutdownTargets, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	// ========================================
	// Step 1: Stop HTTP Server (5s timeout)
	// ========================================
	log.Info("[1/9] Stopping HTTP server...")
	if t.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := t.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		} else {
			log.Info("✓ HTTP server stopped")
		}
		httpCancel()
	}

	// ========================================
	// Step 2: Stop Background Workers
	// ========================================
	log.Info("[2/9] Stopping background workers...")
	if t.WorkerScheduler != nil {
		if err := t.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// ========================================
	// Step 3: Close Kafka Consumers
	// Close BEFORE waiting for goroutines; this unblocks ReadMessage()
	// ========================================
	log.Info("[3/9] Closing Kafka consumers...")
	l.closeKafkaConsumers(map[string]*kafka.Consumer{
		"cache_invalidations": t.InvalidationConsumer,
	}, log)

	// ========================================
	// Step 4: Wait for Goroutines
	// ========================================
	log.Info("[4/9] Waiting for goroutines...")
	if t.WG != nil {
		l.waitForGoroutines(t.WG, 10*time.Second, log)
	}

	// ========================================
	// Step 5: Flush usage ledger and cache writes
	// ========================================
	log.Info("[5/9] Flushing usage events and cache writes...")
	l.flushBuffers(shutdownCtx, t.UsageRepository, t.Cache, log)

	// ========================================
	// Step 6: Close Kafka Producer
	// ========================================
	log.Info("[6/9] Closing Kafka producer...")
	if t.KafkaProducer != nil {
		if err := t.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	// ========================================
	// Step 7: Flush Error Tracker
	// ========================================
	log.Info("[7/9] Flushing error tracker...")
	l.flushErrorTracker(shutdownCtx, t.ErrorTracker, log)

	// ========================================
	// Step 8: Sync Logs
	// ========================================
	log.Info("[8/9] Syncing logs...")
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	} else {
		log.Info("✓ Logs synced")
	}

	// ========================================
	// Step 9: Close Database Connections
	// LAST - other components may need them during shutdown
	// ========================================
	log.Info("[9/9] Closing database connections...")
	l.closeDatabases(t.PG, t.CH, t.Redis, log)

	log.Info("✅ Graceful shutdown complete")
}

// closeKafkaConsumers closes all Kafka consumers
func (l *Lifecycle) closeKafkaConsumers(consumers map[string]*kafka.Consumer, log *logger.Logger) {
	for name, consumer := range consumers {
		if consumer == nil {
			continue
		}
		if err := consumer.Close(); err != nil {
			log.Errorw("Kafka consumer close failed", "consumer", name, "error", err)
		}
	}
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushBuffers drains the usage batch writer and the cache write-back queue
func (l *Lifecycle) flushBuffers(ctx context.Context, usage *chrepo.UsageRepository, cacheSvc *cache.Service, log *logger.Logger) {
	flushCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if usage != nil {
		if err := usage.Stop(flushCtx); err != nil {
			log.Errorw("Usage ledger flush failed", "error", err)
		} else {
			log.Info("✓ Usage events flushed")
		}
	}

	if cacheSvc != nil {
		if err := cacheSvc.Close(flushCtx); err != nil {
			log.Errorw("Cache write queue drain failed", "error", err)
		} else {
			log.Info("✓ Cache writes drained")
		}
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	errs := &errors.MultiError{}

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "postgres"))
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "clickhouse"))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "redis"))
		}
	}

	if errs.HasErrors() {
		log.Errorw("Database close errors", "error", errs.ToError())
	} else {
		log.Info("✓ Database connections closed")
	}
}
