package clickhouse

import (
	"context"
	"sync"
	"time"

	"coursecast/pkg/logger"
)

// FlushFunc writes one batch. It should perform a single INSERT for all items.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter buffers rows in memory and hands them to FlushFunc when the
// buffer is full or MaxAge elapses. ClickHouse handles one large INSERT far
// better than many single-row ones.
//
// A failed batch is put back in front of the buffer and retried on the next
// flush. The buffer never grows beyond MaxBuffered; the oldest rows are
// dropped first.
type BatchWriter[T any] struct {
	flushFunc  FlushFunc[T]
	onFlush    func(n int, took time.Duration, err error)
	afterFlush func(ctx context.Context, batch []T)
	log        *logger.Logger

	mu       sync.Mutex
	flushMu  sync.Mutex
	buffer   []T
	dropped  int64
	lastSent time.Time

	maxBatchSize int
	maxBuffered  int
	maxAge       time.Duration
	table        string

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	OnFlush      func(n int, took time.Duration, err error) // optional
	AfterFlush   func(ctx context.Context, batch []T)       // optional, only after a successful flush
	Table        string
	MaxBatchSize int           // Default: 500
	MaxBuffered  int           // Default: 20 * MaxBatchSize
	MaxAge       time.Duration // Default: 5s
	Log          *logger.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxBuffered < cfg.MaxBatchSize {
		cfg.MaxBuffered = 20 * cfg.MaxBatchSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logger.Get()
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		onFlush:      cfg.OnFlush,
		afterFlush:   cfg.AfterFlush,
		log:          cfg.Log.With("component", "batch_writer", "table", cfg.Table),
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		lastSent:     time.Now(),
		maxBatchSize: cfg.MaxBatchSize,
		maxBuffered:  cfg.MaxBuffered,
		maxAge:       cfg.MaxAge,
		table:        cfg.Table,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the background flush loop
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx)

	bw.log.Infow("Batch writer started", "max_batch", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers an item and flushes synchronously once the batch is full
func (bw *BatchWriter[T]) Add(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	full := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if full {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered. Concurrent calls are serialized.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.mu.Unlock()

	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	took := time.Since(start)

	if bw.onFlush != nil {
		bw.onFlush(len(batch), took, err)
	}

	if err != nil {
		bw.requeue(batch)
		bw.log.Errorw("Batch flush failed, rows kept for retry",
			"rows", len(batch),
			"took", took,
			"error", err,
		)
		return err
	}

	bw.mu.Lock()
	bw.lastSent = time.Now()
	bw.mu.Unlock()

	bw.log.Debugw("Batch flushed", "rows", len(batch), "took", took)

	if bw.afterFlush != nil {
		bw.afterFlush(ctx, batch)
	}
	return nil
}

func (bw *BatchWriter[T]) requeue(batch []T) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	merged := append(batch, bw.buffer...)
	if over := len(merged) - bw.maxBuffered; over > 0 {
		merged = merged[over:]
		bw.dropped += int64(over)
		bw.log.Warnw("Batch buffer overflow, dropping oldest rows", "dropped", over)
	}
	bw.buffer = merged
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context) {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush()
			return
		case <-bw.stopCh:
			bw.finalFlush()
			return
		case <-ticker.C:
			if bw.BufferSize() > 0 {
				_ = bw.Flush(ctx)
			}
		}
	}
}

func (bw *BatchWriter[T]) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := bw.Flush(ctx); err != nil {
		bw.log.Errorw("Final flush failed", "rows", bw.BufferSize(), "error", err)
	}
}

// Stop flushes remaining rows and waits for the loop to exit
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("Batch writer stopped")
		return nil
	case <-ctx.Done():
		bw.log.Warn("Batch writer stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the number of rows waiting to be written
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// BatchWriterStats is a point-in-time view of the writer
type BatchWriterStats struct {
	BufferSize  int
	Dropped     int64
	SinceFlush  time.Duration
	MaxBatch    int
	MaxBuffered int
	Running     bool
}

// Stats returns current statistics
func (bw *BatchWriter[T]) Stats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:  len(bw.buffer),
		Dropped:     bw.dropped,
		SinceFlush:  time.Since(bw.lastSent),
		MaxBatch:    bw.maxBatchSize,
		MaxBuffered: bw.maxBuffered,
		Running:     bw.running,
	}
}
