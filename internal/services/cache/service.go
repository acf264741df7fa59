package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"coursecast/internal/adapters/config"
	"coursecast/internal/domain/cache"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/metrics"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// Options tune the cache-aside layer
type Options struct {
	ScanPageSize  int64
	LockTTL       time.Duration
	LockWait      time.Duration
	WriteWorkers  int
	WriteQueue    int
	WriteTimeout  time.Duration
	ErrorLogEvery time.Duration
}

// DefaultOptions returns the settings used when nothing is configured
func DefaultOptions() Options {
	return Options{
		ScanPageSize:  100,
		LockTTL:       10 * time.Second,
		LockWait:      100 * time.Millisecond,
		WriteWorkers:  4,
		WriteQueue:    1024,
		WriteTimeout:  2 * time.Second,
		ErrorLogEvery: time.Second,
	}
}

// OptionsFromConfig maps the env configuration onto Options
func OptionsFromConfig(cfg config.CacheConfig) Options {
	opts := Options{
		ScanPageSize:  cfg.ScanPageSize,
		LockTTL:       cfg.LockTTL,
		LockWait:      cfg.LockWait,
		WriteWorkers:  cfg.WriteWorkers,
		WriteQueue:    cfg.WriteQueue,
		WriteTimeout:  cfg.WriteTimeout,
		ErrorLogEvery: cfg.ErrorLogEvery,
	}
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ScanPageSize <= 0 {
		o.ScanPageSize = d.ScanPageSize
	}
	if o.LockTTL <= 0 {
		o.LockTTL = d.LockTTL
	}
	if o.LockWait <= 0 {
		o.LockWait = d.LockWait
	}
	if o.WriteWorkers <= 0 {
		o.WriteWorkers = d.WriteWorkers
	}
	if o.WriteQueue <= 0 {
		o.WriteQueue = d.WriteQueue
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ErrorLogEvery <= 0 {
		o.ErrorLogEvery = d.ErrorLogEvery
	}
	return o
}

// Health is the result of a cache health probe
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

type writeJob struct {
	key  string
	data []byte
	ttl  time.Duration
}

// Service is a cache-aside layer over a shared cache.Store.
// Backend failures never reach the caller: reads degrade to a miss,
// writes and deletes are logged and dropped.
type Service struct {
	store cache.Store
	log   *logger.Logger
	opts  Options

	errLimiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	writes chan writeJob
	wg     sync.WaitGroup
}

// NewService creates the cache service and starts its background writers
func NewService(store cache.Store, log *logger.Logger, opts Options) *Service {
	opts = opts.withDefaults()

	s := &Service{
		store:      store,
		log:        log.Component("cache"),
		opts:       opts,
		errLimiter: rate.NewLimiter(rate.Every(opts.ErrorLogEvery), 5),
		writes:     make(chan writeJob, opts.WriteQueue),
	}

	for i := 0; i < opts.WriteWorkers; i++ {
		s.wg.Add(1)
		go s.writer()
	}

	return s
}

// Close stops accepting background writes and drains the queue
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.writes)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "cache writers did not drain")
	}
}

func (s *Service) writer() {
	defer s.wg.Done()
	for job := range s.writes {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		if err := s.store.Set(ctx, job.key, job.data, job.ttl); err != nil {
			s.logError("set_async", job.key, err)
		}
		cancel()
		metrics.CacheBackgroundWrites.WithLabelValues("done").Inc()
	}
}

// enqueue schedules a fire-and-forget write; a full queue drops the write
func (s *Service) enqueue(key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logError("encode", key, err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.CacheBackgroundWrites.WithLabelValues("dropped").Inc()
		return
	}

	select {
	case s.writes <- writeJob{key: key, data: data, ttl: ttl}:
		metrics.CacheBackgroundWrites.WithLabelValues("queued").Inc()
	default:
		metrics.CacheBackgroundWrites.WithLabelValues("dropped").Inc()
		s.log.Warnw("Cache write queue full, dropping write", "key", key)
	}
}

// logError counts every swallowed error and logs a throttled subset
func (s *Service) logError(op, key string, err error) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	if s.errLimiter.Allow() {
		s.log.Errorw("Cache operation failed", "op", op, "key", key, "error", err)
	}
}

// Get decodes the cached JSON value into dest and reports whether it was found
func (s *Service) Get(ctx context.Context, key string, dest interface{}) bool {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errors.ErrCacheMiss) {
			metrics.CacheRequests.WithLabelValues("get", "miss").Inc()
			return false
		}
		metrics.CacheRequests.WithLabelValues("get", "error").Inc()
		s.logError("get", key, err)
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		metrics.CacheRequests.WithLabelValues("get", "error").Inc()
		s.logError("decode", key, err)
		return false
	}

	metrics.CacheRequests.WithLabelValues("get", "hit").Inc()
	return true
}

// Set stores value as JSON; ttl <= 0 stores without expiry
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logError("encode", key, err)
		return
	}
	if err := s.store.Set(ctx, key, data, ttl); err != nil {
		s.logError("set", key, err)
	}
}

// Delete removes keys
func (s *Service) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if _, err := s.store.Del(ctx, keys...); err != nil {
		s.logError("delete", keys[0], err)
	}
}

// Exists reports whether key is present; false on error
func (s *Service) Exists(ctx context.Context, key string) bool {
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		s.logError("exists", key, err)
		return false
	}
	return ok
}

// DeletePattern removes every key matching a glob pattern and returns the
// number deleted. Keys are collected over all SCAN pages first and removed
// with a single DEL.
func (s *Service) DeletePattern(ctx context.Context, pattern string) int64 {
	seen := make(map[string]struct{})
	var keys []string

	var cursor uint64
	for {
		page, next, err := s.store.Scan(ctx, cursor, pattern, s.opts.ScanPageSize)
		if err != nil {
			s.logError("scan", pattern, err)
			return 0
		}
		for _, k := range page {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return 0
	}

	n, err := s.store.Del(ctx, keys...)
	if err != nil {
		s.logError("delete_pattern", pattern, err)
		return 0
	}
	return n
}

// Increment atomically increments a counter and refreshes its TTL.
// Returns 1 when the backend fails so rate limiting fails open.
func (s *Service) Increment(ctx context.Context, key string, ttl time.Duration) int64 {
	n, err := s.store.IncrExpire(ctx, key, ttl)
	if err != nil {
		s.logError("incr", key, err)
		return 1
	}
	return n
}

// TTL returns the remaining lifetime of key, or cache.TTLNoExpiry / cache.TTLMissing.
// Backend errors report cache.TTLMissing.
func (s *Service) TTL(ctx context.Context, key string) time.Duration {
	d, err := s.store.TTL(ctx, key)
	if err != nil {
		s.logError("ttl", key, err)
		return cache.TTLMissing
	}
	return d
}

// HealthCheck pings the backend and measures latency
func (s *Service) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	err := s.store.Ping(ctx)
	h := Health{Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

// ListPush appends JSON-encoded values to a list, applying ttl when positive
func (s *Service) ListPush(ctx context.Context, key string, ttl time.Duration, values ...interface{}) {
	if len(values) == 0 {
		return
	}
	encoded := make([][]byte, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			s.logError("encode", key, err)
			return
		}
		encoded = append(encoded, data)
	}
	if err := s.store.RPush(ctx, key, encoded...); err != nil {
		s.logError("rpush", key, err)
		return
	}
	if ttl > 0 {
		if err := s.store.Expire(ctx, key, ttl); err != nil {
			s.logError("expire", key, err)
		}
	}
}

// SetAdd adds members to a set, applying ttl when positive
func (s *Service) SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) {
	if len(members) == 0 {
		return
	}
	if err := s.store.SAdd(ctx, key, members...); err != nil {
		s.logError("sadd", key, err)
		return
	}
	if ttl > 0 {
		if err := s.store.Expire(ctx, key, ttl); err != nil {
			s.logError("expire", key, err)
		}
	}
}

// SetMembers lists set members; nil on error
func (s *Service) SetMembers(ctx context.Context, key string) []string {
	members, err := s.store.SMembers(ctx, key)
	if err != nil {
		s.logError("smembers", key, err)
		return nil
	}
	return members
}

// SetIsMember checks set membership; false on error
func (s *Service) SetIsMember(ctx context.Context, key, member string) bool {
	ok, err := s.store.SIsMember(ctx, key, member)
	if err != nil {
		s.logError("sismember", key, err)
		return false
	}
	return ok
}

// ListRange decodes list items in [start, stop]; undecodable items are skipped
func ListRange[T any](ctx context.Context, s *Service, key string, start, stop int64) []T {
	raw, err := s.store.LRange(ctx, key, start, stop)
	if err != nil {
		s.logError("lrange", key, err)
		return nil
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			s.logError("decode", key, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// GetOrCompute returns the cached value for key or computes it on a miss.
// The computed value is returned immediately and written back in the background.
// Errors from compute are returned unchanged and nothing is cached.
func GetOrCompute[T any](ctx context.Context, s *Service, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var cached T
	if s.Get(ctx, key, &cached) {
		return cached, nil
	}

	v, err := timedCompute(ctx, "plain", compute)
	if err != nil {
		var zero T
		return zero, err
	}

	s.enqueue(key, v, ttl)
	return v, nil
}

// LockOption overrides lock settings for a single GetOrComputeWithLock call
type LockOption func(*lockOptions)

type lockOptions struct {
	ttl  time.Duration
	wait time.Duration
}

// WithLockTTL sets how long the compute lock may be held
func WithLockTTL(ttl time.Duration) LockOption {
	return func(o *lockOptions) { o.ttl = ttl }
}

// WithLockWait sets how long a caller that lost the lock race waits before rechecking
func WithLockWait(wait time.Duration) LockOption {
	return func(o *lockOptions) { o.wait = wait }
}

// GetOrComputeWithLock is GetOrCompute with cross-process single-flight.
//
// The first caller to miss takes lock:{key} with SET NX, computes, writes the
// value synchronously and releases the lock. Other callers wait once for
// LockWait, recheck the cache and compute on their own if it is still empty,
// so a slow holder costs at most one redundant compute per caller.
// The lock holds a random owner token and is released only while it still
// carries that token.
func GetOrComputeWithLock[T any](ctx context.Context, s *Service, key string, ttl time.Duration, compute func(context.Context) (T, error), opts ...LockOption) (T, error) {
	var cached T
	if s.Get(ctx, key, &cached) {
		return cached, nil
	}

	lo := lockOptions{ttl: s.opts.LockTTL, wait: s.opts.LockWait}
	for _, opt := range opts {
		opt(&lo)
	}

	lockKey := cachekey.Lock(key)
	token := []byte(uuid.NewString())

	acquired, err := s.store.SetNX(ctx, lockKey, token, lo.ttl)
	if err != nil {
		s.logError("lock", key, err)
		metrics.CacheLockOutcomes.WithLabelValues("backend_error").Inc()
		return timedCompute(ctx, "locked", compute)
	}

	if acquired {
		metrics.CacheLockOutcomes.WithLabelValues("acquired").Inc()
		defer s.release(lockKey, token)

		if s.Get(ctx, key, &cached) {
			return cached, nil
		}

		v, err := timedCompute(ctx, "locked", compute)
		if err != nil {
			var zero T
			return zero, err
		}
		s.Set(ctx, key, v, ttl)
		return v, nil
	}

	timer := time.NewTimer(lo.wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		var zero T
		return zero, ctx.Err()
	case <-timer.C:
	}

	if s.Get(ctx, key, &cached) {
		metrics.CacheLockOutcomes.WithLabelValues("waited_hit").Inc()
		return cached, nil
	}

	metrics.CacheLockOutcomes.WithLabelValues("fallback_compute").Inc()
	s.log.Debugw("Lock wait expired, computing independently", "key", key)

	v, err := timedCompute(ctx, "locked", compute)
	if err != nil {
		var zero T
		return zero, err
	}
	s.enqueue(key, v, ttl)
	return v, nil
}

// release drops the lock if this caller still owns it; runs detached from the
// caller context so a cancelled request still frees the lock
func (s *Service) release(lockKey string, token []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()

	released, err := s.store.CompareAndDelete(ctx, lockKey, token)
	if err != nil {
		s.logError("unlock", lockKey, err)
		return
	}
	if !released {
		s.log.Warnw("Compute lock expired before release", "lock", lockKey)
	}
}

func timedCompute[T any](ctx context.Context, mode string, compute func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := compute(ctx)
	metrics.CacheComputeDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	return v, err
}
