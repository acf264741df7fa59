package cache

import (
	"context"
	"time"
)

// TTL sentinels returned by Store.TTL, mirroring Redis semantics
const (
	TTLNoExpiry time.Duration = -1
	TTLMissing  time.Duration = -2
)

// Store is the shared key-value backend behind the cache layer.
// Implementations must be safe for concurrent use and must provide
// atomicity across process boundaries for SetNX and IncrExpire.
type Store interface {
	// Get returns errors.ErrCacheMiss when the key does not exist
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value; ttl <= 0 stores without expiry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes keys and returns how many existed
	Del(ctx context.Context, keys ...string) (int64, error)

	Exists(ctx context.Context, key string) (bool, error)

	// Scan returns one page of keys matching a glob pattern and the next cursor (0 when done)
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)

	// IncrExpire increments key and (re)applies ttl in a single pipelined round trip
	IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetNX sets key only if absent
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only when its current value equals expected
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// TTL returns the remaining time to live, TTLNoExpiry or TTLMissing
	TTL(ctx context.Context, key string) (time.Duration, error)

	RPush(ctx context.Context, key string, values ...[]byte) error
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key string, member string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
