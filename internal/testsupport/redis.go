package testsupport

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"coursecast/internal/adapters/redis"
)

// NewRedisStore starts an in-process Redis and returns a store bound to it.
// The server is stopped when the test finishes.
func NewRedisStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return redis.Wrap(rdb), mr
}
