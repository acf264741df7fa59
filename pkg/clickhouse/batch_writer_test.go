package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/pkg/logger"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	fail    error
}

func (r *recorder) flush(_ context.Context, batch []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.batches = append(r.batches, append([]string(nil), batch...))
	return nil
}

func (r *recorder) setFail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func newWriter(r *recorder, size int, age time.Duration) *BatchWriter[string] {
	return NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    r.flush,
		Table:        "test_table",
		MaxBatchSize: size,
		MaxAge:       age,
		Log:          logger.NewNop(),
	})
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	r := &recorder{}
	bw := newWriter(r, 3, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, "a"))
	require.NoError(t, bw.Add(ctx, "b"))
	assert.Zero(t, r.total())

	require.NoError(t, bw.Add(ctx, "c"))
	require.Len(t, r.batches, 1)
	assert.Equal(t, []string{"a", "b", "c"}, r.batches[0])
	assert.Zero(t, bw.BufferSize())
}

func TestBatchWriter_FlushOnTimer(t *testing.T) {
	r := &recorder{}
	bw := newWriter(r, 100, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, "a"))
	require.NoError(t, bw.Add(ctx, "b"))

	assert.Eventually(t, func() bool { return r.total() == 2 }, time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, bw.Stop(stopCtx))
}

func TestBatchWriter_StopFlushesRemaining(t *testing.T) {
	r := &recorder{}
	bw := newWriter(r, 100, 10*time.Second)
	bw.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, bw.Add(context.Background(), fmt.Sprint(i)))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bw.Stop(stopCtx))
	require.NoError(t, bw.Stop(stopCtx))

	assert.Equal(t, 3, r.total())
}

func TestBatchWriter_FailedBatchIsRetried(t *testing.T) {
	r := &recorder{}
	r.setFail(errors.New("clickhouse unavailable"))

	var flushErrs int
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc: r.flush,
		OnFlush: func(_ int, _ time.Duration, err error) {
			if err != nil {
				flushErrs++
			}
		},
		MaxBatchSize: 2,
		Log:          logger.NewNop(),
	})
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, "a"))
	assert.Error(t, bw.Add(ctx, "b"))
	assert.Equal(t, 2, bw.BufferSize())
	assert.Equal(t, 1, flushErrs)

	r.setFail(nil)
	require.NoError(t, bw.Add(ctx, "c"))
	assert.Equal(t, 3, r.total())
	assert.Equal(t, []string{"a", "b", "c"}, r.batches[0])
}

func TestBatchWriter_AfterFlushSeesOnlyWrittenBatches(t *testing.T) {
	r := &recorder{}
	r.setFail(errors.New("clickhouse unavailable"))

	var written [][]string
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc: r.flush,
		AfterFlush: func(_ context.Context, batch []string) {
			written = append(written, append([]string(nil), batch...))
		},
		MaxBatchSize: 10,
		Log:          logger.NewNop(),
	})
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, "a"))
	assert.Error(t, bw.Flush(ctx))
	assert.Empty(t, written)

	r.setFail(nil)
	require.NoError(t, bw.Add(ctx, "b"))
	require.NoError(t, bw.Flush(ctx))
	assert.Equal(t, [][]string{{"a", "b"}}, written)

	require.NoError(t, bw.Flush(ctx))
	assert.Len(t, written, 1, "empty flush does not notify")
}

func TestBatchWriter_OverflowDropsOldest(t *testing.T) {
	r := &recorder{}
	r.setFail(errors.New("down"))

	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    r.flush,
		MaxBatchSize: 2,
		MaxBuffered:  3,
		Log:          logger.NewNop(),
	})
	ctx := context.Background()

	for _, item := range []string{"a", "b", "c", "d"} {
		_ = bw.Add(ctx, item)
	}

	stats := bw.Stats()
	assert.LessOrEqual(t, stats.BufferSize, 3)
	assert.Positive(t, stats.Dropped)

	r.setFail(nil)
	require.NoError(t, bw.Flush(ctx))
	assert.Equal(t, "d", r.batches[0][len(r.batches[0])-1])
}

func TestBatchWriter_ConcurrentAdds(t *testing.T) {
	r := &recorder{}
	bw := newWriter(r, 10, 10*time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = bw.Add(ctx, fmt.Sprintf("%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, bw.Flush(ctx))

	assert.Equal(t, 250, r.total())
}
