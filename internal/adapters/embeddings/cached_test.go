package embeddings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domaincache "coursecast/internal/domain/cache"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/services/cache"
	"coursecast/internal/testsupport"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// MockProvider is a mock for Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockProvider) Dimensions() int { return 3 }

func (m *MockProvider) Name() string { return "text-embedding-3-small" }

func newCached(t *testing.T, next Provider) (*CachedProvider, *cache.Service) {
	t.Helper()

	store, _ := testsupport.NewRedisStore(t)
	svc := cache.NewService(store, logger.NewNop(), cache.DefaultOptions())
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	return NewCachedProvider(next, svc, cachekey.Permanent, logger.NewNop()), svc
}

func TestCachedProvider_GenerateEmbedding_ComputesOnce(t *testing.T) {
	next := &MockProvider{}
	next.On("GenerateEmbedding", mock.Anything, "what is a monad").Return([]float32{0.1, 0.2, 0.3}, nil).Once()

	p, svc := newCached(t, next)
	ctx := context.Background()

	first, err := p.GenerateEmbedding(ctx, "what is a monad")
	require.NoError(t, err)
	second, err := p.GenerateEmbedding(ctx, "what is a monad")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	next.AssertExpectations(t)

	key := cachekey.Embedding("text-embedding-3-small", "what is a monad")
	assert.True(t, svc.Exists(ctx, key))
	assert.Equal(t, domaincache.TTLNoExpiry, svc.TTL(ctx, key))
}

func TestCachedProvider_GenerateEmbedding_ConcurrentCallersShareCompute(t *testing.T) {
	next := &MockProvider{}
	next.On("GenerateEmbedding", mock.Anything, "shared").
		Run(func(mock.Arguments) { time.Sleep(20 * time.Millisecond) }).
		Return([]float32{1, 2, 3}, nil)

	p, _ := newCached(t, next)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := p.GenerateEmbedding(context.Background(), "shared")
			assert.NoError(t, err)
			assert.Equal(t, []float32{1, 2, 3}, vec)
		}()
	}
	wg.Wait()

	// losers wait out LockWait (100ms) and then read the holder's value
	next.AssertNumberOfCalls(t, "GenerateEmbedding", 1)
}

func TestCachedProvider_GenerateEmbedding_ErrorNotCached(t *testing.T) {
	next := &MockProvider{}
	next.On("GenerateEmbedding", mock.Anything, "x").Return(nil, errors.New("rate limited")).Once()
	next.On("GenerateEmbedding", mock.Anything, "x").Return([]float32{9}, nil).Once()

	p, _ := newCached(t, next)

	_, err := p.GenerateEmbedding(context.Background(), "x")
	require.Error(t, err)

	vec, err := p.GenerateEmbedding(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, vec)
}

func TestCachedProvider_GenerateBatchEmbeddings_OnlyMisses(t *testing.T) {
	next := &MockProvider{}
	next.On("GenerateEmbedding", mock.Anything, "known").Return([]float32{1}, nil).Once()
	next.On("GenerateBatchEmbeddings", mock.Anything, []string{"new-a", "new-b"}).
		Return([][]float32{{2}, {3}}, nil).Once()

	p, _ := newCached(t, next)
	ctx := context.Background()

	_, err := p.GenerateEmbedding(ctx, "known")
	require.NoError(t, err)

	vecs, err := p.GenerateBatchEmbeddings(ctx, []string{"new-a", "known", "new-b", "new-a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {1}, {3}, {2}}, vecs)

	// second pass is served entirely from the cache
	vecs, err = p.GenerateBatchEmbeddings(ctx, []string{"new-b", "known"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3}, {1}}, vecs)

	next.AssertExpectations(t)
}

func TestCachedProvider_GenerateBatchEmbeddings_ShortResponse(t *testing.T) {
	next := &MockProvider{}
	next.On("GenerateBatchEmbeddings", mock.Anything, []string{"a", "b"}).Return([][]float32{{1}}, nil)

	p, _ := newCached(t, next)

	_, err := p.GenerateBatchEmbeddings(context.Background(), []string{"a", "b"})
	assert.True(t, errors.Is(err, errors.ErrInternal))
}

func TestCachedProvider_Delegates(t *testing.T) {
	p, _ := newCached(t, &MockProvider{})
	assert.Equal(t, 3, p.Dimensions())
	assert.Equal(t, "text-embedding-3-small", p.Name())

	_, err := p.GenerateEmbedding(context.Background(), "")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
