package embeddings

import (
	"context"
	"time"

	"coursecast/internal/domain/cachekey"
	"coursecast/internal/services/cache"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// CachedProvider serves embeddings from the cache and computes misses on the
// wrapped provider. Vectors are keyed by model and a hash of the text; a text
// embedded once is never sent to the provider again while the key lives.
type CachedProvider struct {
	next  Provider
	cache *cache.Service
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedProvider wraps next with the cache. A non-positive ttl stores vectors without expiry.
func NewCachedProvider(next Provider, svc *cache.Service, ttl time.Duration, log *logger.Logger) *CachedProvider {
	return &CachedProvider{
		next:  next,
		cache: svc,
		ttl:   ttl,
		log:   log.Component("cached_embeddings"),
	}
}

// GenerateEmbedding returns the cached vector or computes it under the
// single-flight lock, so concurrent callers embed a text once
func (p *CachedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "text cannot be empty")
	}

	key := cachekey.Embedding(p.next.Name(), text)
	return cache.GetOrComputeWithLock(ctx, p.cache, key, p.ttl, func(ctx context.Context) ([]float32, error) {
		return p.next.GenerateEmbedding(ctx, text)
	})
}

// GenerateBatchEmbeddings looks every text up and sends only the misses, in
// one batch, to the wrapped provider. Duplicate texts are embedded once.
func (p *CachedProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "texts cannot be empty")
	}

	vectors := make(map[string][]float32, len(texts))
	var misses []string
	for _, text := range texts {
		if _, seen := vectors[text]; seen {
			continue
		}
		var v []float32
		if p.cache.Get(ctx, cachekey.Embedding(p.next.Name(), text), &v) {
			vectors[text] = v
			continue
		}
		vectors[text] = nil
		misses = append(misses, text)
	}

	if len(misses) > 0 {
		computed, err := p.next.GenerateBatchEmbeddings(ctx, misses)
		if err != nil {
			return nil, err
		}
		if len(computed) != len(misses) {
			return nil, errors.Wrapf(errors.ErrInternal, "expected %d embeddings, got %d", len(misses), len(computed))
		}
		for i, text := range misses {
			vectors[text] = computed[i]
			p.cache.Set(ctx, cachekey.Embedding(p.next.Name(), text), computed[i], p.ttl)
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = vectors[text]
	}

	p.log.Debugw("Batch embeddings served", "total", len(texts), "computed", len(misses))
	return out, nil
}

// Dimensions returns the dimensionality of the wrapped provider
func (p *CachedProvider) Dimensions() int {
	return p.next.Dimensions()
}

// Name returns the model name of the wrapped provider
func (p *CachedProvider) Name() string {
	return p.next.Name()
}
