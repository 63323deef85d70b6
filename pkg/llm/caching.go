package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
)

// CachingGateway intercepts every call by its exact request key. A hit in the
// transaction cache or the disk cache returns without calling inner; a miss
// calls inner and records the result before returning it.
type CachingGateway struct {
	inner   Gateway
	cache   *Cache
	disk    *DiskCache
	metrics *metrics.Recorder
	models  Models
}

type CachingOption func(*CachingGateway)

func WithDiskCache(d *DiskCache) CachingOption {
	return func(g *CachingGateway) {
		g.disk = d
	}
}

// WithModels sets the models inner talks to. A completion without
// Params.Model is sent and keyed with models.Completion, and embeddings are
// keyed with models.Embedding.
func WithModels(models Models) CachingOption {
	return func(g *CachingGateway) {
		g.models = models
	}
}

func WithCacheMetrics(m *metrics.Recorder) CachingOption {
	return func(g *CachingGateway) {
		g.metrics = m
	}
}

func NewCachingGateway(inner Gateway, cache *Cache, opts ...CachingOption) *CachingGateway {
	if cache == nil {
		cache = NewCache()
	}
	g := &CachingGateway{inner: inner, cache: cache}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Cache returns the transaction cache.
func (g *CachingGateway) Cache() *Cache {
	return g.cache
}

func (g *CachingGateway) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	if params.Model == "" {
		params.Model = g.models.Completion
	}
	key, err := CompletionKey(messages, params)
	if err != nil {
		return "", err
	}

	entry, err := g.lookup(ctx, key, func(ctx context.Context) (CacheEntry, error) {
		text, err := g.inner.Complete(ctx, messages, params)
		if err != nil {
			return CacheEntry{}, err
		}
		return CacheEntry{Kind: string(kindComplete), Text: text}, nil
	})
	if err != nil {
		return "", err
	}
	return entry.Text, nil
}

func (g *CachingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	key, err := EmbeddingKey(g.models.Embedding, text)
	if err != nil {
		return nil, err
	}

	entry, err := g.lookup(ctx, key, func(ctx context.Context) (CacheEntry, error) {
		vec, err := g.inner.Embed(ctx, text)
		if err != nil {
			return CacheEntry{}, err
		}
		return CacheEntry{Kind: string(kindEmbed), Vector: vec}, nil
	})
	if err != nil {
		return nil, err
	}
	return entry.Vector, nil
}

func (g *CachingGateway) lookup(ctx context.Context, key string, live func(context.Context) (CacheEntry, error)) (CacheEntry, error) {
	logger := logging.From(ctx)

	if e, ok := g.cache.Get(key); ok {
		g.metrics.CacheLookup("transaction", "hit")
		logger.Debug("llm cache hit", "key", key, "kind", e.Kind)
		return e, nil
	}
	g.metrics.CacheLookup("transaction", "miss")

	if g.disk != nil {
		e, ok, err := g.disk.Get(ctx, key)
		if err != nil {
			logger.Warn("disk cache lookup failed", "key", key, "error", err)
		} else if ok {
			g.metrics.CacheLookup("disk", "hit")
			g.cache.Put(key, e)
			return e, nil
		} else {
			g.metrics.CacheLookup("disk", "miss")
		}
	}

	e, err := live(ctx)
	if err != nil {
		return CacheEntry{}, goerr.Wrap(err, "live llm call failed", goerr.V("key", key))
	}
	g.cache.Put(key, e)

	if g.disk != nil {
		if err := g.disk.Put(ctx, key, e); err != nil {
			logger.Warn("failed to write disk cache", "key", key, "error", err)
		}
	}
	return e, nil
}
