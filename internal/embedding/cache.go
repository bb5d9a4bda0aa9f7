package embedding

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 512
	DefaultCacheTTL  = 15 * time.Minute
)

// CachedEmbedder memoizes query embeddings in a bounded LRU whose entries
// expire after a TTL. It is safe for concurrent use.
type CachedEmbedder struct {
	inner Embedder
	cache *expirable.LRU[string, []float32]
}

func NewCachedEmbedder(inner Embedder, size int, ttl time.Duration) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedEmbedder{
		inner: inner,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *CachedEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// Len reports the number of live cache entries.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
