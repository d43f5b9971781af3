package embeddings

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CachedProvider memoises EmbedQuery results. Concurrent misses for the same
// text share one backend call.
type CachedProvider struct {
	Provider
	cache   *lru.Cache[string, []float32]
	group   singleflight.Group
	metrics *Metrics
}

// NewCachedProvider caches up to size query embeddings from p.
func NewCachedProvider(p Provider, size int, m *Metrics) (*CachedProvider, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d: %v", ErrInvalidConfig, size, err)
	}
	return &CachedProvider{Provider: p, cache: cache, metrics: m}, nil
}

// EmbedQuery returns a copy of the cached vector, embedding text on a miss.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		c.metrics.RecordCacheLookup(ctx, true)
		return clone(vec), nil
	}
	c.metrics.RecordCacheLookup(ctx, false)

	// The shared call outlives any one caller; each caller still stops
	// waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(text, func() (any, error) {
		if vec, ok := c.cache.Get(text); ok {
			return vec, nil
		}
		vec, err := c.Provider.EmbedQuery(shared, text)
		if err != nil {
			return nil, err
		}
		c.cache.Add(text, vec)
		return vec, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	vec, ok := res.Val.([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected cached type %T", ErrEmbeddingFailed, res.Val)
	}
	return clone(vec), nil
}

// Len reports the number of cached embeddings.
func (c *CachedProvider) Len() int { return c.cache.Len() }

// Close purges the cache and closes the backend.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return c.Provider.Close()
}

// clone keeps callers that normalise vectors in place from corrupting the cache.
func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
