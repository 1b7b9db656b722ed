package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/healforge/healer/internal/observability"
	"github.com/healforge/healer/pkg/cache"
)

const embeddingCacheName = "embedding"

// CachingClient memoizes embeddings of repeated inputs (signatures recur across attempts and tests).
// Concurrent misses for the same input share one backend call.
type CachingClient struct {
	inner   Client
	cache   *cache.LoaderCache[string, []float32]
	metrics observability.CacheMetrics
}

// NewCachingClient wraps inner with an LRU of maxEntries. metrics may be nil.
func NewCachingClient(inner Client, maxEntries int, metrics observability.CacheMetrics) (*CachingClient, error) {
	c, err := cache.NewLoaderCache[string, []float32](maxEntries, hashKey)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}

	return &CachingClient{inner: inner, cache: c, metrics: metrics}, nil
}

// CreateEmbedding returns the cached embedding for input, loading it from the inner client on miss.
// The returned slice is shared; callers must not modify it.
func (c *CachingClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	vec, hit, err := c.cache.GetWithStats(ctx, input, c.inner.CreateEmbedding)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLoadError(ctx, embeddingCacheName)
		}

		return nil, err
	}

	if c.metrics != nil {
		if hit {
			c.metrics.RecordHit(ctx, embeddingCacheName)
		} else {
			c.metrics.RecordMiss(ctx, embeddingCacheName)
		}
	}

	return vec, nil
}

// Stats returns the cache counters.
func (c *CachingClient) Stats() cache.Stats {
	return c.cache.Stats()
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

var _ Client = (*CachingClient)(nil)
