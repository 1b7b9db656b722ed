// Package cache provides a generic loader cache combining LRU storage with
// singleflight to coalesce concurrent loads for the same key.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// store is the subset of the LRU API shared by lru.Cache and expirable.LRU.
type store[V any] interface {
	Add(key string, value V) bool
	Get(key string) (V, bool)
	Remove(key string) bool
	Purge()
	Len() int
}

// Stats are cumulative lookup counters.
type Stats struct {
	Hits   int64
	Misses int64
	Loads  int64
}

// HitRate returns hits/(hits+misses), 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// LoaderCache loads values on miss via a callback. Concurrent misses for the same key
// share one load. Keys are converted to strings via keyToString for LRU and singleflight.
type LoaderCache[K comparable, V any] struct {
	lru         store[V]
	group       singleflight.Group
	keyToString func(K) string

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64
}

// Option configures a LoaderCache.
type Option func(*options)

type options struct {
	ttl time.Duration
}

// WithTTL expires entries ttl after they were loaded.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// NewLoaderCache creates a loader cache with the given max entries and key serializer.
func NewLoaderCache[K comparable, V any](
	maxEntries int, keyToString func(K) string, opts ...Option,
) (*LoaderCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("loader cache: max entries must be positive, got %d", maxEntries)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var s store[V]

	if o.ttl > 0 {
		s = expirable.NewLRU[string, V](maxEntries, nil, o.ttl)
	} else {
		c, err := lru.New[string, V](maxEntries)
		if err != nil {
			return nil, fmt.Errorf("loader cache: %w", err)
		}

		s = c
	}

	return &LoaderCache[K, V]{
		lru:         s,
		keyToString: keyToString,
	}, nil
}

// Get returns the value for key, loading it via load on cache miss.
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, error) {
	v, _, err := c.GetWithStats(ctx, key, load)

	return v, err
}

// GetWithStats is like Get but also reports whether the value came from cache.
// Failed loads are not cached.
func (c *LoaderCache[K, V]) GetWithStats(
	ctx context.Context, key K, load func(context.Context, K) (V, error),
) (V, bool, error) {
	keyStr := c.keyToString(key)
	if v, ok := c.lru.Get(keyStr); ok {
		c.hits.Add(1)

		return v, true, nil
	}

	c.misses.Add(1)

	val, err, _ := c.group.Do(keyStr, func() (any, error) {
		c.loads.Add(1)

		loaded, loadErr := load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}

		c.lru.Add(keyStr, loaded)

		return loaded, nil
	})
	if err != nil {
		var zero V

		return zero, false, err
	}

	return val.(V), false, nil
}

// Peek returns the cached value without loading.
func (c *LoaderCache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Get(c.keyToString(key))
}

// Invalidate removes the entry for key.
func (c *LoaderCache[K, V]) Invalidate(key K) {
	c.lru.Remove(c.keyToString(key))
}

// InvalidateAll removes all entries.
func (c *LoaderCache[K, V]) InvalidateAll() {
	c.lru.Purge()
}

// Len returns the number of entries in the cache.
func (c *LoaderCache[K, V]) Len() int {
	return c.lru.Len()
}

// Stats returns a snapshot of the lookup counters.
func (c *LoaderCache[K, V]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Loads:  c.loads.Load(),
	}
}
