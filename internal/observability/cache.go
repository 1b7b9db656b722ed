package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics counts lookups of the in-process embedding cache, labelled by cache name.
type CacheMetrics interface {
	RecordHit(ctx context.Context, cacheName string)
	RecordMiss(ctx context.Context, cacheName string)
	// RecordLoadError counts misses whose backend call failed; nothing is cached for them.
	RecordLoadError(ctx context.Context, cacheName string)
}

type cacheMetrics struct {
	hits       metric.Int64Counter
	misses     metric.Int64Counter
	loadErrors metric.Int64Counter
}

// NewCacheMetrics creates CacheMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	m := &cacheMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.hits, MetricNameCacheHits, "Embedding lookups answered from the cache. Label cache: embedding."},
		{&m.misses, MetricNameCacheMisses, "Embedding lookups that called the embedding backend. Label cache: embedding."},
		{&m.loadErrors, MetricNameCacheLoadErrors, "Cache misses whose embedding backend call failed. Label cache: embedding."},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}

		*c.dst = counter
	}

	return m, nil
}

func attrCache(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(AttrCache, NormalizeCacheName(name)))
}

func (c *cacheMetrics) RecordHit(ctx context.Context, cacheName string) {
	c.hits.Add(ctx, 1, attrCache(cacheName))
}

func (c *cacheMetrics) RecordMiss(ctx context.Context, cacheName string) {
	c.misses.Add(ctx, 1, attrCache(cacheName))
}

func (c *cacheMetrics) RecordLoadError(ctx context.Context, cacheName string) {
	c.loadErrors.Add(ctx, 1, attrCache(cacheName))
}
