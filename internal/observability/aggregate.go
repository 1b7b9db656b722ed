package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all healer metric collectors. When metrics are disabled, NewMetrics returns nil.
// Components accept the individual interfaces and handle nil.
type Metrics struct {
	Healing  HealingMetrics
	Memory   MemoryMetrics
	Reasoner ReasonerMetrics
	Cache    CacheMetrics
}

// NewMetrics creates every collector from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	healing, err := NewHealingMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("healing metrics: %w", err)
	}

	memory, err := NewMemoryMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("memory metrics: %w", err)
	}

	reasoner, err := NewReasonerMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("reasoner metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	return &Metrics{
		Healing:  healing,
		Memory:   memory,
		Reasoner: reasoner,
		Cache:    cache,
	}, nil
}
