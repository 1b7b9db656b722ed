package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MemoryMetrics records similarity memory lookups and writes.
type MemoryMetrics interface {
	RecordLookup(ctx context.Context, memory, outcome string)
	RecordWrite(ctx context.Context, memory, outcome string)
	RecordDegraded(ctx context.Context, memory string)
}

type memoryMetrics struct {
	lookups  metric.Int64Counter
	writes   metric.Int64Counter
	degraded metric.Int64Counter
}

// NewMemoryMetrics creates MemoryMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewMemoryMetrics(meter metric.Meter) (MemoryMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	lookups, err := meter.Int64Counter(
		MetricNameMemoryLookups,
		metric.WithDescription("Similarity memory lookups. Label outcome: hit, miss, rejected, degraded, error."),
	)
	if err != nil {
		return nil, fmt.Errorf("create memory lookups counter: %w", err)
	}

	writes, err := meter.Int64Counter(
		MetricNameMemoryWrites,
		metric.WithDescription("Similarity memory writes. Label outcome: inserted, consolidated, skipped, error."),
	)
	if err != nil {
		return nil, fmt.Errorf("create memory writes counter: %w", err)
	}

	degraded, err := meter.Int64Counter(
		MetricNameMemoryDegraded,
		metric.WithDescription("Times a memory switched to degraded mode because embeddings were unavailable"),
	)
	if err != nil {
		return nil, fmt.Errorf("create memory degraded counter: %w", err)
	}

	return &memoryMetrics{lookups: lookups, writes: writes, degraded: degraded}, nil
}

func attrMemory(name string) attribute.KeyValue {
	return attribute.String(AttrMemory, NormalizeReason(name, AllowedMemories))
}

func (m *memoryMetrics) RecordLookup(ctx context.Context, memory, outcome string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attrMemory(memory),
		attribute.String(AttrOutcome, NormalizeReason(outcome, AllowedLookupOutcomes)),
	))
}

func (m *memoryMetrics) RecordWrite(ctx context.Context, memory, outcome string) {
	m.writes.Add(ctx, 1, metric.WithAttributes(
		attrMemory(memory),
		attribute.String(AttrOutcome, NormalizeReason(outcome, AllowedWriteOutcomes)),
	))
}

func (m *memoryMetrics) RecordDegraded(ctx context.Context, memory string) {
	m.degraded.Add(ctx, 1, metric.WithAttributes(attrMemory(memory)))
}
