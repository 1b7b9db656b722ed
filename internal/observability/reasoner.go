package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ReasonerMetrics records Reasoner calls and retries.
type ReasonerMetrics interface {
	RecordCall(ctx context.Context, op, outcome string, duration time.Duration)
	RecordRetry(ctx context.Context, op string)
}

type reasonerMetrics struct {
	calls    metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewReasonerMetrics creates ReasonerMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewReasonerMetrics(meter metric.Meter) (ReasonerMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	calls, err := meter.Int64Counter(
		MetricNameReasonerCalls,
		metric.WithDescription("Reasoner calls by op and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reasoner calls counter: %w", err)
	}

	retries, err := meter.Int64Counter(
		MetricNameReasonerRetries,
		metric.WithDescription("Reasoner calls retried after a transient failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reasoner retries counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameReasonerCallDuration,
		metric.WithDescription("Duration of a single Reasoner call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reasoner duration histogram: %w", err)
	}

	return &reasonerMetrics{calls: calls, retries: retries, duration: duration}, nil
}

func attrOp(op string) attribute.KeyValue {
	return attribute.String(AttrOp, NormalizeReason(op, AllowedReasonerOps))
}

func (m *reasonerMetrics) RecordCall(ctx context.Context, op, outcome string, duration time.Duration) {
	m.calls.Add(ctx, 1, metric.WithAttributes(
		attrOp(op),
		attribute.String(AttrOutcome, NormalizeReason(outcome, AllowedReasonerOutcomes)),
	))
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrOp(op)))
}

func (m *reasonerMetrics) RecordRetry(ctx context.Context, op string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attrOp(op)))
}
