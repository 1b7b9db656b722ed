package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HealingMetrics records convergence loop outcomes and the commit gate decision.
type HealingMetrics interface {
	RecordOutcome(ctx context.Context, status string, attempts int, fromKB bool)
	RecordTestRun(ctx context.Context, passed bool, duration time.Duration)
	RecordGateDecision(ctx context.Context, allowed bool)
}

type healingMetrics struct {
	outcomes  metric.Int64Counter
	attempts  metric.Int64Histogram
	testRuns  metric.Float64Histogram
	decisions metric.Int64Counter
}

// NewHealingMetrics creates HealingMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewHealingMetrics(meter metric.Meter) (HealingMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	outcomes, err := meter.Int64Counter(
		MetricNameHealingOutcomes,
		metric.WithDescription("Failing tests that finished the healing loop, by final status and source of the fix"),
	)
	if err != nil {
		return nil, fmt.Errorf("create healing outcomes counter: %w", err)
	}

	attempts, err := meter.Int64Histogram(
		MetricNameHealingAttempts,
		metric.WithDescription("Attempts consumed per test before it reached a final status"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 8),
	)
	if err != nil {
		return nil, fmt.Errorf("create healing attempts histogram: %w", err)
	}

	testRuns, err := meter.Float64Histogram(
		MetricNameTestRunDuration,
		metric.WithDescription("Duration of a single test execution"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create test run duration histogram: %w", err)
	}

	decisions, err := meter.Int64Counter(
		MetricNameCommitGateDecisions,
		metric.WithDescription("Commit gate decisions, by whether the commit was allowed"),
	)
	if err != nil {
		return nil, fmt.Errorf("create commit gate counter: %w", err)
	}

	return &healingMetrics{outcomes: outcomes, attempts: attempts, testRuns: testRuns, decisions: decisions}, nil
}

func (m *healingMetrics) RecordOutcome(ctx context.Context, status string, attempts int, fromKB bool) {
	attrs := metric.WithAttributes(
		attribute.String(AttrStatus, NormalizeStatus(status)),
		attribute.Bool("from_kb", fromKB),
	)
	m.outcomes.Add(ctx, 1, attrs)
	m.attempts.Record(ctx, int64(attempts), metric.WithAttributes(attribute.String(AttrStatus, NormalizeStatus(status))))
}

func (m *healingMetrics) RecordTestRun(ctx context.Context, passed bool, duration time.Duration) {
	m.testRuns.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("passed", strconv.FormatBool(passed))))
}

func (m *healingMetrics) RecordGateDecision(ctx context.Context, allowed bool) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrAllowed, allowed)))
}
