package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/internal/observability"
)

// Reasoner operations.
const (
	opClassify = "classify"
	opHeal     = "heal"
)

// Reasoner classifies failing tests and proposes fixed test code.
// Implemented by openai.Reasoner.
type Reasoner interface {
	Classify(ctx context.Context, testCode, errorText string) (models.ClassificationResult, error)
	Heal(ctx context.Context, testCode, errorText, appType string) (string, error)
}

// RetryingReasoner applies a RetryPolicy to every Reasoner call and records call metrics.
// Errors that survive the policy are returned as ReasonerError.
type RetryingReasoner struct {
	inner   Reasoner
	policy  *RetryPolicy
	metrics observability.ReasonerMetrics
}

// NewRetryingReasoner wraps inner. metrics may be nil.
func NewRetryingReasoner(inner Reasoner, policy *RetryPolicy, metrics observability.ReasonerMetrics) *RetryingReasoner {
	return &RetryingReasoner{inner: inner, policy: policy, metrics: metrics}
}

// Classify implements Reasoner.
func (r *RetryingReasoner) Classify(ctx context.Context, testCode, errorText string) (models.ClassificationResult, error) {
	return callReasoner(ctx, r, opClassify, func(ctx context.Context) (models.ClassificationResult, error) {
		return r.inner.Classify(ctx, testCode, errorText)
	})
}

// Heal implements Reasoner.
func (r *RetryingReasoner) Heal(ctx context.Context, testCode, errorText, appType string) (string, error) {
	return callReasoner(ctx, r, opHeal, func(ctx context.Context) (string, error) {
		return r.inner.Heal(ctx, testCode, errorText, appType)
	})
}

func callReasoner[T any](
	ctx context.Context, r *RetryingReasoner, op string, fn func(context.Context) (T, error),
) (T, error) {
	ctx, span := observability.Tracer().Start(ctx, "reasoner."+op)
	defer span.End()

	attempts := 0

	out, err := Retry(ctx, r.policy, "reasoner "+op, func(ctx context.Context) (T, error) {
		attempts++
		if attempts > 1 && r.metrics != nil {
			r.metrics.RecordRetry(ctx, op)
		}

		start := time.Now()
		v, err := fn(ctx)
		r.recordCall(ctx, op, err, time.Since(start))

		return v, err
	})

	span.SetAttributes(attribute.Int("reasoner.attempts", attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var zero T

		if !errors.Is(err, healerrors.ErrReasoner) {
			err = healerrors.NewReasonerError(op, false, err)
		}

		return zero, err
	}

	return out, nil
}

func (r *RetryingReasoner) recordCall(ctx context.Context, op string, err error, d time.Duration) {
	if r.metrics == nil {
		return
	}

	outcome := "success"

	var rerr *healerrors.ReasonerError

	switch {
	case err == nil:
	case errors.As(err, &rerr) && rerr.Retryable:
		outcome = "retryable"
	default:
		outcome = "failed"
	}

	r.metrics.RecordCall(ctx, op, outcome, d)
}

var _ Reasoner = (*RetryingReasoner)(nil)
