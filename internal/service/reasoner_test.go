package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

type recordingReasonerMetrics struct {
	mu       sync.Mutex
	outcomes []string
	retries  int
}

func (m *recordingReasonerMetrics) RecordCall(_ context.Context, op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomes = append(m.outcomes, op+":"+outcome)
}

func (m *recordingReasonerMetrics) RecordRetry(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retries++
}

func fastPolicy(attempts int) *RetryPolicy {
	return NewRetryPolicy(RetryPolicyConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func TestRetryingReasoner_retries_transient_failures(t *testing.T) {
	failures := 2
	inner := &mockReasoner{
		classifyFunc: func(string, string) (models.ClassificationResult, error) {
			if failures > 0 {
				failures--

				return models.ClassificationResult{}, transient()
			}

			return models.ClassificationResult{Classification: datatypes.ActualDefect}, nil
		},
	}
	metrics := &recordingReasonerMetrics{}

	r := NewRetryingReasoner(inner, fastPolicy(3), metrics)

	got, err := r.Classify(context.Background(), "def test_x(): pass", "AssertionError")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ActualDefect, got.Classification)

	classify, _ := inner.calls()
	assert.Equal(t, 3, classify)
	assert.Equal(t, 2, metrics.retries)
	assert.Equal(t, []string{"classify:retryable", "classify:retryable", "classify:success"}, metrics.outcomes)
}

func TestRetryingReasoner_gives_up(t *testing.T) {
	inner := &mockReasoner{
		healFunc: func(string, string) (string, error) { return "", transient() },
	}

	r := NewRetryingReasoner(inner, fastPolicy(2), nil)

	_, err := r.Heal(context.Background(), "code", "err", "rest_api")
	require.ErrorIs(t, err, healerrors.ErrReasoner)

	_, heal := inner.calls()
	assert.Equal(t, 2, heal)
}

func TestRetryingReasoner_wraps_foreign_errors(t *testing.T) {
	inner := &mockReasoner{
		healFunc: func(string, string) (string, error) { return "", errors.New("malformed response") },
	}
	metrics := &recordingReasonerMetrics{}

	r := NewRetryingReasoner(inner, fastPolicy(3), metrics)

	_, err := r.Heal(context.Background(), "code", "err", "")
	require.ErrorIs(t, err, healerrors.ErrReasoner)

	var rerr *healerrors.ReasonerError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "heal", rerr.Op)
	assert.False(t, rerr.Retryable)

	_, heal := inner.calls()
	assert.Equal(t, 1, heal, "unknown errors are not retried")
	assert.Equal(t, []string{"heal:failed"}, metrics.outcomes)
}
