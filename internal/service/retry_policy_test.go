package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/healforge/healer/internal/healerrors"
)

type flakyOp struct {
	callCount int
	failUntil int // fails until callCount reaches this; then succeeds.
	err       error
}

func (f *flakyOp) call(_ context.Context) (string, error) {
	f.callCount++
	if f.callCount < f.failUntil {
		return "", f.err
	}

	return "ok", nil
}

func transient() error {
	return healerrors.NewReasonerError("classify", true, errors.New("rate limited"))
}

func TestRetryPolicy_success_after_retries(t *testing.T) {
	op := &flakyOp{failUntil: 3, err: transient()}
	p := NewRetryPolicy(RetryPolicyConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond})

	got, err := Retry(context.Background(), p, "classify", op.call)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}

	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}

	if op.callCount != 3 {
		t.Errorf("called %d times, want 3 (2 failures + 1 success)", op.callCount)
	}
}

func TestRetryPolicy_exhausted(t *testing.T) {
	op := &flakyOp{failUntil: 99, err: transient()}

	var retries int

	p := NewRetryPolicy(RetryPolicyConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		OnRetry:        func(context.Context, string, int, error) { retries++ },
	})

	_, err := Retry(context.Background(), p, "heal", op.call)
	if !errors.Is(err, healerrors.ErrReasoner) {
		t.Fatalf("err = %v, want ReasonerError", err)
	}

	if op.callCount != 3 {
		t.Errorf("called %d times, want 3", op.callCount)
	}

	if retries != 2 {
		t.Errorf("OnRetry called %d times, want 2", retries)
	}
}

func TestRetryPolicy_non_retryable_stops(t *testing.T) {
	op := &flakyOp{failUntil: 99, err: healerrors.NewReasonerError("classify", false, errors.New("bad request"))}
	p := NewRetryPolicy(RetryPolicyConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour})

	if _, err := Retry(context.Background(), p, "classify", op.call); err == nil {
		t.Fatal("expected error")
	}

	if op.callCount != 1 {
		t.Errorf("called %d times, want 1", op.callCount)
	}
}

func TestRetryPolicy_single_attempt(t *testing.T) {
	op := &flakyOp{failUntil: 2, err: transient()}
	p := NewRetryPolicy(RetryPolicyConfig{MaxAttempts: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Second})

	if _, err := Retry(context.Background(), p, "classify", op.call); err == nil {
		t.Fatal("expected error (no retries)")
	}

	if op.callCount != 1 {
		t.Errorf("called %d times, want 1", op.callCount)
	}
}

func TestRetryPolicy_context_cancel_during_backoff(t *testing.T) {
	op := &flakyOp{failUntil: 99, err: transient()}
	p := NewRetryPolicy(RetryPolicyConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, p, "heal", op.call)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	if op.callCount != 1 {
		t.Errorf("called %d times, want 1 (then cancel during backoff)", op.callCount)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable reasoner", transient(), true},
		{"final reasoner", healerrors.NewReasonerError("heal", false, errors.New("x")), false},
		{"index io", healerrors.NewIndexIOError("query", "c", errors.New("disk")), true},
		{"embedding unavailable", healerrors.NewEmbeddingUnavailableError("local", errors.New("x")), false},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestJitter_bounds(t *testing.T) {
	for range 100 {
		d := jitter(100 * time.Millisecond)
		if d < 50*time.Millisecond || d >= 100*time.Millisecond {
			t.Fatalf("jitter = %v, want [50ms, 100ms)", d)
		}
	}
}
