package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/healforge/healer/internal/healerrors"
)

const (
	defaultInitialBackoffWhenZero = 500 * time.Millisecond
	backoffMultiplier             = 2
)

// RetryPolicyConfig holds configuration for a RetryPolicy.
type RetryPolicyConfig struct {
	MaxAttempts    int           // Total attempts including the first; values below 1 mean 1.
	InitialBackoff time.Duration // Backoff after first failure; doubles each attempt, capped by MaxBackoff.
	MaxBackoff     time.Duration // Upper bound on backoff between attempts.
	// Retryable decides whether an error is worth another attempt. Nil uses IsRetryable.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep (metrics hook). Optional.
	OnRetry func(ctx context.Context, op string, attempt int, err error)
}

// RetryPolicy retries an operation with exponential backoff and jitter while its error is retryable.
// It is applied uniformly at the Reasoner and memory-read boundaries.
type RetryPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	retryable      func(error) bool
	onRetry        func(ctx context.Context, op string, attempt int, err error)
}

// NewRetryPolicy returns a policy; out-of-range settings are clamped.
func NewRetryPolicy(cfg RetryPolicyConfig) *RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoffWhenZero
	}

	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	if cfg.Retryable == nil {
		cfg.Retryable = IsRetryable
	}

	return &RetryPolicy{
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		retryable:      cfg.Retryable,
		onRetry:        cfg.OnRetry,
	}
}

// MaxAttempts returns the total attempt cap.
func (p *RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt cap is reached.
// The last error is returned. Context cancellation during backoff aborts immediately.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error

	backoff := p.initialBackoff

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == p.maxAttempts || !p.retryable(err) {
			break
		}

		if p.onRetry != nil {
			p.onRetry(ctx, op, attempt, err)
		}

		sleep := jitter(backoff)
		slog.WarnContext(ctx, "operation failed, retrying after backoff",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.maxAttempts,
			"backoff", sleep,
			"error", err,
		)

		if err := sleepCtx(ctx, sleep); err != nil {
			return err
		}

		backoff = min(backoff*backoffMultiplier, p.maxBackoff)
	}

	return lastErr
}

// Retry is Do for operations that return a value.
func Retry[T any](ctx context.Context, p *RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T

	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}

		out = v

		return nil
	})

	return out, err
}

// IsRetryable is the default predicate: Reasoner errors flagged retryable and index I/O errors.
// Caller cancellation, unavailable embeddings and everything else are final.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rerr *healerrors.ReasonerError
	if errors.As(err, &rerr) {
		return rerr.Retryable
	}

	return errors.Is(err, healerrors.ErrIndexIO)
}

// jitter returns a duration between 50% and 100% of duration to avoid thundering herd.
func jitter(duration time.Duration) time.Duration {
	const jitterHalf = 2

	half := duration / jitterHalf

	if half <= 0 {
		return duration
	}

	var buf [8]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return half
	}

	randVal := binary.BigEndian.Uint64(buf[:])

	// randVal % halfNanos is in [0, halfNanos); duration nanos fit in int64
	//nolint:gosec // G115: modulo result is in [0, halfNanos), safe to convert to int64
	jitterNanos := int64(randVal % uint64(half.Nanoseconds()))

	return half + time.Duration(jitterNanos)
}

// sleepCtx blocks for d or until ctx is cancelled; returns the wrapped ctx error if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
