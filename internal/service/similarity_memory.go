package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/healforge/healer/internal/config"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/internal/observability"
)

// Lookup and write outcomes reported to MemoryMetrics.
const (
	lookupHit      = "hit"
	lookupMiss     = "miss"
	lookupRejected = "rejected"
	lookupDegraded = "degraded"
	lookupError    = "error"

	writeInserted     = "inserted"
	writeConsolidated = "consolidated"
	writeSkipped      = "skipped"
	writeError        = "error"
)

// MemoryParams configures a similarity memory. Retry, Metrics and Logger may be nil.
type MemoryParams struct {
	Index      *VectorIndex
	Thresholds config.Thresholds
	Retry      *RetryPolicy
	Metrics    observability.MemoryMetrics
	Logger     *slog.Logger
}

// memoryCore is the embed-query-accept machinery shared by the classification cache, the healing
// knowledge base and the test-duplicate index. Once the embedding backend is reported
// unavailable the memory degrades for the rest of the process: lookups miss and writes are skipped.
type memoryCore struct {
	collection string
	index      *VectorIndex
	retry      *RetryPolicy
	metrics    observability.MemoryMetrics
	logger     *slog.Logger
	degraded   atomic.Bool
}

func newMemoryCore(collection string, p MemoryParams) *memoryCore {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retry := p.Retry
	if retry == nil {
		retry = NewRetryPolicy(RetryPolicyConfig{MaxAttempts: 1})
	}

	return &memoryCore{
		collection: collection,
		index:      p.Index,
		retry:      retry,
		metrics:    p.Metrics,
		logger:     logger,
	}
}

// Degraded reports whether the memory gave up on its embedding backend.
func (m *memoryCore) Degraded() bool { return m.degraded.Load() }

func (m *memoryCore) degrade(ctx context.Context, err error) {
	if m.degraded.CompareAndSwap(false, true) {
		m.logger.WarnContext(ctx, "memory: embedding backend unavailable, degrading to always-miss",
			"collection", m.collection, "error", err)

		if m.metrics != nil {
			m.metrics.RecordDegraded(ctx, m.collection)
		}
	}
}

func (m *memoryCore) lookupOutcome(ctx context.Context, outcome string) {
	if m.metrics != nil {
		m.metrics.RecordLookup(ctx, m.collection, outcome)
	}
}

func (m *memoryCore) writeOutcome(ctx context.Context, outcome string) {
	if m.metrics != nil {
		m.metrics.RecordWrite(ctx, m.collection, outcome)
	}
}

// query runs a similarity query, retrying index reads. An unavailable embedding backend
// degrades the memory.
func (m *memoryCore) query(
	ctx context.Context, signature string, k int, filter models.Metadata,
) ([]models.SimilarityMatch, error) {
	matches, err := Retry(ctx, m.retry, m.collection+" query", func(ctx context.Context) ([]models.SimilarityMatch, error) {
		return m.index.Query(ctx, m.collection, signature, k, filter)
	})
	if err != nil {
		if errors.Is(err, healerrors.ErrEmbeddingUnavailable) {
			m.degrade(ctx, err)
		}

		return nil, err
	}

	return matches, nil
}

// candidates returns the matches for a lookup, or ok=false when the lookup must miss because the
// memory is degraded or the read failed. Failures are logged and counted, never returned.
func (m *memoryCore) candidates(
	ctx context.Context, signature string, k int, filter models.Metadata,
) ([]models.SimilarityMatch, bool) {
	if m.Degraded() {
		m.lookupOutcome(ctx, lookupDegraded)

		return nil, false
	}

	matches, err := m.query(ctx, signature, k, filter)
	if err != nil {
		if m.Degraded() {
			m.lookupOutcome(ctx, lookupDegraded)
		} else {
			m.logger.WarnContext(ctx, "memory: lookup failed, treating as miss",
				"collection", m.collection, "error", err)
			m.lookupOutcome(ctx, lookupError)
		}

		return nil, false
	}

	return matches, true
}

// reject logs a match that failed a consistency check. Inconsistent matches are never accepted.
func (m *memoryCore) reject(ctx context.Context, id string, err error) {
	m.logger.WarnContext(ctx, "memory: rejecting inconsistent match",
		"collection", m.collection, "id", id, "error", err)
	m.lookupOutcome(ctx, lookupRejected)
}

// touch bumps usage counters of an accepted match. A failed bump does not undo the hit.
func (m *memoryCore) touch(ctx context.Context, id string, deltas map[string]int64) {
	if _, err := m.index.IncrementCounters(ctx, m.collection, id, deltas); err != nil {
		m.logger.WarnContext(ctx, "memory: failed to update counters of accepted match",
			"collection", m.collection, "id", id, "error", err)
	}
}

// writable reports whether writes should be attempted; degraded memories skip them.
func (m *memoryCore) writable(ctx context.Context) bool {
	if !m.Degraded() {
		return true
	}

	m.logger.WarnContext(ctx, "memory: degraded, skipping write", "collection", m.collection)
	m.writeOutcome(ctx, writeSkipped)

	return false
}

// writeFailed classifies a failed write: an unavailable embedding backend degrades the memory and
// the write is skipped; anything else is surfaced.
func (m *memoryCore) writeFailed(ctx context.Context, op string, err error) error {
	if errors.Is(err, healerrors.ErrEmbeddingUnavailable) {
		m.degrade(ctx, err)
		m.writeOutcome(ctx, writeSkipped)

		return nil
	}

	m.writeOutcome(ctx, writeError)

	return fmt.Errorf("%s %s: %w", m.collection, op, err)
}

// record consolidates signature into its nearest record when it is closer than consolidation,
// by adding deltas to that record's counters and merging refresh into its metadata; otherwise it
// inserts a new record with meta under an id scoped by filter. An id that is already stored is
// consolidated instead. It returns the id written, or "" when the write was skipped.
func (m *memoryCore) record(
	ctx context.Context,
	signature string,
	filter models.Metadata,
	consolidation float64,
	deltas map[string]int64,
	refresh models.Metadata,
	meta models.Metadata,
) (string, error) {
	if !m.writable(ctx) {
		return "", nil
	}

	matches, err := m.query(ctx, signature, 1, filter)
	if err != nil {
		return "", m.writeFailed(ctx, "consolidate", err)
	}

	if len(matches) > 0 && checkSimilarity(matches[0].Similarity) == nil && matches[0].Similarity > consolidation {
		return m.consolidate(ctx, matches[0].Record.ID, deltas, refresh)
	}

	id := ScopedRecordID(signature, filter)

	inserted, err := m.index.Insert(ctx, m.collection, id, signature, meta)
	if err != nil {
		return "", m.writeFailed(ctx, "insert", err)
	}

	if !inserted {
		return m.consolidate(ctx, id, deltas, refresh)
	}

	m.writeOutcome(ctx, writeInserted)

	return id, nil
}

// consolidate folds one outcome into an existing record.
func (m *memoryCore) consolidate(
	ctx context.Context, id string, deltas map[string]int64, refresh models.Metadata,
) (string, error) {
	if _, err := m.index.IncrementCounters(ctx, m.collection, id, deltas); err != nil {
		return "", m.writeFailed(ctx, "consolidate", err)
	}

	if len(refresh) > 0 {
		if _, err := m.index.Update(ctx, m.collection, id, refresh, nil); err != nil {
			return "", m.writeFailed(ctx, "consolidate", err)
		}
	}

	m.writeOutcome(ctx, writeConsolidated)

	return id, nil
}

func (m *memoryCore) count(ctx context.Context) (int, error) {
	stats, err := m.index.Stats(ctx, m.collection)
	if err != nil {
		return 0, err
	}

	return stats[0].Count, nil
}

func (m *memoryCore) clear(ctx context.Context) error {
	return m.index.Clear(ctx, m.collection)
}

// checkSimilarity fails closed on scores a cosine over unit vectors cannot produce.
func checkSimilarity(sim float64) error {
	if math.IsNaN(sim) || sim < 0 || sim > 1 {
		return healerrors.NewConfigInconsistencyError(fmt.Sprintf("similarity %v outside [0,1]", sim))
	}

	return nil
}

func checkCounters(counters ...int64) error {
	for _, c := range counters {
		if c < 0 {
			return healerrors.NewConfigInconsistencyError(fmt.Sprintf("negative counter %d", c))
		}
	}

	return nil
}

// scopeFilter restricts a query to one metadata value; an empty value means no restriction.
func scopeFilter(key, value string) models.Metadata {
	if value == "" {
		return nil
	}

	return models.Metadata{key: value}
}
