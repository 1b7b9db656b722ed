package service

import (
	"context"
	"fmt"
	"time"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

const (
	cachedReasonPrefix = "[Cached] "
	errorSnippetLen    = 500
)

// ClassificationCache remembers Reasoner verdicts by error signature so that near-identical
// failures are classified without another Reasoner call.
type ClassificationCache struct {
	core          *memoryCore
	threshold     float64
	consolidation float64
}

// NewClassificationCache creates a ClassificationCache over the classifications collection.
func NewClassificationCache(p MemoryParams) *ClassificationCache {
	return &ClassificationCache{
		core:          newMemoryCore(datatypes.CollectionClassifications, p),
		threshold:     p.Thresholds.Classification,
		consolidation: p.Thresholds.Consolidation,
	}
}

// Degraded reports whether the cache stopped using its embedding backend.
func (c *ClassificationCache) Degraded() bool { return c.core.Degraded() }

// Lookup returns the cached verdict for a failure whose signature is at least as similar as the
// classification threshold, restricted to appType when it is set. Hits are marked FromCache and
// bump the entry's usage count. Any failure is a miss.
func (c *ClassificationCache) Lookup(
	ctx context.Context, errorText, code, appType string,
) (models.ClassificationResult, bool) {
	signature := ClassificationSignature(errorText, code)

	matches, ok := c.core.candidates(ctx, signature, 1, scopeFilter(models.MetaAppType, appType))
	if !ok {
		return models.ClassificationResult{}, false
	}

	if len(matches) == 0 {
		c.core.lookupOutcome(ctx, lookupMiss)

		return models.ClassificationResult{}, false
	}

	top := matches[0]
	if err := checkSimilarity(top.Similarity); err != nil {
		c.core.reject(ctx, top.Record.ID, err)

		return models.ClassificationResult{}, false
	}

	if top.Similarity < c.threshold {
		c.core.lookupOutcome(ctx, lookupMiss)

		return models.ClassificationResult{}, false
	}

	entry, err := models.ClassificationEntryFromMetadata(top.Record.Metadata)
	if err != nil {
		c.core.reject(ctx, top.Record.ID, healerrors.NewConfigInconsistencyError(err.Error()))

		return models.ClassificationResult{}, false
	}

	if err := checkCounters(entry.UsageCount); err != nil {
		c.core.reject(ctx, top.Record.ID, err)

		return models.ClassificationResult{}, false
	}

	c.core.touch(ctx, top.Record.ID, map[string]int64{models.MetaUsageCount: 1})
	c.core.lookupOutcome(ctx, lookupHit)
	c.core.logger.DebugContext(ctx, "classification cache hit",
		"id", top.Record.ID, "similarity", top.Similarity, "classification", entry.Classification)

	return models.ClassificationResult{
		Classification: entry.Classification,
		Reason:         cachedReasonPrefix + entry.Reason,
		Confidence:     entry.Confidence,
		FromCache:      true,
		Similarity:     top.Similarity,
	}, true
}

// Record stores a verdict. A near-identical existing entry gets its usage count bumped instead.
// It returns the entry id, or "" when the cache is degraded.
func (c *ClassificationCache) Record(
	ctx context.Context, errorText, code, appType string, result models.ClassificationResult,
) (string, error) {
	if !datatypes.IsValidClassification(string(result.Classification)) {
		return "", healerrors.NewValidationError("classification",
			fmt.Sprintf("cannot cache classification %q", result.Classification))
	}

	entry := models.ClassificationEntry{
		Classification: result.Classification,
		Reason:         result.Reason,
		Confidence:     result.Confidence,
		AppType:        appType,
		UsageCount:     1,
		ErrorSnippet:   truncateRunes(errorText, errorSnippetLen),
		CreatedAt:      time.Now(),
	}

	return c.core.record(ctx,
		ClassificationSignature(errorText, code),
		scopeFilter(models.MetaAppType, appType),
		c.consolidation,
		map[string]int64{models.MetaUsageCount: 1},
		nil,
		entry.ToMetadata(),
	)
}

// Count returns the number of cached verdicts.
func (c *ClassificationCache) Count(ctx context.Context) (int, error) { return c.core.count(ctx) }

// Clear drops every cached verdict.
func (c *ClassificationCache) Clear(ctx context.Context) error { return c.core.clear(ctx) }
