package service

import (
	"context"
	"fmt"
	"time"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

// HealingKB is the healing knowledge base: fixes that were applied, keyed by error signature,
// with the pass/fail record of every time they were applied.
type HealingKB struct {
	core           *memoryCore
	threshold      float64
	minSuccessRate float64
	minConfidence  float64
	consolidation  float64
}

// NewHealingKB creates a HealingKB over the healing_patterns collection.
func NewHealingKB(p MemoryParams) *HealingKB {
	return &HealingKB{
		core:           newMemoryCore(datatypes.CollectionHealingPatterns, p),
		threshold:      p.Thresholds.Healing,
		minSuccessRate: p.Thresholds.HealingMinSuccessRate,
		minConfidence:  p.Thresholds.HealingMinConfidence,
		consolidation:  p.Thresholds.Consolidation,
	}
}

// Degraded reports whether the knowledge base stopped using its embedding backend.
func (kb *HealingKB) Degraded() bool { return kb.core.Degraded() }

// Lookup returns a stored fix for the failure when the nearest pattern is similar enough, has a
// good enough success rate and their product clears the confidence floor. Accepted patterns get
// their usage count bumped.
func (kb *HealingKB) Lookup(ctx context.Context, errorText, code, appType string) (models.HealingMatch, bool) {
	signature := HealingSignature(errorText, code)

	matches, ok := kb.core.candidates(ctx, signature, 1, scopeFilter(models.MetaAppType, appType))
	if !ok {
		return models.HealingMatch{}, false
	}

	if len(matches) == 0 {
		kb.core.lookupOutcome(ctx, lookupMiss)

		return models.HealingMatch{}, false
	}

	top := matches[0]
	pattern := models.HealingPatternFromMetadata(top.Record.Metadata)

	if err := checkSimilarity(top.Similarity); err != nil {
		kb.core.reject(ctx, top.Record.ID, err)

		return models.HealingMatch{}, false
	}

	if err := checkCounters(pattern.SuccessCount, pattern.FailureCount, pattern.UsageCount); err != nil {
		kb.core.reject(ctx, top.Record.ID, err)

		return models.HealingMatch{}, false
	}

	if pattern.HealedCode == "" {
		kb.core.reject(ctx, top.Record.ID, healerrors.NewConfigInconsistencyError("pattern has no healed code"))

		return models.HealingMatch{}, false
	}

	rate := pattern.SuccessRate()
	confidence := top.Similarity * rate

	if top.Similarity < kb.threshold || rate < kb.minSuccessRate || confidence < kb.minConfidence {
		kb.core.logger.DebugContext(ctx, "healing pattern not applicable",
			"id", top.Record.ID, "similarity", top.Similarity, "success_rate", rate, "confidence", confidence)
		kb.core.lookupOutcome(ctx, lookupMiss)

		return models.HealingMatch{}, false
	}

	kb.core.touch(ctx, top.Record.ID, map[string]int64{models.MetaUsageCount: 1})
	kb.core.lookupOutcome(ctx, lookupHit)
	kb.core.logger.InfoContext(ctx, "healing pattern applicable",
		"id", top.Record.ID, "similarity", top.Similarity, "success_rate", rate, "confidence", confidence)

	return models.HealingMatch{
		ID:         top.Record.ID,
		Pattern:    pattern,
		Similarity: top.Similarity,
		Confidence: confidence,
	}, true
}

// HealingOutcome is one applied fix and whether the rerun passed.
type HealingOutcome struct {
	ErrorText    string
	OriginalCode string
	HealedCode   string
	AppType      string
	Success      bool
}

// Record stores the outcome of an applied fix. A near-identical existing pattern gets its success
// or failure count bumped; a success also makes the fix that just worked the pattern's code.
// It returns the pattern id, or "" when the knowledge base is degraded.
func (kb *HealingKB) Record(ctx context.Context, o HealingOutcome) (string, error) {
	if o.HealedCode == "" {
		return "", healerrors.NewValidationError("healed_code", "cannot record an outcome without healed code")
	}

	pattern := models.HealingPattern{
		HealedCode: o.HealedCode,
		ErrorType:  ErrorType(o.ErrorText),
		AppType:    o.AppType,
		TestName:   TestName(o.OriginalCode),
		CreatedAt:  time.Now(),
	}

	deltas := map[string]int64{models.MetaFailureCount: 1}

	var refresh models.Metadata

	if o.Success {
		pattern.SuccessCount = 1
		deltas = map[string]int64{models.MetaSuccessCount: 1}
		refresh = models.Metadata{models.MetaHealedCode: o.HealedCode}
	} else {
		pattern.FailureCount = 1
	}

	id, err := kb.core.record(ctx,
		HealingSignature(o.ErrorText, o.OriginalCode),
		scopeFilter(models.MetaAppType, o.AppType),
		kb.consolidation,
		deltas,
		refresh,
		pattern.ToMetadata(),
	)
	if err != nil {
		return "", fmt.Errorf("record healing outcome: %w", err)
	}

	return id, nil
}

// Count returns the number of stored patterns.
func (kb *HealingKB) Count(ctx context.Context) (int, error) { return kb.core.count(ctx) }

// Clear drops every stored pattern.
func (kb *HealingKB) Clear(ctx context.Context) error { return kb.core.clear(ctx) }
