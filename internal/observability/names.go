// Package observability provides OpenTelemetry metrics, tracing and log enrichment for the healer.
package observability

import (
	"github.com/healforge/healer/internal/datatypes"
)

// Metric names (OpenTelemetry).
const (
	MetricNameHealingOutcomes      = "healer_healing_outcomes_total"
	MetricNameHealingAttempts      = "healer_healing_attempts"
	MetricNameTestRunDuration      = "healer_test_run_duration_seconds"
	MetricNameMemoryLookups        = "healer_memory_lookups_total"
	MetricNameMemoryWrites         = "healer_memory_writes_total"
	MetricNameMemoryDegraded       = "healer_memory_degraded_total"
	MetricNameReasonerCalls        = "healer_reasoner_calls_total"
	MetricNameReasonerRetries      = "healer_reasoner_retries_total"
	MetricNameReasonerCallDuration = "healer_reasoner_call_duration_seconds"
	MetricNameCommitGateDecisions  = "healer_commit_gate_decisions_total"
	MetricNameCacheHits            = "healer_cache_hits_total"
	MetricNameCacheMisses          = "healer_cache_misses_total"
	MetricNameCacheLoadErrors      = "healer_cache_load_errors_total"
)

// Attribute keys.
const (
	AttrStatus  = "status"
	AttrMemory  = "memory"
	AttrOutcome = "outcome"
	AttrOp      = "op"
	AttrCache   = "cache"
	AttrAllowed = "allowed"
)

// AllowedMemories for healer_memory_* metrics: the vector index collection names.
var AllowedMemories = func() map[string]bool {
	m := make(map[string]bool)
	for _, c := range datatypes.GetAllCollections() {
		m[c] = true
	}

	return m
}()

// AllowedLookupOutcomes for healer_memory_lookups_total.
var AllowedLookupOutcomes = map[string]bool{
	"hit":      true,
	"miss":     true,
	"rejected": true,
	"degraded": true,
	"error":    true,
}

// AllowedWriteOutcomes for healer_memory_writes_total.
var AllowedWriteOutcomes = map[string]bool{
	"inserted":     true,
	"consolidated": true,
	"skipped":      true,
	"error":        true,
}

// AllowedReasonerOps for healer_reasoner_* metrics.
var AllowedReasonerOps = map[string]bool{
	"classify": true,
	"heal":     true,
}

// AllowedReasonerOutcomes for healer_reasoner_calls_total.
var AllowedReasonerOutcomes = map[string]bool{
	"success":   true,
	"retryable": true,
	"failed":    true,
}

// AllowedCacheNames for healer_cache_* metrics.
var AllowedCacheNames = map[string]bool{
	"embedding": true,
}

// NormalizeStatus returns status if it is a healing status, otherwise "unknown".
func NormalizeStatus(status string) string {
	for _, s := range datatypes.GetAllHealingStatuses() {
		if s == status {
			return status
		}
	}

	return "unknown"
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName returns name if in AllowedCacheNames, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
