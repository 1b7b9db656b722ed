package models

import (
	"github.com/healforge/healer/internal/datatypes"
)

// TestFailure is a failing test handed to the healing loop.
type TestFailure struct {
	TestID string `json:"test_id"`
	Code   string `json:"-"`
	Error  string `json:"error"`
}

// TestRunResult is the outcome of executing one test.
type TestRunResult struct {
	TestID   string  `json:"test_id"`
	Passed   bool    `json:"passed"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration"`
	TimedOut bool    `json:"timed_out,omitempty"`
}

// HealingAttemptRecord tracks one failing test through the loop and is summarized into the report.
type HealingAttemptRecord struct {
	TestID                string                  `json:"test_name"`
	Status                datatypes.HealingStatus `json:"status"`
	AttemptCount          int                     `json:"attempts"`
	ClassificationHistory []ClassificationResult  `json:"classification_history"`
	Reason                string                  `json:"reason,omitempty"`
	Confidence            datatypes.Confidence    `json:"confidence,omitempty"`
	FromKB                bool                    `json:"from_kb,omitempty"`
	OriginalError         string                  `json:"original_error,omitempty"`
	LastError             string                  `json:"last_error,omitempty"`
	ReasonerFailures      int                     `json:"reasoner_failures,omitempty"`
}

// LastClassification returns the most recent verdict, if any.
func (r *HealingAttemptRecord) LastClassification() (ClassificationResult, bool) {
	if len(r.ClassificationHistory) == 0 {
		return ClassificationResult{}, false
	}

	return r.ClassificationHistory[len(r.ClassificationHistory)-1], true
}

// HealingReport is the aggregate result of a healing run.
type HealingReport struct {
	RunID               string                 `json:"run_id,omitempty"`
	SuccessfullyHealed  []HealingAttemptRecord `json:"successfully_healed"`
	ActualDefects       []HealingAttemptRecord `json:"actual_defects"`
	MaxAttemptsExceeded []HealingAttemptRecord `json:"max_attempts_exceeded"`
	HealedCount         int                    `json:"healed_count"`
	DefectCount         int                    `json:"defect_count"`
	ExceededCount       int                    `json:"exceeded_count"`
	KBHealedCount       int                    `json:"kb_healed_count"`
	TotalAttempts       int                    `json:"total_attempts"`
	CacheHits           int                    `json:"classification_cache_hits"`
	CacheMisses         int                    `json:"classification_cache_misses"`
	MemoryWriteErrors   int                    `json:"memory_write_errors"`
	CommitAllowed       bool                   `json:"commit_allowed"`
}

// NewHealingReport returns an empty report with non-nil lists so it serializes as [] not null.
func NewHealingReport() *HealingReport {
	return &HealingReport{
		SuccessfullyHealed:  []HealingAttemptRecord{},
		ActualDefects:       []HealingAttemptRecord{},
		MaxAttemptsExceeded: []HealingAttemptRecord{},
		CommitAllowed:       true,
	}
}
