package models

import (
	"time"
)

// HealingPattern is a stored fix, keyed by error signature.
type HealingPattern struct {
	HealedCode   string
	ErrorType    string
	AppType      string
	TestName     string
	SuccessCount int64
	FailureCount int64
	UsageCount   int64
	CreatedAt    time.Time
}

// Metadata keys for healing patterns.
const (
	MetaHealedCode   = "healed_code"
	MetaErrorType    = "error_type"
	MetaTestName     = "test_name"
	MetaSuccessCount = "success_count"
	MetaFailureCount = "failure_count"
)

// SuccessRate is success/(success+failure), 0 when the pattern has no outcomes.
func (p HealingPattern) SuccessRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total <= 0 {
		return 0
	}

	return float64(p.SuccessCount) / float64(total)
}

// ToMetadata serializes the pattern for the vector index.
func (p HealingPattern) ToMetadata() Metadata {
	return Metadata{
		MetaHealedCode:   p.HealedCode,
		MetaErrorType:    p.ErrorType,
		MetaAppType:      p.AppType,
		MetaTestName:     p.TestName,
		MetaSuccessCount: p.SuccessCount,
		MetaFailureCount: p.FailureCount,
		MetaUsageCount:   p.UsageCount,
		MetaCreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// HealingPatternFromMetadata parses a stored pattern.
func HealingPatternFromMetadata(m Metadata) HealingPattern {
	created, _ := time.Parse(time.RFC3339, m.String(MetaCreatedAt))

	return HealingPattern{
		HealedCode:   m.String(MetaHealedCode),
		ErrorType:    m.String(MetaErrorType),
		AppType:      m.String(MetaAppType),
		TestName:     m.String(MetaTestName),
		SuccessCount: m.Int(MetaSuccessCount),
		FailureCount: m.Int(MetaFailureCount),
		UsageCount:   m.Int(MetaUsageCount),
		CreatedAt:    created,
	}
}

// HealingMatch is an accepted knowledge base hit.
type HealingMatch struct {
	ID         string
	Pattern    HealingPattern
	Similarity float64
	Confidence float64
}
