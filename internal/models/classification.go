package models

import (
	"time"

	"github.com/healforge/healer/internal/datatypes"
)

// ClassificationResult is a verdict on a failing test, from the Reasoner or the classification cache.
type ClassificationResult struct {
	Classification datatypes.Classification `json:"classification"`
	Reason         string                   `json:"reason"`
	Confidence     datatypes.Confidence     `json:"confidence"`
	FromCache      bool                     `json:"from_cache"`
	Similarity     float64                  `json:"similarity,omitempty"`

	// Fallback marks the default verdict given when the Reasoner's reply could not be parsed.
	// Fallback verdicts are never cached.
	Fallback bool `json:"fallback,omitempty"`
}

// ClassificationEntry is the stored value of a classification cache record, keyed by error signature.
type ClassificationEntry struct {
	Classification datatypes.Classification
	Reason         string
	Confidence     datatypes.Confidence
	AppType        string
	UsageCount     int64
	ErrorSnippet   string
	CreatedAt      time.Time
}

// Metadata keys for classification entries.
const (
	MetaClassification = "classification"
	MetaReason         = "reason"
	MetaConfidence     = "confidence"
	MetaAppType        = "app_type"
	MetaUsageCount     = "usage_count"
	MetaErrorSnippet   = "error_snippet"
	MetaCreatedAt      = "created_at"
)

// ToMetadata serializes the entry for the vector index.
func (e ClassificationEntry) ToMetadata() Metadata {
	return Metadata{
		MetaClassification: string(e.Classification),
		MetaReason:         e.Reason,
		MetaConfidence:     string(e.Confidence),
		MetaAppType:        e.AppType,
		MetaUsageCount:     e.UsageCount,
		MetaErrorSnippet:   e.ErrorSnippet,
		MetaCreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ClassificationEntryFromMetadata parses a stored entry. Unknown verdicts and confidences fail
// so that corrupted records are never reused.
func ClassificationEntryFromMetadata(m Metadata) (ClassificationEntry, error) {
	cls, err := datatypes.ParseClassification(m.String(MetaClassification))
	if err != nil {
		return ClassificationEntry{}, err
	}

	conf, err := datatypes.ParseConfidence(m.String(MetaConfidence))
	if err != nil {
		conf = datatypes.ConfidenceLow
	}

	created, _ := time.Parse(time.RFC3339, m.String(MetaCreatedAt))

	return ClassificationEntry{
		Classification: cls,
		Reason:         m.String(MetaReason),
		Confidence:     conf,
		AppType:        m.String(MetaAppType),
		UsageCount:     m.Int(MetaUsageCount),
		ErrorSnippet:   m.String(MetaErrorSnippet),
		CreatedAt:      created,
	}, nil
}
