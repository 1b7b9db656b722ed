// Package datatypes defines the closed enumerations shared across the healer
// (classification verdicts, confidence levels, healing statuses).
package datatypes

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors (sentinels for err113).
var (
	ErrInvalidClassification = errors.New("invalid classification")
	ErrInvalidConfidence     = errors.New("invalid confidence")
)

// Classification is the verdict on why a test failed.
type Classification string

// Classification values. The string form is what the Reasoner returns and what is persisted.
const (
	TestError    Classification = "TEST_ERROR"
	ActualDefect Classification = "ACTUAL_DEFECT"
)

var classifications = map[string]Classification{
	string(TestError):    TestError,
	string(ActualDefect): ActualDefect,
}

// String implements fmt.Stringer.
func (c Classification) String() string { return string(c) }

// IsDefect reports whether the verdict blames the application under test.
func (c Classification) IsDefect() bool { return c == ActualDefect }

// ParseClassification converts s (case-insensitive, surrounding space ignored) to a Classification.
func ParseClassification(s string) (Classification, error) {
	c, ok := classifications[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidClassification, s)
	}

	return c, nil
}

// IsValidClassification checks if s is an exact classification string.
func IsValidClassification(s string) bool {
	_, ok := classifications[s]

	return ok
}

// Confidence is the Reasoner's self-reported certainty.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence converts s (case-insensitive) to a Confidence.
func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh, nil
	case ConfidenceMedium:
		return ConfidenceMedium, nil
	case ConfidenceLow:
		return ConfidenceLow, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidConfidence, s)
	}
}

// HealingStatus is the state of one failing test inside the healing loop.
type HealingStatus string

// Healing statuses. Pending is the only non-terminal one.
const (
	StatusPending  HealingStatus = "PENDING"
	StatusHealed   HealingStatus = "HEALED"
	StatusDefect   HealingStatus = "DEFECT"
	StatusExceeded HealingStatus = "EXCEEDED"
)

// IsTerminal reports whether the loop has finished for the test.
func (s HealingStatus) IsTerminal() bool {
	return s == StatusHealed || s == StatusDefect || s == StatusExceeded
}

// GetAllHealingStatuses returns the terminal statuses (bounded metric attribute values).
func GetAllHealingStatuses() []string {
	return []string{string(StatusHealed), string(StatusDefect), string(StatusExceeded)}
}
