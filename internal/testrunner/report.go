// Package testrunner executes pytest tests and reads their reports and source files.
package testrunner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

// Outcomes reported by pytest-json-report.
const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Report is the part of a pytest-json-report document the healer reads.
type Report struct {
	ExitCode int          `json:"exitcode"`
	Summary  Summary      `json:"summary"`
	Tests    []ReportTest `json:"tests"`
}

// Summary holds the per-outcome counters of a report.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ReportTest is one collected test.
type ReportTest struct {
	NodeID  string       `json:"nodeid"`
	Outcome string       `json:"outcome"`
	Setup   *ReportStage `json:"setup,omitempty"`
	Call    *ReportStage `json:"call,omitempty"`
}

// ReportStage is the setup or call phase of a test.
type ReportStage struct {
	Duration float64 `json:"duration"`
	Outcome  string  `json:"outcome"`
	Longrepr string  `json:"longrepr,omitempty"`
}

// Duration returns the call duration, or the setup duration when the test never got to run.
func (t ReportTest) Duration() float64 {
	if t.Call != nil {
		return t.Call.Duration
	}

	if t.Setup != nil {
		return t.Setup.Duration
	}

	return 0
}

// ErrorText returns the failure representation of the first failing phase.
func (t ReportTest) ErrorText() string {
	if t.Call != nil && t.Call.Longrepr != "" {
		return t.Call.Longrepr
	}

	if t.Setup != nil && t.Setup.Longrepr != "" {
		return t.Setup.Longrepr
	}

	return ""
}

// LoadReport reads a pytest-json-report file.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, healerrors.NewNotFoundError("test report", path)
		}

		return nil, fmt.Errorf("read test report: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode test report %s: %w", path, err)
	}

	return &report, nil
}

// Failures returns the failed and errored tests of the report in report order.
// Test code is left empty; the orchestrator reads it through its TestSource.
func (r *Report) Failures() []models.TestFailure {
	failures := make([]models.TestFailure, 0, len(r.Tests))

	for _, t := range r.Tests {
		if t.Outcome != OutcomeFailed && t.Outcome != OutcomeError {
			continue
		}

		failures = append(failures, models.TestFailure{TestID: t.NodeID, Error: t.ErrorText()})
	}

	return failures
}
