package repository

import (
	"errors"
	"fmt"
	"os"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

// HealingReportRepository persists the report of the most recent healing run.
type HealingReportRepository struct {
	path string
}

// NewHealingReportRepository creates a repository writing to path.
func NewHealingReportRepository(path string) *HealingReportRepository {
	return &HealingReportRepository{path: path}
}

// Path returns the report location.
func (r *HealingReportRepository) Path() string {
	return r.path
}

// Save replaces the stored report atomically.
func (r *HealingReportRepository) Save(report *models.HealingReport) error {
	if report == nil {
		return healerrors.NewValidationError("report", "is required")
	}

	if err := writeJSONAtomic(r.path, report); err != nil {
		return fmt.Errorf("save healing report: %w", err)
	}

	return nil
}

// Load returns the stored report.
func (r *HealingReportRepository) Load() (*models.HealingReport, error) {
	report := models.NewHealingReport()
	if err := readJSON(r.path, report); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, healerrors.NewNotFoundError("healing report", r.path)
		}

		return nil, fmt.Errorf("load healing report: %w", err)
	}

	return report, nil
}
