package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/healforge/healer/internal/models"
)

const runsFile = "runs.json"

// RunMetricsRepository keeps the retained run history in a single JSON file.
type RunMetricsRepository struct {
	dir string
}

// NewRunMetricsRepository creates a repository rooted at dir.
func NewRunMetricsRepository(dir string) *RunMetricsRepository {
	return &RunMetricsRepository{dir: dir}
}

// Load returns the stored runs, oldest first. A missing file is an empty history.
func (r *RunMetricsRepository) Load() ([]models.RunMetrics, error) {
	var runs []models.RunMetrics
	if err := readJSON(filepath.Join(r.dir, runsFile), &runs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("load run history: %w", err)
	}

	return runs, nil
}

// Save replaces the stored history atomically.
func (r *RunMetricsRepository) Save(runs []models.RunMetrics) error {
	if runs == nil {
		runs = []models.RunMetrics{}
	}

	if err := writeJSONAtomic(filepath.Join(r.dir, runsFile), runs); err != nil {
		return fmt.Errorf("save run history: %w", err)
	}

	return nil
}

// Export writes doc to path atomically.
func (r *RunMetricsRepository) Export(path string, doc models.AnalyticsExport) error {
	if err := writeJSONAtomic(path, doc); err != nil {
		return fmt.Errorf("export analytics: %w", err)
	}

	return nil
}
