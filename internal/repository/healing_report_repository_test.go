package repository

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

func TestHealingReportRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "healing_analysis.json")
	repo := NewHealingReportRepository(path)

	_, err := repo.Load()
	require.ErrorIs(t, err, healerrors.ErrNotFound)

	report := models.NewHealingReport()
	report.ActualDefects = append(report.ActualDefects, models.HealingAttemptRecord{
		TestID:       "tests/test_api.py::test_get_users",
		Status:       datatypes.StatusDefect,
		AttemptCount: 1,
	})
	report.DefectCount = 1

	require.NoError(t, repo.Save(report))

	got, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, got.DefectCount)
	assert.Equal(t, "tests/test_api.py::test_get_users", got.ActualDefects[0].TestID)
	assert.Empty(t, got.SuccessfullyHealed)
	assert.True(t, got.CommitAllowed)

	require.ErrorIs(t, repo.Save(nil), healerrors.ErrValidation)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err = repo.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, healerrors.ErrNotFound)
}
