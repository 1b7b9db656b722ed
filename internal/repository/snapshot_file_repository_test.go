package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

func TestSnapshotFileRepository(t *testing.T) {
	dir := t.TempDir()
	repo := NewSnapshotFileRepository(dir)

	snap := models.Snapshot{
		RunID:     "run-1",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Files: map[string]models.FileSnapshot{
			"app.py": {Path: "app.py", ContentHash: "abc", Size: 3},
		},
	}

	require.NoError(t, repo.Save(snap))

	t.Run("saved under run id and latest", func(t *testing.T) {
		got, err := repo.Load("run-1")
		require.NoError(t, err)
		assert.Equal(t, "abc", got.Files["app.py"].ContentHash)

		latest, err := repo.Load(LatestRunID)
		require.NoError(t, err)
		assert.Equal(t, "run-1", latest.RunID)
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("missing snapshot is NotFound", func(t *testing.T) {
		_, err := repo.Load("run-404")
		require.ErrorIs(t, err, healerrors.ErrNotFound)
	})

	t.Run("corrupt snapshot is an error, not NotFound", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot_broken.json"), []byte("{not json"), 0o600))

		_, err := repo.Load("broken")
		require.Error(t, err)
		assert.NotErrorIs(t, err, healerrors.ErrNotFound)
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		_, err := repo.Load("../etc")
		require.ErrorIs(t, err, healerrors.ErrValidation)
	})

	t.Run("list and clear", func(t *testing.T) {
		require.NoError(t, repo.Save(models.Snapshot{RunID: "run-2"}))

		ids, err := repo.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"broken", "run-1", "run-2"}, ids)

		require.NoError(t, repo.Clear())

		ids, err = repo.List()
		require.NoError(t, err)
		assert.Empty(t, ids)

		_, err = repo.Load(LatestRunID)
		require.ErrorIs(t, err, healerrors.ErrNotFound)
	})
}

func TestRunMetricsRepository(t *testing.T) {
	repo := NewRunMetricsRepository(t.TempDir())

	runs, err := repo.Load()
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, repo.Save([]models.RunMetrics{{RunID: "a", TestsPassed: 3}, {RunID: "b"}}))

	runs, err = repo.Load()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].RunID)
	assert.Equal(t, 3, runs[0].TestsPassed)
}
