package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/repository"
)

func sourceFiles(n int) map[string]string {
	files := make(map[string]string, n)
	for i := range n {
		files[fmt.Sprintf("app/module_%02d.py", i)] = fmt.Sprintf("def handler_%d():\n    return %d\n", i, i)
	}

	return files
}

func newTestDetector(t *testing.T, idx *VectorIndex) (*ChangeDetector, string) {
	t.Helper()

	dir := t.TempDir()

	return NewChangeDetector(ChangeDetectorParams{
		Store: repository.NewSnapshotFileRepository(dir),
		Index: idx,
	}), dir
}

func TestChangeDetector_DetectChanges(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDetector(t, nil)

	files := sourceFiles(3)

	t.Run("no baseline means everything is added", func(t *testing.T) {
		report, err := d.DetectChanges(ctx, files, "")
		require.NoError(t, err)
		assert.Len(t, report.Added, 3)
		assert.Equal(t, 3, report.TotalChanges)
		assert.Empty(t, report.Deleted)
	})

	snap, err := d.Snapshot(ctx, files, "run-1")
	require.NoError(t, err)
	assert.Len(t, snap.Files, 3)
	assert.Equal(t, HashContent(files["app/module_00.py"]), snap.Files["app/module_00.py"].ContentHash)

	t.Run("unchanged set", func(t *testing.T) {
		report, err := d.DetectChanges(ctx, files, "")
		require.NoError(t, err)
		assert.False(t, report.HasChanges())
		assert.Len(t, report.Unchanged, 3)
		assert.NotNil(t, report.Added)
	})

	t.Run("added modified deleted", func(t *testing.T) {
		next := map[string]string{
			"app/module_00.py": files["app/module_00.py"],
			"app/module_01.py": "def handler_1():\n    return -1\n",
			"app/new.py":       "x = 1\n",
		}

		report, err := d.DetectChanges(ctx, next, "run-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"app/new.py"}, report.Added)
		assert.Equal(t, []string{"app/module_01.py"}, report.Modified)
		assert.Equal(t, []string{"app/module_02.py"}, report.Deleted)
		assert.Equal(t, []string{"app/module_00.py"}, report.Unchanged)
		assert.Equal(t, 3, report.TotalChanges)

		changed, _, err := d.ChangedFiles(ctx, next, "run-1")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"app/module_01.py": next["app/module_01.py"],
			"app/new.py":       next["app/new.py"],
		}, changed)
	})
}

func TestChangeDetector_ShouldRegenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("one added file out of ten", func(t *testing.T) {
		d, _ := newTestDetector(t, nil)
		files := sourceFiles(10)
		_, err := d.Snapshot(ctx, files, "base")
		require.NoError(t, err)

		files["app/extra.py"] = "y = 2\n"

		regen, report, err := d.ShouldRegenerate(ctx, files, 0.5)
		require.NoError(t, err)
		assert.True(t, regen, "an added file triggers regardless of the ratio")
		assert.Equal(t, 1, report.TotalChanges)
	})

	t.Run("small modification stays under the threshold", func(t *testing.T) {
		d, _ := newTestDetector(t, nil)
		files := sourceFiles(20)
		_, err := d.Snapshot(ctx, files, "base")
		require.NoError(t, err)

		files["app/module_03.py"] = "def handler_3():\n    return 33\n"

		regen, report, err := d.ShouldRegenerate(ctx, files, 0.1)
		require.NoError(t, err)
		assert.False(t, regen)
		assert.Equal(t, []string{"app/module_03.py"}, report.Modified)
	})

	t.Run("nothing changed", func(t *testing.T) {
		d, _ := newTestDetector(t, nil)
		files := sourceFiles(4)
		_, err := d.Snapshot(ctx, files, "base")
		require.NoError(t, err)

		regen, _, err := d.ShouldRegenerate(ctx, files, 0)
		require.NoError(t, err)
		assert.False(t, regen)
	})

	t.Run("every file deleted", func(t *testing.T) {
		d, _ := newTestDetector(t, nil)
		_, err := d.Snapshot(ctx, sourceFiles(4), "base")
		require.NoError(t, err)

		regen, report, err := d.ShouldRegenerate(ctx, map[string]string{}, 0.1)
		require.NoError(t, err)
		assert.True(t, regen)
		assert.Len(t, report.Deleted, 4)
	})
}

func TestChangeDetector_corrupt_baseline(t *testing.T) {
	d, dir := newTestDetector(t, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot_latest.json"), []byte("{not json"), 0o600))

	_, err := d.DetectChanges(context.Background(), sourceFiles(1), "")
	require.Error(t, err)
}

func TestChangeDetector_indexes_paths(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	d, _ := newTestDetector(t, idx)

	files := sourceFiles(3)
	_, err := d.Snapshot(ctx, files, "run-1")
	require.NoError(t, err)

	files["app/module_01.py"] = "changed\n"
	_, err = d.Snapshot(ctx, files, "run-2")
	require.NoError(t, err)

	stats, err := idx.Stats(ctx, datatypes.CollectionFileSnapshots)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[0].Count, "one record per path")

	rec, err := idx.Get(ctx, datatypes.CollectionFileSnapshots, RecordID("app/module_01.py"))
	require.NoError(t, err)
	assert.Equal(t, HashContent("changed\n"), rec.Metadata.String(metaContentHash))
	assert.Equal(t, "run-2", rec.Metadata.String(metaRunID))

	snapStats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snapStats.Snapshots)
	assert.Equal(t, "run-2", snapStats.LatestRunID)
	assert.Equal(t, 3, snapStats.TrackedFiles)

	require.NoError(t, d.Clear(ctx))

	snapStats, err = d.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, snapStats.Snapshots)

	stats, err = idx.Stats(ctx, datatypes.CollectionFileSnapshots)
	require.NoError(t, err)
	assert.Zero(t, stats[0].Count)
}

func TestChangeDetector_Snapshot_generates_run_id(t *testing.T) {
	d, _ := newTestDetector(t, nil)

	snap, err := d.Snapshot(context.Background(), sourceFiles(1), "")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.RunID)

	stats, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, stats.LatestRunID)
}
