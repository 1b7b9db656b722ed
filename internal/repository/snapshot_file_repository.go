package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

// LatestRunID is the reserved snapshot id that always holds the most recent snapshot.
const LatestRunID = "latest"

const (
	snapshotPrefix = "snapshot_"
	snapshotSuffix = ".json"
)

// SnapshotFileRepository persists one JSON document per run under a directory.
type SnapshotFileRepository struct {
	dir string
}

// NewSnapshotFileRepository creates a repository rooted at dir. The directory is created on first save.
func NewSnapshotFileRepository(dir string) *SnapshotFileRepository {
	return &SnapshotFileRepository{dir: dir}
}

func (r *SnapshotFileRepository) path(runID string) string {
	return filepath.Join(r.dir, snapshotPrefix+runID+snapshotSuffix)
}

func validateRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return healerrors.NewValidationError("run_id", fmt.Sprintf("invalid run id %q", runID))
	}

	return nil
}

// Save writes snap under its run id and then replaces "latest". Both writes are atomic renames;
// "latest" is written last.
func (r *SnapshotFileRepository) Save(snap models.Snapshot) error {
	if err := validateRunID(snap.RunID); err != nil {
		return err
	}

	if snap.RunID != LatestRunID {
		if err := writeJSONAtomic(r.path(snap.RunID), snap); err != nil {
			return fmt.Errorf("save snapshot %s: %w", snap.RunID, err)
		}
	}

	if err := writeJSONAtomic(r.path(LatestRunID), snap); err != nil {
		return fmt.Errorf("save latest snapshot: %w", err)
	}

	return nil
}

// Load returns the snapshot stored under runID. A missing snapshot is a NotFoundError;
// an unreadable one is returned as is.
func (r *SnapshotFileRepository) Load(runID string) (models.Snapshot, error) {
	if err := validateRunID(runID); err != nil {
		return models.Snapshot{}, err
	}

	var snap models.Snapshot
	if err := readJSON(r.path(runID), &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Snapshot{}, healerrors.NewNotFoundError("snapshot", "snapshot "+runID+" not found")
		}

		return models.Snapshot{}, err
	}

	if snap.Files == nil {
		snap.Files = make(map[string]models.FileSnapshot)
	}

	return snap, nil
}

// List returns the stored run ids (excluding "latest"), sorted.
func (r *SnapshotFileRepository) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var ids []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}

		id := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
		if id != LatestRunID {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

// Clear removes every snapshot file, "latest" included.
func (r *SnapshotFileRepository) Clear() error {
	ids, err := r.List()
	if err != nil {
		return err
	}

	for _, id := range append(ids, LatestRunID) {
		if err := os.Remove(r.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove snapshot %s: %w", id, err)
		}
	}

	return nil
}
