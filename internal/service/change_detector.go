package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

// LatestSnapshot is the baseline id that always holds the most recent snapshot.
const LatestSnapshot = "latest"

// Metadata keys of file_snapshots records.
const (
	metaPath        = "path"
	metaContentHash = "content_hash"
	metaSize        = "size"
	metaRunID       = "run_id"
	metaSnapshotAt  = "snapshot_time"
)

// SnapshotStore persists snapshots by run id. Implemented by repository.SnapshotFileRepository.
type SnapshotStore interface {
	Save(snap models.Snapshot) error
	Load(runID string) (models.Snapshot, error)
	List() ([]string, error)
	Clear() error
}

// ChangeDetector fingerprints a file set by content hash and diffs it against a stored run.
type ChangeDetector struct {
	store  SnapshotStore
	index  *VectorIndex
	logger *slog.Logger
}

// ChangeDetectorParams configures a ChangeDetector. Index may be nil to skip path indexing.
type ChangeDetectorParams struct {
	Store  SnapshotStore
	Index  *VectorIndex
	Logger *slog.Logger
}

// NewChangeDetector creates a ChangeDetector.
func NewChangeDetector(p ChangeDetectorParams) *ChangeDetector {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ChangeDetector{store: p.Store, index: p.Index, logger: logger}
}

// HashContent is the hex sha256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))

	return hex.EncodeToString(sum[:])
}

// Snapshot fingerprints files, indexes their paths and persists the result under runID and as
// the latest snapshot. When only the path indexing fails the snapshot is still persisted and
// returned together with the indexing error. An empty runID gets a generated one.
func (d *ChangeDetector) Snapshot(ctx context.Context, files map[string]string, runID string) (models.Snapshot, error) {
	if runID == "" {
		runID = uuid.Must(uuid.NewV7()).String()
	}

	now := time.Now().UTC()
	snap := models.Snapshot{
		RunID:     runID,
		CreatedAt: now,
		Files:     make(map[string]models.FileSnapshot, len(files)),
	}

	for path, content := range files {
		snap.Files[path] = models.FileSnapshot{
			Path:        path,
			ContentHash: HashContent(content),
			Size:        len(content),
			Timestamp:   now,
		}
	}

	indexErr := d.indexPaths(ctx, snap)
	if indexErr != nil {
		d.logger.WarnContext(ctx, "changes: failed to index file paths", "run_id", runID, "error", indexErr)
	}

	if err := d.store.Save(snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("snapshot %s: %w", runID, err)
	}

	d.logger.InfoContext(ctx, "changes: snapshot created", "run_id", runID, "files", len(snap.Files))

	return snap, indexErr
}

// indexPaths writes one file_snapshots record per path, updating the hash of known paths.
func (d *ChangeDetector) indexPaths(ctx context.Context, snap models.Snapshot) error {
	if d.index == nil || len(snap.Files) == 0 {
		return nil
	}

	paths := make([]string, 0, len(snap.Files))
	for p := range snap.Files {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	ids := make([]string, len(paths))
	metas := make([]models.Metadata, len(paths))

	for i, p := range paths {
		f := snap.Files[p]
		ids[i] = RecordID(p)
		metas[i] = models.Metadata{
			metaPath:        p,
			metaContentHash: f.ContentHash,
			metaSize:        f.Size,
			metaRunID:       snap.RunID,
			metaSnapshotAt:  f.Timestamp.Format(time.RFC3339),
		}
	}

	existing, err := d.index.ExistingIDs(ctx, datatypes.CollectionFileSnapshots, ids)
	if err != nil {
		return err
	}

	if _, err := d.index.Upsert(ctx, datatypes.CollectionFileSnapshots, paths, metas, ids); err != nil {
		return err
	}

	for i, id := range ids {
		if !existing[id] {
			continue
		}

		if _, err := d.index.Update(ctx, datatypes.CollectionFileSnapshots, id, metas[i], nil); err != nil {
			return err
		}
	}

	return nil
}

// baseline loads a stored snapshot; a run that was never snapshotted is an empty baseline.
func (d *ChangeDetector) baseline(runID string) (map[string]models.FileSnapshot, error) {
	snap, err := d.store.Load(runID)
	if err != nil {
		if errors.Is(err, healerrors.ErrNotFound) {
			return map[string]models.FileSnapshot{}, nil
		}

		return nil, fmt.Errorf("load baseline %s: %w", runID, err)
	}

	return snap.Files, nil
}

// DetectChanges diffs files against the snapshot stored under baselineRunID ("" means latest):
// paths only in files are added, paths only in the baseline are deleted, and common paths are
// modified or unchanged by content hash. Every list is sorted.
func (d *ChangeDetector) DetectChanges(
	ctx context.Context, files map[string]string, baselineRunID string,
) (models.ChangeReport, error) {
	if baselineRunID == "" {
		baselineRunID = LatestSnapshot
	}

	previous, err := d.baseline(baselineRunID)
	if err != nil {
		return models.ChangeReport{}, err
	}

	report := models.ChangeReport{
		Added:     []string{},
		Modified:  []string{},
		Deleted:   []string{},
		Unchanged: []string{},
	}

	for path, content := range files {
		prev, ok := previous[path]

		switch {
		case !ok:
			report.Added = append(report.Added, path)
		case prev.ContentHash != HashContent(content):
			report.Modified = append(report.Modified, path)
		default:
			report.Unchanged = append(report.Unchanged, path)
		}
	}

	for path := range previous {
		if _, ok := files[path]; !ok {
			report.Deleted = append(report.Deleted, path)
		}
	}

	sort.Strings(report.Added)
	sort.Strings(report.Modified)
	sort.Strings(report.Deleted)
	sort.Strings(report.Unchanged)

	report.TotalChanges = len(report.Added) + len(report.Modified) + len(report.Deleted)

	if report.HasChanges() {
		d.logger.InfoContext(ctx, "changes: detected",
			"added", len(report.Added), "modified", len(report.Modified), "deleted", len(report.Deleted))
	} else {
		d.logger.InfoContext(ctx, "changes: none since baseline", "baseline", baselineRunID)
	}

	return report, nil
}

// ShouldRegenerate decides whether tests need regenerating against the latest snapshot: never
// without changes; otherwise when the changed share of files reaches threshold, when any file was
// added, or when the current file set is empty.
func (d *ChangeDetector) ShouldRegenerate(
	ctx context.Context, files map[string]string, threshold float64,
) (bool, models.ChangeReport, error) {
	report, err := d.DetectChanges(ctx, files, LatestSnapshot)
	if err != nil {
		return false, models.ChangeReport{}, err
	}

	if !report.HasChanges() {
		return false, report, nil
	}

	if len(files) == 0 {
		return true, report, nil
	}

	ratio := float64(report.TotalChanges) / float64(len(files))
	regenerate := ratio >= threshold || len(report.Added) > 0

	d.logger.InfoContext(ctx, "changes: regeneration decision",
		"regenerate", regenerate, "changes", report.TotalChanges, "ratio", ratio, "threshold", threshold)

	return regenerate, report, nil
}

// ChangedFiles returns the content of added and modified files with the report they came from.
func (d *ChangeDetector) ChangedFiles(
	ctx context.Context, files map[string]string, baselineRunID string,
) (map[string]string, models.ChangeReport, error) {
	report, err := d.DetectChanges(ctx, files, baselineRunID)
	if err != nil {
		return nil, models.ChangeReport{}, err
	}

	changed := make(map[string]string, len(report.Added)+len(report.Modified))
	for _, p := range append(append([]string{}, report.Added...), report.Modified...) {
		changed[p] = files[p]
	}

	return changed, report, nil
}

// Stats summarizes stored snapshots and the latest one.
func (d *ChangeDetector) Stats(_ context.Context) (models.SnapshotStats, error) {
	ids, err := d.store.List()
	if err != nil {
		return models.SnapshotStats{}, err
	}

	stats := models.SnapshotStats{Snapshots: len(ids)}

	latest, err := d.store.Load(LatestSnapshot)
	switch {
	case errors.Is(err, healerrors.ErrNotFound):
		return stats, nil
	case err != nil:
		return models.SnapshotStats{}, fmt.Errorf("load latest snapshot: %w", err)
	}

	stats.LatestRunID = latest.RunID
	stats.LatestAt = latest.CreatedAt
	stats.TrackedFiles = len(latest.Files)

	return stats, nil
}

// Clear removes every stored snapshot and the path index.
func (d *ChangeDetector) Clear(ctx context.Context) error {
	if err := d.store.Clear(); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}

	if d.index != nil {
		if err := d.index.Clear(ctx, datatypes.CollectionFileSnapshots); err != nil {
			return err
		}
	}

	d.logger.InfoContext(ctx, "changes: snapshots cleared")

	return nil
}
