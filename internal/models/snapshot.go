package models

import (
	"time"
)

// FileSnapshot is the content fingerprint of one file in one run.
type FileSnapshot struct {
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	Size        int       `json:"size"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot is the persisted file set of one run.
type Snapshot struct {
	RunID     string                  `json:"run_id"`
	CreatedAt time.Time               `json:"created_at"`
	Files     map[string]FileSnapshot `json:"files"`
}

// ChangeReport is the diff between a file set and a stored baseline.
type ChangeReport struct {
	Added        []string `json:"added"`
	Modified     []string `json:"modified"`
	Deleted      []string `json:"deleted"`
	Unchanged    []string `json:"unchanged"`
	TotalChanges int      `json:"total_changes"`
}

// HasChanges reports whether anything was added, modified or deleted.
func (r ChangeReport) HasChanges() bool {
	return r.TotalChanges > 0
}

// SnapshotStats summarizes the snapshot store.
type SnapshotStats struct {
	Snapshots    int       `json:"snapshots"`
	LatestRunID  string    `json:"latest_run_id,omitempty"`
	LatestAt     time.Time `json:"latest_at,omitzero"`
	TrackedFiles int       `json:"tracked_files"`
}
