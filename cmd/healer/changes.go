package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/internal/workspace"
)

func (c *cli) changesCmd() *cobra.Command {
	var (
		baseline  string
		copyTo    string
		threshold float64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "changes [dir]",
		Short: "Compare a source tree against a snapshot and advise whether to regenerate tests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dirArg(args)

			if !cmd.Flags().Changed("threshold") {
				threshold = c.cfg.Thresholds.Regenerate
			}

			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				if err := runChanges(ctx, app, cmd.OutOrStdout(), dir, baseline, threshold, asJSON); err != nil {
					return err
				}

				if copyTo == "" {
					return nil
				}

				return runCopyChanged(ctx, app, cmd.ErrOrStderr(), dir, baseline, copyTo)
			})
		},
	}

	cmd.Flags().StringVarP(&baseline, "baseline", "b", "", "Snapshot run id to compare against (latest when empty)")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "Changed-file fraction that triggers regeneration (REGENERATE_THRESHOLD)")
	cmd.Flags().StringVar(&copyTo, "copy-to", "", "Copy added and modified files into this directory")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func runChanges(ctx context.Context, app *App, out io.Writer, dir, baseline string, threshold float64, asJSON bool) error {
	scan, err := workspace.ScanSources(dir, workspace.ScanOptions{})
	if err != nil {
		return err
	}

	if err := app.openMemory(ctx); err != nil {
		return err
	}

	var (
		report     models.ChangeReport
		regenerate bool
	)

	if baseline == "" {
		regenerate, report, err = app.detector.ShouldRegenerate(ctx, scan.Files, threshold)
	} else {
		report, err = app.detector.DetectChanges(ctx, scan.Files, baseline)
	}

	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(out, map[string]any{
			"changes":    report,
			"regenerate": regenerate,
			"languages":  scan.Languages,
			"skipped":    scan.Skipped,
		})
	}

	for _, p := range report.Added {
		fmt.Fprintf(out, "A %s\n", p)
	}

	for _, p := range report.Modified {
		fmt.Fprintf(out, "M %s\n", p)
	}

	for _, p := range report.Deleted {
		fmt.Fprintf(out, "D %s\n", p)
	}

	for _, p := range scan.Skipped {
		fmt.Fprintf(out, "skipped %s\n", p)
	}

	fmt.Fprintf(out, "%d changed, %d unchanged\n", report.TotalChanges, len(report.Unchanged))

	if baseline == "" {
		fmt.Fprintf(out, "regenerate: %t\n", regenerate)
	}

	return nil
}

// runCopyChanged copies the added and modified files under dst, keeping their relative paths,
// so tests can be generated for the changed part of the tree only.
func runCopyChanged(ctx context.Context, app *App, out io.Writer, dir, baseline, dst string) error {
	scan, err := workspace.ScanSources(dir, workspace.ScanOptions{})
	if err != nil {
		return err
	}

	if err := app.openMemory(ctx); err != nil {
		return err
	}

	changed, _, err := app.detector.ChangedFiles(ctx, scan.Files, baseline)
	if err != nil {
		return err
	}

	for rel, content := range changed {
		path := filepath.Join(dst, filepath.FromSlash(rel))

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}

		//nolint:gosec // copies of application sources keep the usual source permissions
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	fmt.Fprintf(out, "copied %d changed files to %s\n", len(changed), dst)

	return nil
}

func (c *cli) snapshotCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "snapshot [dir]",
		Short: "Record the content hashes of a source tree as the new baseline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dirArg(args)

			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return runSnapshot(ctx, app, cmd.OutOrStdout(), dir, runID)
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id of the snapshot (generated when empty)")

	return cmd
}

func runSnapshot(ctx context.Context, app *App, out io.Writer, dir, runID string) error {
	scan, err := workspace.ScanSources(dir, workspace.ScanOptions{})
	if err != nil {
		return err
	}

	if err := app.openMemory(ctx); err != nil {
		return err
	}

	snap, err := app.detector.Snapshot(ctx, scan.Files, runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "snapshot %s: %d files\n", snap.RunID, len(snap.Files))

	return nil
}

func dirArg(args []string) string {
	if len(args) == 0 {
		return "."
	}

	return args[0]
}
