package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/healforge/healer/internal/observability"
)

type dedupOptions struct {
	category string
	write    bool
	runID    string
}

func (c *cli) dedupCmd() *cobra.Command {
	var opts dedupOptions

	cmd := &cobra.Command{
		Use:   "dedup <file>...",
		Short: "Drop generated tests that duplicate tests already seen",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return runDedup(ctx, app, cmd.OutOrStdout(), args, opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.category, "category", "c", "functional", "Test category; duplicates are only searched within it")
	cmd.Flags().BoolVarP(&opts.write, "write", "w", false, "Rewrite each file with the kept tests")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Analytics run id (generated when empty)")

	return cmd
}

func runDedup(ctx context.Context, app *App, out io.Writer, files []string, opts dedupOptions) error {
	if err := app.openMemory(ctx); err != nil {
		return err
	}

	tracker := app.analytics.StartRun(ctx, opts.runID)
	ctx = observability.WithRunID(ctx, tracker.RunID())

	var total, removed int

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		result, err := app.dedup.Deduplicate(ctx, string(data), opts.category, path)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", path, err)
		}

		total += result.OriginalCount
		removed += result.RemovedCount

		for _, m := range result.Removed {
			where := m.DuplicateOf
			if m.DuplicateFile != "" {
				where += " (" + m.DuplicateFile + ")"
			}

			fmt.Fprintf(out, "%s: %s duplicates %s, similarity %.3f\n", path, m.TestName, where, m.Similarity)
		}

		if opts.write && result.RemovedCount > 0 {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}

			if err := os.WriteFile(path, []byte(result.KeptCode), info.Mode().Perm()); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
		}
	}

	tracker.RecordAnalysis(len(files), []string{"python"}, "")
	tracker.RecordGeneration(0, total, removed, []string{opts.category})
	recordMemorySizes(ctx, app, tracker.RecordVectorDB)

	if _, err := app.analytics.EndRun(ctx, tracker); err != nil {
		return fmt.Errorf("record run analytics: %w", err)
	}

	fmt.Fprintf(out, "%d of %d tests kept\n", total-removed, total)

	return nil
}
