package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/healforge/healer/internal/datatypes"
)

func (c *cli) memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or reset the similarity memories and snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show record counts per collection and snapshot history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return runMemoryStats(ctx, app, cmd.OutOrStdout())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [collection]...",
		Short: "Delete every record of the named collections, or of all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return runMemoryClear(ctx, app, cmd.OutOrStdout(), args)
			})
		},
	})

	return cmd
}

func runMemoryStats(ctx context.Context, app *App, out io.Writer) error {
	if err := app.openMemory(ctx); err != nil {
		return err
	}

	stats, err := app.index.Stats(ctx)
	if err != nil {
		return err
	}

	snapshots, err := app.detector.Stats(ctx)
	if err != nil {
		return err
	}

	return printJSON(out, map[string]any{
		"collections": stats,
		"snapshots":   snapshots,
	})
}

// runMemoryClear clears collections. Clearing file snapshots also drops the snapshot history.
func runMemoryClear(ctx context.Context, app *App, out io.Writer, collections []string) error {
	if len(collections) == 0 {
		collections = datatypes.GetAllCollections()
	}

	for _, name := range collections {
		if !datatypes.IsValidCollection(name) {
			return fmt.Errorf("unknown collection %q (want one of %v)", name, datatypes.GetAllCollections())
		}
	}

	if err := app.openMemory(ctx); err != nil {
		return err
	}

	for _, name := range collections {
		if name == datatypes.CollectionFileSnapshots {
			if err := app.detector.Clear(ctx); err != nil {
				return err
			}
		} else if err := app.index.Clear(ctx, name); err != nil {
			return err
		}

		fmt.Fprintf(out, "cleared %s\n", name)
	}

	return nil
}
