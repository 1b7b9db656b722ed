package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (c *cli) analyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Report on the retained run history",
	}

	var statsLast, runsLast int

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate statistics over the last runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				stats, err := app.analytics.AggregateStats(ctx, statsLast)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	statsCmd.Flags().IntVarP(&statsLast, "last", "n", 0, "Only the last n runs (all retained runs when 0)")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				runs, err := app.analytics.RecentRuns(ctx, runsLast)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	runsCmd.Flags().IntVarP(&runsLast, "last", "n", 10, "Number of runs (all retained runs when 0)")

	insightsCmd := &cobra.Command{
		Use:   "insights",
		Short: "Pass-rate trend and recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return runInsights(ctx, app, cmd.OutOrStdout())
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Write insights and recent runs to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				if _, err := app.analytics.Export(ctx, args[0]); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", args[0])

				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop the run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return app.analytics.Clear(ctx)
			})
		},
	}

	cmd.AddCommand(statsCmd, runsCmd, insightsCmd, exportCmd, clearCmd)

	return cmd
}

func runInsights(ctx context.Context, app *App, out io.Writer) error {
	insights, err := app.analytics.Insights(ctx)
	if err != nil {
		return err
	}

	s := insights.Stats
	fmt.Fprintf(out, "runs: %d\n", s.TotalRuns)
	fmt.Fprintf(out, "average pass rate: %.1f%%\n", s.AvgPassRate)
	fmt.Fprintf(out, "healing success rate: %.1f%%\n", s.HealingSuccessRate)
	fmt.Fprintf(out, "knowledge base hit rate: %.1f%%\n", s.KBHitRate)
	fmt.Fprintf(out, "classification cache hit rate: %.1f%%\n", s.CacheHitRate)

	if trend, ok := insights.Trends["pass_rate"]; ok {
		fmt.Fprintf(out, "pass rate trend: %s\n", trend)
	}

	for _, r := range insights.Recommendations {
		fmt.Fprintf(out, "- %s\n", r)
	}

	return nil
}
