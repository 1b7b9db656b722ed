package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/internal/observability"
	"github.com/healforge/healer/internal/repository"
	"github.com/healforge/healer/internal/testrunner"
)

const defaultHealingReport = "reports/healing_analysis.json"

type healOptions struct {
	testReport  string
	appType     string
	projectRoot string
	output      string
	runID       string
}

func (c *cli) healCmd() *cobra.Command {
	var opts healOptions

	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Classify and heal the failing tests of a pytest JSON report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return runHeal(ctx, app, cmd.OutOrStdout(), opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.testReport, "report", "r", ".report.json", "pytest-json-report file with the failing run")
	cmd.Flags().StringVarP(&opts.appType, "app-type", "a", "rest_api", "Application type the tests target")
	cmd.Flags().StringVarP(&opts.projectRoot, "project-root", "p", ".", "Directory pytest node ids are relative to")
	cmd.Flags().StringVarP(&opts.output, "output", "o", defaultHealingReport, "Where to write the healing report")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Analytics run id (generated when empty)")

	return cmd
}

func runHeal(ctx context.Context, app *App, out io.Writer, opts healOptions) error {
	testReport, err := testrunner.LoadReport(opts.testReport)
	if err != nil {
		return fmt.Errorf("load test report: %w", err)
	}

	if err := app.openMemory(ctx); err != nil {
		return err
	}

	tracker := app.analytics.StartRun(ctx, opts.runID)
	ctx = observability.WithRunID(ctx, tracker.RunID())

	tracker.RecordAnalysis(0, []string{"python"}, opts.appType)
	tracker.RecordExecution(testReport.Summary.Passed, testReport.Summary.Failed, testReport.Summary.Skipped)

	failures := testReport.Failures()
	healing := models.NewHealingReport()

	if len(failures) > 0 {
		orchestrator, err := app.newOrchestrator(opts.projectRoot)
		if err != nil {
			return err
		}

		healing, err = orchestrator.HealAll(ctx, failures, opts.appType)
		if err != nil {
			return fmt.Errorf("heal: %w", err)
		}
	} else {
		slog.InfoContext(ctx, "heal: no failing tests in report", "report", opts.testReport)
	}

	healing.RunID = tracker.RunID()

	if _, err := app.gate.Decide(ctx, healing); err != nil {
		return err
	}

	if err := repository.NewHealingReportRepository(opts.output).Save(healing); err != nil {
		return err
	}

	tracker.RecordHealing(healing)
	recordMemorySizes(ctx, app, tracker.RecordVectorDB)

	if _, err := app.analytics.EndRun(ctx, tracker); err != nil {
		slog.WarnContext(ctx, "heal: cannot record run analytics", "error", err)
	}

	fmt.Fprintf(out, "healed: %d (from knowledge base: %d)\n", healing.HealedCount, healing.KBHealedCount)
	fmt.Fprintf(out, "actual defects: %d\n", healing.DefectCount)
	fmt.Fprintf(out, "max attempts exceeded: %d\n", healing.ExceededCount)
	fmt.Fprintf(out, "commit allowed: %t\n", healing.CommitAllowed)
	fmt.Fprintf(out, "report: %s\n", opts.output)

	return nil
}

// recordMemorySizes reports the record counts of the memories. Count failures leave zeros.
func recordMemorySizes(ctx context.Context, app *App, record func(kbPatterns, classifications, fileSnapshots int)) {
	stats, err := app.index.Stats(ctx)
	if err != nil {
		slog.WarnContext(ctx, "cannot read memory sizes", "error", err)

		return
	}

	counts := make(map[string]int, len(stats))
	for _, s := range stats {
		counts[s.Collection] = s.Count
	}

	record(
		counts[datatypes.CollectionHealingPatterns],
		counts[datatypes.CollectionClassifications],
		counts[datatypes.CollectionFileSnapshots],
	)
}

// errCommitBlocked is returned by the gate command so the process exits non-zero.
var errCommitBlocked = errors.New("commit blocked")

func (c *cli) gateCmd() *cobra.Command {
	var reportPath string

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Exit non-zero unless the last healing report is safe to commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return runGate(ctx, app, cmd.OutOrStdout(), reportPath)
			})
		},
	}

	cmd.Flags().StringVarP(&reportPath, "report", "r", defaultHealingReport, "Healing report to evaluate")

	return cmd
}

// runGate fails closed: a missing or inconsistent report blocks the commit.
func runGate(ctx context.Context, app *App, out io.Writer, reportPath string) error {
	report, err := repository.NewHealingReportRepository(reportPath).Load()
	if err != nil {
		return fmt.Errorf("%w: %w", errCommitBlocked, err)
	}

	allowed, err := app.gate.Decide(ctx, report)
	if err != nil {
		return fmt.Errorf("%w: %w", errCommitBlocked, err)
	}

	if !allowed {
		for _, rec := range report.MaxAttemptsExceeded {
			fmt.Fprintf(out, "unresolved: %s (%d attempts)\n", rec.TestID, rec.AttemptCount)
		}

		return fmt.Errorf("%w: %d test(s) exceeded healing attempts", errCommitBlocked, report.ExceededCount)
	}

	fmt.Fprintln(out, "commit allowed")

	return nil
}
