package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/internal/observability"
)

// CommitAllowed is the commit gate: results may be committed only when no test exceeded its
// healing attempts. Defects are reported outcomes and do not block.
func CommitAllowed(report *models.HealingReport) bool {
	return report.ExceededCount == 0
}

// CommitGate applies CommitAllowed to stored reports, logging and counting the decision.
type CommitGate struct {
	metrics observability.HealingMetrics
	logger  *slog.Logger
}

// NewCommitGate creates a CommitGate. metrics and logger may be nil.
func NewCommitGate(metrics observability.HealingMetrics, logger *slog.Logger) *CommitGate {
	if logger == nil {
		logger = slog.Default()
	}

	return &CommitGate{metrics: metrics, logger: logger}
}

// Decide returns whether report allows a commit. A nil report or one whose counts disagree with
// its lists blocks the commit and is returned as a ConfigInconsistencyError.
func (g *CommitGate) Decide(ctx context.Context, report *models.HealingReport) (bool, error) {
	allowed, err := g.decide(report)

	if g.metrics != nil {
		g.metrics.RecordGateDecision(ctx, allowed)
	}

	switch {
	case err != nil:
		g.logger.ErrorContext(ctx, "gate: commit blocked, report is inconsistent", "error", err)
	case allowed:
		g.logger.InfoContext(ctx, "gate: commit allowed",
			"healed", report.HealedCount, "defects", report.DefectCount)
	default:
		g.logger.WarnContext(ctx, "gate: commit blocked, tests exceeded healing attempts",
			"exceeded", report.ExceededCount)

		for _, rec := range report.MaxAttemptsExceeded {
			g.logger.WarnContext(ctx, "gate: unresolved test",
				"test_id", rec.TestID, "attempts", rec.AttemptCount, "last_error", rec.LastError)
		}
	}

	return allowed, err
}

func (g *CommitGate) decide(report *models.HealingReport) (bool, error) {
	if report == nil {
		return false, healerrors.NewConfigInconsistencyError("no healing report")
	}

	if report.ExceededCount != len(report.MaxAttemptsExceeded) {
		return false, healerrors.NewConfigInconsistencyError(fmt.Sprintf(
			"exceeded_count %d but %d exceeded tests listed", report.ExceededCount, len(report.MaxAttemptsExceeded)))
	}

	return CommitAllowed(report), nil
}
