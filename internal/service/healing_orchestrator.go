package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/internal/observability"
)

const (
	defaultMaxAttempts = 3
	noErrorOutput      = "test failed without error output"
)

// TestRunner executes a single test. A timed out run is a failed result, not an error.
// Implemented by testrunner.PytestRunner.
type TestRunner interface {
	RunSingle(ctx context.Context, testID string) (models.TestRunResult, error)
}

// TestSource reads and replaces the source of a test. Implemented by testrunner.FileSource.
type TestSource interface {
	Read(ctx context.Context, testID string) (string, error)
	Write(ctx context.Context, testID, code string) error
}

// ClassificationMemory is the classification cache as seen by the orchestrator.
type ClassificationMemory interface {
	Lookup(ctx context.Context, errorText, code, appType string) (models.ClassificationResult, bool)
	Record(ctx context.Context, errorText, code, appType string, result models.ClassificationResult) (string, error)
}

// HealingMemory is the healing knowledge base as seen by the orchestrator.
type HealingMemory interface {
	Lookup(ctx context.Context, errorText, code, appType string) (models.HealingMatch, bool)
	Record(ctx context.Context, o HealingOutcome) (string, error)
}

// HealingOrchestratorParams configures a HealingOrchestrator. Reasoner, Runner and Source are
// required; Cache, KB, Metrics and Logger may be nil.
type HealingOrchestratorParams struct {
	Reasoner    Reasoner
	Runner      TestRunner
	Source      TestSource
	Cache       ClassificationMemory
	KB          HealingMemory
	MaxAttempts int
	Workers     int
	Metrics     observability.HealingMetrics
	Logger      *slog.Logger
}

// HealingOrchestrator drives failing tests to a terminal status: classify, consult memory,
// heal, rerun, reclassify, at most MaxAttempts times per test. Test files are healed in parallel on
// a bounded worker pool; failures that share a file are healed one after another.
type HealingOrchestrator struct {
	reasoner    Reasoner
	runner      TestRunner
	source      TestSource
	cache       ClassificationMemory
	kb          HealingMemory
	maxAttempts int
	workers     int
	metrics     observability.HealingMetrics
	logger      *slog.Logger
}

// NewHealingOrchestrator creates a HealingOrchestrator.
func NewHealingOrchestrator(p HealingOrchestratorParams) (*HealingOrchestrator, error) {
	switch {
	case p.Reasoner == nil:
		return nil, healerrors.NewValidationError("reasoner", "is required")
	case p.Runner == nil:
		return nil, healerrors.NewValidationError("runner", "is required")
	case p.Source == nil:
		return nil, healerrors.NewValidationError("source", "is required")
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}

	if p.Workers <= 0 {
		p.Workers = 1
	}

	return &HealingOrchestrator{
		reasoner:    p.Reasoner,
		runner:      p.Runner,
		source:      p.Source,
		cache:       p.Cache,
		kb:          p.KB,
		maxAttempts: p.MaxAttempts,
		workers:     p.Workers,
		metrics:     p.Metrics,
		logger:      logger,
	}, nil
}

// loopStats are the per-test counters folded into the report.
type loopStats struct {
	cacheHits   int
	cacheMisses int
	writeErrors int
}

// HealAll heals every failure and returns the aggregate report. Each failure appears in the report
// exactly once with a terminal status. An error is returned only when ctx ends before every
// test reached one.
func (o *HealingOrchestrator) HealAll(
	ctx context.Context, failures []models.TestFailure, appType string,
) (*models.HealingReport, error) {
	ctx, span := observability.Tracer().Start(ctx, "healing.run",
		trace.WithAttributes(attribute.Int("healing.failures", len(failures))))
	defer span.End()

	records := make([]models.HealingAttemptRecord, len(failures))
	stats := make([]loopStats, len(failures))

	var g errgroup.Group

	g.SetLimit(o.workers)

	for _, group := range groupByFile(failures) {
		g.Go(func() error {
			for _, i := range group {
				records[i], stats[i] = o.heal(ctx, failures[i], appType)
			}

			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := BuildHealingReport(records)
	for _, st := range stats {
		report.CacheHits += st.cacheHits
		report.CacheMisses += st.cacheMisses
		report.MemoryWriteErrors += st.writeErrors
	}

	o.logger.InfoContext(ctx, "healing: run finished",
		"healed", report.HealedCount,
		"defects", report.DefectCount,
		"exceeded", report.ExceededCount,
		"from_kb", report.KBHealedCount,
		"commit_allowed", report.CommitAllowed,
	)

	return report, nil
}

// groupByFile returns the indexes of failures grouped by test file, in order of first appearance.
// Fixes rewrite the whole file, so a file is only ever healed by one worker.
func groupByFile(failures []models.TestFailure) [][]int {
	var (
		groups [][]int
		byFile = make(map[string]int)
	)

	for i, f := range failures {
		file, _, _ := strings.Cut(f.TestID, "::")

		g, ok := byFile[file]
		if !ok {
			g = len(groups)
			byFile[file] = g
			groups = append(groups, nil)
		}

		groups[g] = append(groups[g], i)
	}

	return groups
}

// Heal drives one failing test to a terminal status.
func (o *HealingOrchestrator) Heal(ctx context.Context, f models.TestFailure, appType string) models.HealingAttemptRecord {
	rec, _ := o.heal(ctx, f, appType)

	return rec
}

//nolint:cyclop,funlen // the convergence loop reads best as one function
func (o *HealingOrchestrator) heal(
	ctx context.Context, f models.TestFailure, appType string,
) (models.HealingAttemptRecord, loopStats) {
	ctx, span := observability.Tracer().Start(ctx, "healing.test",
		trace.WithAttributes(attribute.String("test.id", f.TestID)))
	defer span.End()

	rec := models.HealingAttemptRecord{
		TestID:                f.TestID,
		Status:                datatypes.StatusPending,
		ClassificationHistory: []models.ClassificationResult{},
		OriginalError:         f.Error,
	}

	var (
		st         loopStats
		verdict    *models.ClassificationResult
		lastFix    *HealingOutcome
		kbTried    bool
		name       = NodeTestName(f.TestID)
		file       = f.Code
		errText    = f.Error
		logger     = o.logger.With("test_id", f.TestID)
		setVerdict = func(v models.ClassificationResult) {
			rec.ClassificationHistory = append(rec.ClassificationHistory, v)
			rec.Reason = v.Reason
			rec.Confidence = v.Confidence
			verdict = &v
		}
	)

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		rec.AttemptCount = attempt

		// Earlier failures of the same file may have rewritten it.
		if f.Code == "" {
			file = o.read(ctx, f.TestID, file, logger)
		}

		block := TestBlockOf(file, name)

		if verdict == nil {
			v, err := o.classify(ctx, block, errText, appType, &st)
			if err != nil {
				rec.ReasonerFailures++
				logger.WarnContext(ctx, "healing: classification failed, attempt consumed",
					"attempt", attempt, "error", err)

				continue
			}

			setVerdict(v)
		}

		if verdict.Classification.IsDefect() {
			return o.finish(ctx, span, rec, datatypes.StatusDefect), st
		}

		fixed, healedBlock, fromKB, err := o.propose(ctx, file, block, name, errText, appType, !kbTried)
		kbTried = true

		if err != nil {
			rec.ReasonerFailures++
			logger.WarnContext(ctx, "healing: no fix produced, attempt consumed", "attempt", attempt, "error", err)

			continue
		}

		if err := o.source.Write(ctx, f.TestID, fixed); err != nil {
			logger.WarnContext(ctx, "healing: cannot apply fix, attempt consumed", "attempt", attempt, "error", err)

			continue
		}

		applied := HealingOutcome{ErrorText: errText, OriginalCode: block, HealedCode: healedBlock, AppType: appType}
		lastFix = &applied
		rec.FromKB = fromKB
		file = fixed
		block = healedBlock

		run := o.run(ctx, f.TestID)
		if run.Passed {
			applied.Success = true
			o.recordOutcome(ctx, applied, &st)

			logger.InfoContext(ctx, "healing: test healed", "attempt", attempt, "from_kb", fromKB)

			return o.finish(ctx, span, rec, datatypes.StatusHealed), st
		}

		errText = run.Error
		if strings.TrimSpace(errText) == "" {
			errText = noErrorOutput
		}

		rec.LastError = errText

		v, err := o.classify(ctx, block, errText, appType, &st)
		if err != nil {
			verdict = nil
			rec.ReasonerFailures++
			logger.WarnContext(ctx, "healing: reclassification failed", "attempt", attempt, "error", err)

			continue
		}

		setVerdict(v)

		if verdict.Classification.IsDefect() {
			logger.InfoContext(ctx, "healing: fix revealed an application defect", "attempt", attempt)

			return o.finish(ctx, span, rec, datatypes.StatusDefect), st
		}
	}

	if lastFix != nil {
		o.recordOutcome(ctx, *lastFix, &st)
	}

	return o.finish(ctx, span, rec, datatypes.StatusExceeded), st
}

// read returns the current source of the test's file, or prev when it cannot be read.
func (o *HealingOrchestrator) read(ctx context.Context, testID, prev string, logger *slog.Logger) string {
	src, err := o.source.Read(ctx, testID)
	if err != nil {
		logger.WarnContext(ctx, "healing: cannot read test source", "error", err)

		return prev
	}

	return src
}

// classify consults the classification cache and falls back to the Reasoner, caching its verdict.
func (o *HealingOrchestrator) classify(
	ctx context.Context, code, errText, appType string, st *loopStats,
) (models.ClassificationResult, error) {
	if o.cache != nil {
		if res, ok := o.cache.Lookup(ctx, errText, code, appType); ok {
			st.cacheHits++

			return res, nil
		}

		st.cacheMisses++
	}

	res, err := o.reasoner.Classify(ctx, code, errText)
	if err != nil {
		return models.ClassificationResult{}, err
	}

	if o.cache != nil && !res.Fallback {
		if _, err := o.cache.Record(ctx, errText, code, appType, res); err != nil {
			st.writeErrors++
			o.logger.WarnContext(ctx, "healing: failed to cache classification", "error", err)
		}
	}

	return res, nil
}

// propose returns the fixed test file and the fixed block of the failing test. The knowledge base
// is consulted first when tryKB is set; a stored pattern replaces only the failing test's block.
func (o *HealingOrchestrator) propose(
	ctx context.Context, file, block, name, errText, appType string, tryKB bool,
) (string, string, bool, error) {
	if tryKB && o.kb != nil {
		if m, ok := o.kb.Lookup(ctx, errText, block, appType); ok {
			healed := m.Pattern.HealedCode

			return ReplaceTestBlock(file, name, healed), healed, true, nil
		}
	}

	fixed, err := o.reasoner.Heal(ctx, file, errText, appType)
	if err != nil {
		return "", "", false, err
	}

	if strings.TrimSpace(fixed) == "" {
		return "", "", false, healerrors.NewReasonerError(opHeal, false, errors.New("empty healed code"))
	}

	return fixed, TestBlockOf(fixed, name), false, nil
}

// run executes the test; runner failures count as a failed execution.
func (o *HealingOrchestrator) run(ctx context.Context, testID string) models.TestRunResult {
	ctx, span := observability.Tracer().Start(ctx, "healing.run_test")
	defer span.End()

	start := time.Now()

	res, err := o.runner.RunSingle(ctx, testID)
	if err != nil {
		o.logger.WarnContext(ctx, "healing: test runner failed", "test_id", testID, "error", err)
		res = models.TestRunResult{TestID: testID, Passed: false, Error: err.Error()}
	}

	span.SetAttributes(attribute.Bool("test.passed", res.Passed), attribute.Bool("test.timed_out", res.TimedOut))

	if o.metrics != nil {
		o.metrics.RecordTestRun(ctx, res.Passed, time.Since(start))
	}

	return res
}

func (o *HealingOrchestrator) recordOutcome(ctx context.Context, outcome HealingOutcome, st *loopStats) {
	if o.kb == nil {
		return
	}

	if _, err := o.kb.Record(ctx, outcome); err != nil {
		st.writeErrors++
		o.logger.WarnContext(ctx, "healing: failed to record outcome", "success", outcome.Success, "error", err)
	}
}

func (o *HealingOrchestrator) finish(
	ctx context.Context, span trace.Span, rec models.HealingAttemptRecord, status datatypes.HealingStatus,
) models.HealingAttemptRecord {
	rec.Status = status
	if status != datatypes.StatusHealed {
		rec.FromKB = false
	}

	span.SetAttributes(
		attribute.String("healing.status", string(status)),
		attribute.Int("healing.attempts", rec.AttemptCount),
	)

	if o.metrics != nil {
		o.metrics.RecordOutcome(ctx, string(status), rec.AttemptCount, rec.FromKB)
	}

	o.logger.InfoContext(ctx, "healing: test finished",
		"test_id", rec.TestID, "status", status, "attempts", rec.AttemptCount)

	return rec
}

// BuildHealingReport summarizes terminal records into a report and applies the commit gate.
func BuildHealingReport(records []models.HealingAttemptRecord) *models.HealingReport {
	report := models.NewHealingReport()

	for _, rec := range records {
		report.TotalAttempts += rec.AttemptCount

		switch rec.Status {
		case datatypes.StatusHealed:
			report.SuccessfullyHealed = append(report.SuccessfullyHealed, rec)
			if rec.FromKB {
				report.KBHealedCount++
			}
		case datatypes.StatusDefect:
			report.ActualDefects = append(report.ActualDefects, rec)
		default:
			report.MaxAttemptsExceeded = append(report.MaxAttemptsExceeded, rec)
		}
	}

	report.HealedCount = len(report.SuccessfullyHealed)
	report.DefectCount = len(report.ActualDefects)
	report.ExceededCount = len(report.MaxAttemptsExceeded)
	report.CommitAllowed = CommitAllowed(report)

	return report
}
