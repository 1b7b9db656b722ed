package testrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

const (
	// DefaultTimeout bounds a single test execution.
	DefaultTimeout = 60 * time.Second
	defaultBin     = "python"
	waitDelay      = 2 * time.Second
	maxStderr      = 4000
)

// PytestRunnerParams configures a PytestRunner.
type PytestRunnerParams struct {
	// Bin is the Python interpreter; pytest runs as "<Bin> -m pytest". Defaults to "python".
	Bin         string
	ProjectRoot string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// PytestRunner runs one pytest node id at a time with the pytest-json-report plugin.
type PytestRunner struct {
	bin     string
	root    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewPytestRunner creates a PytestRunner.
func NewPytestRunner(params PytestRunnerParams) *PytestRunner {
	r := &PytestRunner{
		bin:     params.Bin,
		root:    params.ProjectRoot,
		timeout: params.Timeout,
		logger:  params.Logger,
	}

	if r.bin == "" {
		r.bin = defaultBin
	}

	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// RunSingle executes testID. Test failures and timeouts are reported in the result;
// an error means pytest could not be started or ctx was cancelled.
func (r *PytestRunner) RunSingle(ctx context.Context, testID string) (models.TestRunResult, error) {
	result := models.TestRunResult{TestID: testID}

	reportFile, err := os.CreateTemp("", "healer-pytest-*.json")
	if err != nil {
		return result, fmt.Errorf("create report file: %w", err)
	}

	reportPath := reportFile.Name()
	_ = reportFile.Close()

	defer func() { _ = os.Remove(reportPath) }()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	//nolint:gosec // the interpreter and node id come from the operator's config and test report
	cmd := exec.CommandContext(runCtx, r.bin, "-m", "pytest", testID,
		"--json-report", "--json-report-file="+reportPath, "--tb=short", "-q")
	cmd.Dir = r.root
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Seconds()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		timeoutErr := healerrors.NewRunnerTimeoutError(testID, int(r.timeout.Seconds()))
		r.logger.WarnContext(ctx, "runner: test timed out", "test_id", testID, "timeout", r.timeout)

		result.Error = timeoutErr.Error()
		result.Duration = r.timeout.Seconds()
		result.TimedOut = true

		return result, nil
	}

	if report, err := LoadReport(reportPath); err == nil && len(report.Tests) > 0 {
		t := report.Tests[0]
		result.Passed = t.Outcome == OutcomePassed
		result.Duration = t.Duration()

		if !result.Passed {
			result.Error = t.ErrorText()
		}

		return result, nil
	} else if err != nil && !errors.Is(err, healerrors.ErrNotFound) {
		r.logger.DebugContext(ctx, "runner: unreadable report, falling back to exit status",
			"test_id", testID, "error", err)
	}

	result.Duration = elapsed

	var exitErr *exec.ExitError

	switch {
	case runErr == nil:
		result.Passed = true
	case errors.As(runErr, &exitErr):
		result.Error = outputTail(stderr.String(), stdout.String())
	default:
		return result, fmt.Errorf("run pytest for %s: %w", testID, runErr)
	}

	return result, nil
}

func outputTail(stderr, stdout string) string {
	out := strings.TrimSpace(stderr)
	if out == "" {
		out = strings.TrimSpace(stdout)
	}

	if len(out) > maxStderr {
		out = out[len(out)-maxStderr:]
	}

	return out
}
