package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healforge/healer/internal/models"
)

const (
	defaultMaxRuns     = 100
	trendWindow        = 5
	exportRecentRuns   = 10
	topLanguages       = 3
	lowPassRate        = 70.0
	lowKBHitRate       = 20.0
	kbLearningMinHeals = 10
	percent            = 100.0
)

// Recommendations emitted by Insights.
const (
	RecommendLowPassRate = "Pass rate is below 70%. Consider reviewing test generation prompts."
	RecommendKBLearning  = "KB hit rate is low. The healing knowledge base is still learning."
	RecommendManyDefects = "More defects than healed tests. Application may have significant issues."
)

// RunStore persists the retained run history. Implemented by repository.RunMetricsRepository.
type RunStore interface {
	Load() ([]models.RunMetrics, error)
	Save(runs []models.RunMetrics) error
	Export(path string, doc models.AnalyticsExport) error
}

// RunAnalytics keeps the metrics of the last runs and derives rolling statistics from them.
// It only observes runs and never feeds back into healing.
type RunAnalytics struct {
	store   RunStore
	maxRuns int
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewRunAnalytics creates RunAnalytics retaining at most maxRuns runs.
func NewRunAnalytics(store RunStore, maxRuns int, logger *slog.Logger) *RunAnalytics {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &RunAnalytics{store: store, maxRuns: maxRuns, logger: logger}
}

// RunTracker accumulates the metrics of one run. Safe for concurrent use.
type RunTracker struct {
	mu      sync.Mutex
	start   time.Time
	metrics models.RunMetrics
}

// StartRun begins tracking a run. An empty runID gets a time-ordered UUID.
func (a *RunAnalytics) StartRun(ctx context.Context, runID string) *RunTracker {
	if runID == "" {
		runID = uuid.Must(uuid.NewV7()).String()
	}

	now := time.Now().UTC()

	a.logger.InfoContext(ctx, "analytics: run started", "run_id", runID)

	return &RunTracker{
		start: now,
		metrics: models.RunMetrics{
			RunID:             runID,
			Timestamp:         now,
			LanguagesDetected: []string{},
			Categories:        []string{},
		},
	}
}

// RunID returns the tracked run's id.
func (t *RunTracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.metrics.RunID
}

// RecordAnalysis records what the scanner saw.
func (t *RunTracker) RecordAnalysis(files int, languages []string, appType string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.FilesAnalyzed = files
	t.metrics.LanguagesDetected = slices.Clone(languages)
	t.metrics.AppType = appType
}

// RecordGeneration records test generation counts.
func (t *RunTracker) RecordGeneration(scenarios, tests, deduplicated int, categories []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.ScenariosGenerated = scenarios
	t.metrics.TestsGenerated = tests
	t.metrics.TestsDeduplicated = deduplicated
	t.metrics.Categories = slices.Clone(categories)
}

// RecordExecution records test execution counts.
func (t *RunTracker) RecordExecution(passed, failed, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TestsPassed = passed
	t.metrics.TestsFailed = failed
	t.metrics.TestsSkipped = skipped
}

// RecordHealing records the outcome of a healing run, including its classification cache counters.
func (t *RunTracker) RecordHealing(report *models.HealingReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.HealingAttempts = report.TotalAttempts
	t.metrics.HealedSuccessfully = report.HealedCount
	t.metrics.HealedFromKB = report.KBHealedCount
	t.metrics.ActualDefects = report.DefectCount
	t.metrics.MaxAttemptsExceeded = report.ExceededCount
	t.metrics.CacheHits = report.CacheHits
	t.metrics.CacheMisses = report.CacheMisses
}

// RecordVectorDB records the size of the similarity memories.
func (t *RunTracker) RecordVectorDB(kbPatterns, classifications, fileSnapshots int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.KBPatternsStored = kbPatterns
	t.metrics.ClassificationsCached = classifications
	t.metrics.FileSnapshotsIndexed = fileSnapshots
}

// Metrics returns a copy of the metrics collected so far.
func (t *RunTracker) Metrics() models.RunMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.metrics
}

// EndRun stamps the run duration, appends it to the history and trims the history to the
// retention limit.
func (a *RunAnalytics) EndRun(ctx context.Context, t *RunTracker) (models.RunMetrics, error) {
	t.mu.Lock()
	t.metrics.DurationSeconds = time.Since(t.start).Seconds()
	run := t.metrics
	t.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	runs, err := a.store.Load()
	if err != nil {
		return models.RunMetrics{}, err
	}

	runs = append(runs, run)
	if len(runs) > a.maxRuns {
		runs = runs[len(runs)-a.maxRuns:]
	}

	if err := a.store.Save(runs); err != nil {
		return models.RunMetrics{}, err
	}

	a.logger.InfoContext(ctx, "analytics: run completed", "run_id", run.RunID, "duration_seconds", run.DurationSeconds)

	return run, nil
}

// RecentRuns returns the last n runs, oldest first. n <= 0 returns all retained runs.
func (a *RunAnalytics) RecentRuns(_ context.Context, n int) ([]models.RunMetrics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	runs, err := a.store.Load()
	if err != nil {
		return nil, err
	}

	if n > 0 && len(runs) > n {
		runs = runs[len(runs)-n:]
	}

	if runs == nil {
		runs = []models.RunMetrics{}
	}

	return runs, nil
}

// AggregateStats computes rolling statistics over the last n runs (all retained runs when n <= 0).
func (a *RunAnalytics) AggregateStats(ctx context.Context, n int) (models.AggregateStats, error) {
	runs, err := a.RecentRuns(ctx, n)
	if err != nil {
		return models.AggregateStats{}, err
	}

	return ComputeAggregateStats(runs), nil
}

// ComputeAggregateStats sums runs and derives percentage rates: pass rate over executed tests,
// healing success rate over attempts, KB hit rate over healed tests and cache hit rate over
// lookups. A rate with a zero denominator is 0.
func ComputeAggregateStats(runs []models.RunMetrics) models.AggregateStats {
	stats := models.AggregateStats{TotalRuns: len(runs), MostCommonLanguages: []string{}}
	if len(runs) == 0 {
		return stats
	}

	var (
		cacheHits, cacheLookups int
		appTypes                = map[string]int{}
		languages               = map[string]int{}
	)

	for _, r := range runs {
		stats.TotalTestsGenerated += r.TestsGenerated
		stats.TotalTestsPassed += r.TestsPassed
		stats.TotalTestsFailed += r.TestsFailed
		stats.TotalHealingAttempts += r.HealingAttempts
		stats.TotalHealed += r.HealedSuccessfully
		stats.TotalHealedFromKB += r.HealedFromKB
		stats.TotalActualDefects += r.ActualDefects
		cacheHits += r.CacheHits
		cacheLookups += r.CacheHits + r.CacheMisses

		if r.AppType != "" {
			appTypes[r.AppType]++
		}

		for _, lang := range r.LanguagesDetected {
			languages[lang]++
		}
	}

	stats.AvgTestsPerRun = float64(stats.TotalTestsGenerated) / float64(len(runs))
	stats.AvgPassRate = rate(stats.TotalTestsPassed, stats.TotalTestsPassed+stats.TotalTestsFailed)
	stats.HealingSuccessRate = rate(stats.TotalHealed, stats.TotalHealingAttempts)
	stats.KBHitRate = rate(stats.TotalHealedFromKB, stats.TotalHealed)
	stats.CacheHitRate = rate(cacheHits, cacheLookups)

	if ranked := rankByCount(appTypes); len(ranked) > 0 {
		stats.MostCommonAppType = ranked[0]
	}

	ranked := rankByCount(languages)
	stats.MostCommonLanguages = ranked[:min(len(ranked), topLanguages)]

	return stats
}

// Insights digests the retained history: the pass-rate trend over the last runs and
// recommendations for low pass rates, a knowledge base that is not yet paying off, and runs
// that find more defects than they heal.
func (a *RunAnalytics) Insights(ctx context.Context) (models.Insights, error) {
	runs, err := a.RecentRuns(ctx, 0)
	if err != nil {
		return models.Insights{}, err
	}

	return ComputeInsights(runs), nil
}

// ComputeInsights is Insights over an explicit history.
func ComputeInsights(runs []models.RunMetrics) models.Insights {
	stats := ComputeAggregateStats(runs)
	insights := models.Insights{
		Stats:           stats,
		Trends:          map[string]string{},
		Recommendations: []string{},
	}

	recent := runs[max(0, len(runs)-trendWindow):]

	var passRates []float64

	for _, r := range recent {
		if executed := r.TestsPassed + r.TestsFailed; executed > 0 {
			passRates = append(passRates, rate(r.TestsPassed, executed))
		}
	}

	if len(passRates) >= 2 {
		insights.Trends["pass_rate"] = formatTrend(passRates[len(passRates)-1] - passRates[0])
	}

	if stats.TotalTestsPassed+stats.TotalTestsFailed > 0 && stats.AvgPassRate < lowPassRate {
		insights.Recommendations = append(insights.Recommendations, RecommendLowPassRate)
	}

	if stats.KBHitRate < lowKBHitRate && stats.TotalHealed > kbLearningMinHeals {
		insights.Recommendations = append(insights.Recommendations, RecommendKBLearning)
	}

	if stats.TotalActualDefects > stats.TotalHealed {
		insights.Recommendations = append(insights.Recommendations, RecommendManyDefects)
	}

	return insights
}

// Export writes the insights and the most recent runs to path.
func (a *RunAnalytics) Export(ctx context.Context, path string) (models.AnalyticsExport, error) {
	runs, err := a.RecentRuns(ctx, 0)
	if err != nil {
		return models.AnalyticsExport{}, err
	}

	doc := models.AnalyticsExport{
		GeneratedAt: time.Now().UTC(),
		Insights:    ComputeInsights(runs),
		RecentRuns:  runs[max(0, len(runs)-exportRecentRuns):],
	}

	if err := a.store.Export(path, doc); err != nil {
		return models.AnalyticsExport{}, err
	}

	a.logger.InfoContext(ctx, "analytics: report exported", "path", path)

	return doc, nil
}

// Clear drops the run history.
func (a *RunAnalytics) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Save(nil); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "analytics: history cleared")

	return nil
}

func rate(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}

	return float64(part) / float64(whole) * percent
}

func formatTrend(delta float64) string {
	arrow := "→"

	switch {
	case delta > 0:
		arrow = "↑"
	case delta < 0:
		arrow = "↓"
	}

	return fmt.Sprintf("%s %.1f%%", arrow, math.Abs(delta))
}

// rankByCount orders keys by descending count, ties by name.
func rankByCount(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}

	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}

		return cmp.Compare(a, b)
	})

	return keys
}
