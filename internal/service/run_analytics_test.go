package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/internal/repository"
)

func TestRunAnalytics_lifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	analytics := NewRunAnalytics(repository.NewRunMetricsRepository(dir), 3, nil)

	for i := range 4 {
		tracker := analytics.StartRun(ctx, fmt.Sprintf("run-%d", i))
		tracker.RecordAnalysis(12, []string{"python"}, "rest_api")
		tracker.RecordGeneration(5, 10, 1, []string{"functional"})
		tracker.RecordExecution(8, 2, 0)
		tracker.RecordHealing(&models.HealingReport{TotalAttempts: 3, HealedCount: 2, KBHealedCount: 1, CacheHits: 1, CacheMisses: 1})
		tracker.RecordVectorDB(4, 6, 12)

		run, err := analytics.EndRun(ctx, tracker)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, run.DurationSeconds, 0.0)
	}

	runs, err := analytics.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3, "history is trimmed to the retention limit")
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, "run-3", runs[2].RunID)

	last, err := analytics.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "run-3", last[0].RunID)

	stats, err := analytics.AggregateStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRuns)
	assert.Equal(t, 30, stats.TotalTestsGenerated)
	assert.InDelta(t, 80.0, stats.AvgPassRate, 1e-9)
	assert.InDelta(t, 50.0, stats.KBHitRate, 1e-9)
	assert.InDelta(t, 50.0, stats.CacheHitRate, 1e-9)
	assert.Equal(t, "rest_api", stats.MostCommonAppType)

	exportPath := filepath.Join(dir, "export", "analytics.json")
	doc, err := analytics.Export(ctx, exportPath)
	require.NoError(t, err)
	assert.Len(t, doc.RecentRuns, 3)
	assert.FileExists(t, exportPath)

	require.NoError(t, analytics.Clear(ctx))

	runs, err = analytics.RecentRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunAnalytics_StartRun_generates_id(t *testing.T) {
	analytics := NewRunAnalytics(repository.NewRunMetricsRepository(t.TempDir()), 0, nil)

	a := analytics.StartRun(context.Background(), "")
	b := analytics.StartRun(context.Background(), "")

	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestRunAnalytics_corrupt_history(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runs.json"), []byte("[{"), 0o600))

	analytics := NewRunAnalytics(repository.NewRunMetricsRepository(dir), 10, nil)

	_, err := analytics.RecentRuns(context.Background(), 0)
	require.Error(t, err)
}

func TestComputeAggregateStats(t *testing.T) {
	t.Run("no runs", func(t *testing.T) {
		stats := ComputeAggregateStats(nil)
		assert.Zero(t, stats.TotalRuns)
		assert.Zero(t, stats.AvgPassRate)
		assert.NotNil(t, stats.MostCommonLanguages)
	})

	t.Run("languages ranked by frequency", func(t *testing.T) {
		stats := ComputeAggregateStats([]models.RunMetrics{
			{LanguagesDetected: []string{"python", "go"}, AppType: "graphql"},
			{LanguagesDetected: []string{"python", "typescript", "rust"}, AppType: "rest_api"},
			{LanguagesDetected: []string{"go", "python"}, AppType: "rest_api"},
		})

		assert.Equal(t, []string{"python", "go", "rust"}, stats.MostCommonLanguages)
		assert.Equal(t, "rest_api", stats.MostCommonAppType)
		assert.Zero(t, stats.HealingSuccessRate, "no attempts means a zero rate")
	})
}

func TestComputeInsights(t *testing.T) {
	t.Run("improving pass rate", func(t *testing.T) {
		insights := ComputeInsights([]models.RunMetrics{
			{TestsPassed: 3, TestsFailed: 7},
			{TestsPassed: 9, TestsFailed: 1},
		})

		assert.Equal(t, "↑ 60.0%", insights.Trends["pass_rate"])
		assert.Contains(t, insights.Recommendations, RecommendLowPassRate)
	})

	t.Run("flat trend", func(t *testing.T) {
		insights := ComputeInsights([]models.RunMetrics{
			{TestsPassed: 9, TestsFailed: 1},
			{TestsPassed: 9, TestsFailed: 1},
		})

		assert.Equal(t, "→ 0.0%", insights.Trends["pass_rate"])
		assert.Empty(t, insights.Recommendations)
	})

	t.Run("nothing executed", func(t *testing.T) {
		insights := ComputeInsights([]models.RunMetrics{{TestsGenerated: 4}})

		assert.Empty(t, insights.Trends)
		assert.NotContains(t, insights.Recommendations, RecommendLowPassRate)
	})

	t.Run("knowledge base still learning and many defects", func(t *testing.T) {
		insights := ComputeInsights([]models.RunMetrics{
			{TestsPassed: 90, TestsFailed: 10, HealingAttempts: 20, HealedSuccessfully: 11, HealedFromKB: 1, ActualDefects: 12},
		})

		assert.Equal(t, []string{RecommendKBLearning, RecommendManyDefects}, insights.Recommendations)
	})
}
