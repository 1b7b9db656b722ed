package models

import (
	"time"
)

// RunMetrics holds the counters collected during one run.
type RunMetrics struct {
	RunID           string    `json:"run_id"`
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"duration_seconds"`

	FilesAnalyzed     int      `json:"files_analyzed"`
	LanguagesDetected []string `json:"languages_detected"`
	AppType           string   `json:"app_type"`

	ScenariosGenerated int      `json:"scenarios_generated"`
	TestsGenerated     int      `json:"tests_generated"`
	TestsDeduplicated  int      `json:"tests_deduplicated"`
	Categories         []string `json:"categories"`

	TestsPassed  int `json:"tests_passed"`
	TestsFailed  int `json:"tests_failed"`
	TestsSkipped int `json:"tests_skipped"`

	HealingAttempts     int `json:"healing_attempts"`
	HealedSuccessfully  int `json:"healed_successfully"`
	HealedFromKB        int `json:"healed_from_kb"`
	ActualDefects       int `json:"actual_defects"`
	MaxAttemptsExceeded int `json:"max_attempts_exceeded"`

	KBPatternsStored      int `json:"kb_patterns_stored"`
	ClassificationsCached int `json:"classifications_cached"`
	FileSnapshotsIndexed  int `json:"file_snapshots_indexed"`
	CacheHits             int `json:"cache_hits"`
	CacheMisses           int `json:"cache_misses"`
}

// AggregateStats are rolling totals and rates over the retained runs. Rates are percentages.
type AggregateStats struct {
	TotalRuns            int      `json:"total_runs"`
	TotalTestsGenerated  int      `json:"total_tests_generated"`
	TotalTestsPassed     int      `json:"total_tests_passed"`
	TotalTestsFailed     int      `json:"total_tests_failed"`
	TotalHealingAttempts int      `json:"total_healing_attempts"`
	TotalHealed          int      `json:"total_healed"`
	TotalHealedFromKB    int      `json:"total_healed_from_kb"`
	TotalActualDefects   int      `json:"total_actual_defects"`
	AvgTestsPerRun       float64  `json:"avg_tests_per_run"`
	AvgPassRate          float64  `json:"avg_pass_rate"`
	HealingSuccessRate   float64  `json:"avg_healing_success_rate"`
	KBHitRate            float64  `json:"kb_hit_rate"`
	CacheHitRate         float64  `json:"cache_hit_rate"`
	MostCommonAppType    string   `json:"most_common_app_type"`
	MostCommonLanguages  []string `json:"most_common_languages"`
}

// Insights is the human-facing digest of the aggregate stats.
type Insights struct {
	Stats           AggregateStats    `json:"stats"`
	Trends          map[string]string `json:"trends"`
	Recommendations []string          `json:"recommendations"`
}

// AnalyticsExport is the document written by an analytics export.
type AnalyticsExport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Insights    Insights     `json:"insights"`
	RecentRuns  []RunMetrics `json:"recent_runs"`
}
