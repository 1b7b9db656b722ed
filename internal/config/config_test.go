package config

import (
	"errors"
	"testing"
	"time"

	"github.com/healforge/healer/internal/healerrors"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		shouldSet    bool
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			shouldSet:    true,
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "TEST_VAR_MISSING",
			defaultValue: "default",
			envValue:     "",
			shouldSet:    false,
			want:         "default",
		},
		{
			name:         "returns default when environment variable is empty string",
			key:          "TEST_VAR_EMPTY",
			defaultValue: "default",
			envValue:     "",
			shouldSet:    true,
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		shouldSet    bool
		want         int
	}{
		{
			name:         "returns environment variable as int when set with valid integer",
			key:          "TEST_INT_VAR",
			defaultValue: 100,
			envValue:     "200",
			shouldSet:    true,
			want:         200,
		},
		{
			name:         "returns default when environment variable not set",
			key:          "TEST_INT_VAR_MISSING",
			defaultValue: 100,
			envValue:     "",
			shouldSet:    false,
			want:         100,
		},
		{
			name:         "returns default when environment variable is empty string",
			key:          "TEST_INT_VAR_EMPTY",
			defaultValue: 100,
			envValue:     "",
			shouldSet:    true,
			want:         100,
		},
		{
			name:         "returns default when environment variable is not a valid integer",
			key:          "TEST_INT_VAR_INVALID",
			defaultValue: 100,
			envValue:     "not_a_number",
			shouldSet:    true,
			want:         100,
		},
		{
			name:         "handles negative integers",
			key:          "TEST_INT_VAR_NEGATIVE",
			defaultValue: 100,
			envValue:     "-50",
			shouldSet:    true,
			want:         -50,
		},
		{
			name:         "handles zero",
			key:          "TEST_INT_VAR_ZERO",
			defaultValue: 100,
			envValue:     "0",
			shouldSet:    true,
			want:         0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT_OK", "0.75")
	t.Setenv("TEST_FLOAT_BAD", "high")

	if got := getEnvAsFloat("TEST_FLOAT_OK", 0.5); got != 0.75 {
		t.Errorf("getEnvAsFloat() = %v, want 0.75", got)
	}
	if got := getEnvAsFloat("TEST_FLOAT_BAD", 0.5); got != 0.5 {
		t.Errorf("getEnvAsFloat() = %v, want default 0.5", got)
	}
	if got := getEnvAsFloat("TEST_FLOAT_MISSING", 0.5); got != 0.5 {
		t.Errorf("getEnvAsFloat() = %v, want default 0.5", got)
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"go duration", "90s", 90 * time.Second},
		{"bare seconds", "45", 45 * time.Second},
		{"fractional seconds", "0.5", 500 * time.Millisecond},
		{"invalid falls back", "soon", time.Minute},
		{"empty falls back", "", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)

			if got := getEnvAsDuration("TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.VectorBackend != BackendSQLite {
		t.Errorf("VectorBackend = %q, want %q", cfg.VectorBackend, BackendSQLite)
	}
	if cfg.EmbeddingProvider != EmbeddingLocal {
		t.Errorf("EmbeddingProvider = %q, want %q", cfg.EmbeddingProvider, EmbeddingLocal)
	}
	if cfg.MaxHealingAttempts != 3 {
		t.Errorf("MaxHealingAttempts = %d, want 3", cfg.MaxHealingAttempts)
	}
	if cfg.TestTimeout != 60*time.Second {
		t.Errorf("TestTimeout = %v, want 60s", cfg.TestTimeout)
	}
	if cfg.Thresholds != DefaultThresholds() {
		t.Errorf("Thresholds = %+v, want defaults", cfg.Thresholds)
	}
	if cfg.AnalyticsMaxRuns != 100 {
		t.Errorf("AnalyticsMaxRuns = %d, want 100", cfg.AnalyticsMaxRuns)
	}
}

func TestLoad_ReasonerKeyFallsBackToOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReasonerAPIKey != "sk-fallback" {
		t.Errorf("ReasonerAPIKey = %q, want sk-fallback", cfg.ReasonerAPIKey)
	}

	t.Setenv("REASONER_API_KEY", "sk-explicit")

	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReasonerAPIKey != "sk-explicit" {
		t.Errorf("ReasonerAPIKey = %q, want sk-explicit", cfg.ReasonerAPIKey)
	}
}

func TestLoad_ThresholdsFailClosed(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"above one", "HEALING_THRESHOLD", "1.2"},
		{"negative", "DEDUP_THRESHOLD", "-0.1"},
		{"consolidation below classification", "CONSOLIDATION_THRESHOLD", "0.9"},
		{"zero top k", "DEDUP_TOP_K", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if !errors.Is(err, healerrors.ErrConfigInconsistency) {
				t.Errorf("Load() error = %v, want ConfigInconsistencyError", err)
			}
		})
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero workers", map[string]string{"MAX_PARALLEL_WORKERS": "0"}},
		{"zero attempts", map[string]string{"MAX_HEALING_ATTEMPTS": "0"}},
		{"unknown backend", map[string]string{"VECTOR_BACKEND": "redis"}},
		{"unknown embedding provider", map[string]string{"EMBEDDING_PROVIDER": "word2vec"}},
		{"hosted embeddings need a key", map[string]string{"EMBEDDING_PROVIDER": "openai"}},
		{"max wait below min wait", map[string]string{"RETRY_MIN_WAIT": "10s", "RETRY_MAX_WAIT": "1s"}},
		{"negative max conns", map[string]string{"DATABASE_MAX_CONNS": "-1"}},
		{"sampler ratio above one", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := Load(); err == nil {
				t.Error("Load() error = nil, want validation error")
			}
		})
	}
}
