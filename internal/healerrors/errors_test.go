package healerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_matchesCategoryThroughWrapping(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", NewNotFoundError("snapshot", ""), ErrNotFound},
		{"validation", NewValidationError("test_id", "empty"), ErrValidation},
		{"embedding", NewEmbeddingUnavailableError("ollama", cause), ErrEmbeddingUnavailable},
		{"index io", NewIndexIOError("query", "healing_patterns", cause), ErrIndexIO},
		{"reasoner", NewReasonerError("heal", true, cause), ErrReasoner},
		{"runner timeout", NewRunnerTimeoutError("tests/test_api.py::test_a", 60), ErrRunnerTimeout},
		{"config", NewConfigInconsistencyError("threshold above one"), ErrConfigInconsistency},
	}

	all := make([]error, 0, len(tests))
	for _, tt := range tests {
		all = append(all, tt.sentinel)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("heal run: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)

			for _, other := range all {
				if other != tt.sentinel {
					assert.NotErrorIs(t, wrapped, other)
				}
			}
		})
	}
}

func TestUnwrap_keepsCause(t *testing.T) {
	assert.ErrorIs(t, NewReasonerError("classify", true, context.DeadlineExceeded), context.DeadlineExceeded)
	assert.ErrorIs(t, NewIndexIOError("upsert", "", context.Canceled), context.Canceled)
	assert.ErrorIs(t, NewEmbeddingUnavailableError("", context.Canceled), context.Canceled)
}

func TestError_messages(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		err  error
		want string
	}{
		{&NotFoundError{}, "record not found"},
		{NewNotFoundError("healing report", ""), "healing report not found"},
		{NewNotFoundError("snapshot", "snapshot latest not found"), "snapshot latest not found"},
		{&ValidationError{}, "validation error"},
		{NewValidationError("app_type", ""), "validation failed for field: app_type"},
		{NewEmbeddingUnavailableError("openai", cause), "embedding model unavailable (openai): boom"},
		{NewEmbeddingUnavailableError("", nil), "embedding model unavailable"},
		{NewIndexIOError("query", "classifications", cause), "index query classifications: boom"},
		{NewReasonerError("heal", false, cause), "reasoner heal failed: boom"},
		{NewRunnerTimeoutError("t", 60), "Test execution timed out after 60 seconds"},
		{&ConfigInconsistencyError{}, "config inconsistency"},
		{NewConfigInconsistencyError("bad"), "config inconsistency: bad"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
