package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Classification
		wantErr bool
	}{
		{"exact test error", "TEST_ERROR", TestError, false},
		{"exact defect", "ACTUAL_DEFECT", ActualDefect, false},
		{"lower case with spaces", "  actual_defect ", ActualDefect, false},
		{"unknown", "FLAKY", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassification(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidClassification)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConfidence(t *testing.T) {
	got, err := ParseConfidence("HIGH")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, got)

	_, err = ParseConfidence("certain")
	assert.ErrorIs(t, err, ErrInvalidConfidence)
}

func TestHealingStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())

	for _, s := range GetAllHealingStatuses() {
		assert.True(t, HealingStatus(s).IsTerminal(), s)
	}
}
