package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/config"
)

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name    string
		sampler string
		ratio   float64
		want    string
	}{
		{"always on", SamplerAlwaysOn, 0, "AlwaysOnSampler"},
		{"always off", SamplerAlwaysOff, 0, "AlwaysOffSampler"},
		{"ratio", SamplerTraceIDRatio, 0.25, "TraceIDRatioBased{0.25}"},
		{"parent based ratio", SamplerParentBasedTraceIDRatio, 0.5, "ParentBased{root:TraceIDRatioBased{0.5}"},
		{"parent based off", SamplerParentBasedAlwaysOff, 0, "ParentBased{root:AlwaysOffSampler"},
		{"empty", "", 0, "ParentBased{root:AlwaysOnSampler"},
		{"unknown", "jaeger_remote", 0, "ParentBased{root:AlwaysOnSampler"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, newSampler(tt.sampler, tt.ratio).Description(), tt.want)
		})
	}
}

func TestNewTracerProvider_disabled(t *testing.T) {
	tp, err := NewTracerProvider(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, tp)

	tp, err = NewTracerProvider(&config.Config{TracesExporter: "zipkin"})
	require.NoError(t, err)
	assert.Nil(t, tp)
}
