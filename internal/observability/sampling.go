package observability

import (
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sampler names accepted in OTEL_TRACES_SAMPLER.
const (
	SamplerAlwaysOn                = "always_on"
	SamplerAlwaysOff               = "always_off"
	SamplerTraceIDRatio            = "traceidratio"
	SamplerParentBasedTraceIDRatio = "parentbased_traceidratio"
	SamplerParentBasedAlwaysOn     = "parentbased_always_on"
	SamplerParentBasedAlwaysOff    = "parentbased_always_off"
)

// newSampler maps a sampler name and ratio to a Sampler. A healing run is one trace rooted at
// healing.run, so ratio sampling keeps or drops whole runs. Empty or unknown names fall back to
// parentbased_always_on. The ratio is validated by config and only read by the ratio samplers.
func newSampler(name string, ratio float64) sdktrace.Sampler {
	switch name {
	case SamplerAlwaysOn:
		return sdktrace.AlwaysSample()
	case SamplerAlwaysOff:
		return sdktrace.NeverSample()
	case SamplerTraceIDRatio:
		return sdktrace.TraceIDRatioBased(ratio)
	case SamplerParentBasedTraceIDRatio:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	case SamplerParentBasedAlwaysOff:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "", SamplerParentBasedAlwaysOn:
	default:
		slog.Warn("tracing: unknown sampler, using parentbased_always_on", "sampler", name)
	}

	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}
