// Package observe provides application-wide observability primitives for
// Sensoria: OpenTelemetry metrics, tracing, and structured logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via a standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sensoria metrics.
const meterName = "github.com/MrWong99/sensoria"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text latency per segment.
	TranscriptionDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// DescribeDuration tracks scene-description (vision model) latency.
	DescribeDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsDetected counts speech segments closed by the VAD. Use with
	// attribute: attribute.String("sense", ...)
	SegmentsDetected metric.Int64Counter

	// SignalsEmitted counts signals sent to the core. Use with attributes:
	//   attribute.String("sense", ...), attribute.String("type", ...)
	SignalsEmitted metric.Int64Counter

	// InterruptsDetected counts interrupt keywords heard. Use with
	// attribute: attribute.String("keyword", ...)
	InterruptsDetected metric.Int64Counter

	// HallucinationsFiltered counts transcriptions rejected by the
	// hallucination filter.
	HallucinationsFiltered metric.Int64Counter

	// FramesAnalyzed counts frames that passed the differencing gate. Use
	// with attribute: attribute.String("sense", ...)
	FramesAnalyzed metric.Int64Counter

	// FramesSkipped counts frames suppressed by the differencing gate. Use
	// with attribute: attribute.String("sense", ...)
	FramesSkipped metric.Int64Counter

	// ProviderErrors counts backend failures. Use with attribute:
	//   attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// PlaybackQueueDepth tracks clips waiting for the playback loop.
	PlaybackQueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for perception-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("sensoria.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("sensoria.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DescribeDuration, err = m.Float64Histogram("sensoria.vlm.duration",
		metric.WithDescription("Latency of scene description."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsDetected, err = m.Int64Counter("sensoria.vad.segments",
		metric.WithDescription("Total speech segments closed by the VAD, by sense."),
	); err != nil {
		return nil, err
	}
	if met.SignalsEmitted, err = m.Int64Counter("sensoria.signals.emitted",
		metric.WithDescription("Total signals sent to the core, by sense and type."),
	); err != nil {
		return nil, err
	}
	if met.InterruptsDetected, err = m.Int64Counter("sensoria.interrupts",
		metric.WithDescription("Total interrupt keywords detected, by keyword."),
	); err != nil {
		return nil, err
	}
	if met.HallucinationsFiltered, err = m.Int64Counter("sensoria.hallucinations.filtered",
		metric.WithDescription("Total transcriptions rejected by the hallucination filter."),
	); err != nil {
		return nil, err
	}
	if met.FramesAnalyzed, err = m.Int64Counter("sensoria.frames.analyzed",
		metric.WithDescription("Total frames that passed the differencing gate, by sense."),
	); err != nil {
		return nil, err
	}
	if met.FramesSkipped, err = m.Int64Counter("sensoria.frames.skipped",
		metric.WithDescription("Total frames suppressed by the differencing gate, by sense."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sensoria.provider.errors",
		metric.WithDescription("Total backend failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("sensoria.playback.queue_depth",
		metric.WithDescription("Clips currently waiting for the playback loop."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: creating default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
