// Package observe provides application-wide observability primitives for the
// STT service: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/sentiric/stt-service"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks engine inference latency. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("mode", "batch"|"stream")
	TranscriptionDuration metric.Float64Histogram

	// TranscriptionRequests counts transcription attempts. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("mode", ...), attribute.String("status", ...)
	TranscriptionRequests metric.Int64Counter

	// EngineErrors counts engine failures. Use with attribute:
	//   attribute.String("engine", ...)
	EngineErrors metric.Int64Counter

	// UtterancesFinalized counts utterances the streaming segmenter closed
	// and submitted for transcription.
	UtterancesFinalized metric.Int64Counter

	// NoSpeechTimeouts counts liveness events emitted on silent streams.
	NoSpeechTimeouts metric.Int64Counter

	// ActiveStreams tracks the number of live WebSocket streaming sessions.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// batch and utterance-level transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("stt.transcription.duration",
		metric.WithDescription("Latency of engine transcription by engine and mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionRequests, err = m.Int64Counter("stt.transcription.requests",
		metric.WithDescription("Total transcription attempts by engine, mode, and status."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("stt.engine.errors",
		metric.WithDescription("Total engine failures by engine."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesFinalized, err = m.Int64Counter("stt.utterances.finalized",
		metric.WithDescription("Total utterances finalized by the streaming segmenter."),
	); err != nil {
		return nil, err
	}
	if met.NoSpeechTimeouts, err = m.Int64Counter("stt.no_speech_timeouts",
		metric.WithDescription("Total no-speech liveness events emitted on silent streams."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("stt.active_streams",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("stt.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscription records one transcription attempt: its latency and the
// request counter with the standard attribute set.
func (m *Metrics) RecordTranscription(ctx context.Context, engine, mode, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.TranscriptionRequests.Add(ctx, 1, attrs)
	m.TranscriptionDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("mode", mode),
		),
	)
}

// RecordEngineError records an engine failure.
func (m *Metrics) RecordEngineError(ctx context.Context, engine string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}
