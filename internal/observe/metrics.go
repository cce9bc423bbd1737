// Package observe provides application-wide observability primitives for
// Chronicler: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Chronicler metrics.
const meterName = "github.com/dungeonarchive/chronicler"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency per utterance.
	STTDuration metric.Float64Histogram

	// ExtractionDuration tracks structured-extraction latency per chunk.
	// Use with attribute.String("tier", ...).
	ExtractionDuration metric.Float64Histogram

	// StoreDuration tracks archive chunk-write latency.
	StoreDuration metric.Float64Histogram

	// SearchDuration tracks archive retrieval latency per question.
	SearchDuration metric.Float64Histogram

	// --- Counters ---

	// UtterancesDetected counts utterances finalized by the endpoint
	// detector.
	UtterancesDetected metric.Int64Counter

	// ChunksStored counts chunks persisted to the archive.
	ChunksStored metric.Int64Counter

	// ExtractionTierUsed counts which extraction tier produced each
	// record. Use with attribute.String("tier", ...).
	ExtractionTierUsed metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveUIClients tracks the number of connected /ws event clients.
	ActiveUIClients metric.Int64UpDownCounter

	// ActiveAudioStreams tracks the number of live /audio connections.
	ActiveAudioStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the transcription pipeline: whisper calls dominate and routinely take
// seconds on CPU.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("chronicler.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("chronicler.extraction.duration",
		metric.WithDescription("Latency of structured extraction per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("chronicler.archive.store.duration",
		metric.WithDescription("Latency of archive chunk writes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("chronicler.archive.search.duration",
		metric.WithDescription("Latency of archive retrieval per question."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.UtterancesDetected, err = m.Int64Counter("chronicler.utterances.detected",
		metric.WithDescription("Total utterances finalized by the endpoint detector."),
	); err != nil {
		return nil, err
	}
	if met.ChunksStored, err = m.Int64Counter("chronicler.chunks.stored",
		metric.WithDescription("Total chunks persisted to the archive."),
	); err != nil {
		return nil, err
	}
	if met.ExtractionTierUsed, err = m.Int64Counter("chronicler.extraction.tier_used",
		metric.WithDescription("Which extraction tier produced each record."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("chronicler.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveUIClients, err = m.Int64UpDownCounter("chronicler.active_ui_clients",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}
	if met.ActiveAudioStreams, err = m.Int64UpDownCounter("chronicler.active_audio_streams",
		metric.WithDescription("Number of live audio ingest connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("chronicler.http.request.duration",
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

// RecordProviderError increments the provider error counter with the
// standard attribute set.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordChunkStored increments the stored-chunk counter and records the
// write latency in one call.
func (m *Metrics) RecordChunkStored(ctx context.Context, seconds float64) {
	m.ChunksStored.Add(ctx, 1)
	m.StoreDuration.Record(ctx, seconds)
}
