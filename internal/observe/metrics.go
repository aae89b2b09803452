// Package observe provides application-wide observability primitives for
// sflow: OpenTelemetry metrics, tracing, trace-aware structured logging, and
// HTTP middleware for the local status server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the status server's /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all sflow metrics.
const meterName = "github.com/MrWong99/sflow"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks the wall time of a transcription including
	// retries.
	TranscriptionDuration metric.Float64Histogram

	// CorrectionDuration tracks the wall time of a correction or translation
	// including retries. Use with attribute.String("mode", ...).
	CorrectionDuration metric.Float64Histogram

	// RecordingDuration tracks the length of captured utterances.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderRetries counts retried provider attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderRetries metric.Int64Counter

	// Utterances counts finished utterances. Use with attribute:
	//   attribute.String("outcome", ...)
	Utterances metric.Int64Counter

	// Tokens counts LLM tokens. Use with attribute:
	//   attribute.String("direction", "prompt"|"completion")
	Tokens metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveWorkers tracks utterances currently being processed.
	ActiveWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// calls that may include several backoff waits.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// recordingBuckets defines histogram bucket boundaries (in seconds) for
// captured utterance length.
var recordingBuckets = []float64{
	0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("sflow.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CorrectionDuration, err = m.Float64Histogram("sflow.correction.duration",
		metric.WithDescription("Latency of LLM correction or translation including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("sflow.recording.duration",
		metric.WithDescription("Length of captured utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("sflow.provider.requests",
		metric.WithDescription("Total provider API attempts by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRetries, err = m.Int64Counter("sflow.provider.retries",
		metric.WithDescription("Total retried provider attempts by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("sflow.utterances",
		metric.WithDescription("Total finished utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("sflow.tokens",
		metric.WithDescription("Total LLM tokens by direction."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("sflow.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveWorkers, err = m.Int64UpDownCounter("sflow.active_workers",
		metric.WithDescription("Number of utterances currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sflow.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRetry records a retried provider attempt.
func (m *Metrics) RecordProviderRetry(ctx context.Context, provider, kind string) {
	m.ProviderRetries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderError records a provider error counter increment. kind is the
// fault kind of the final error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records a finished utterance with its outcome
// ("pasted", "empty", "failed", "discarded", ...).
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordTokens records prompt and completion token counts. Zero counts are
// skipped.
func (m *Metrics) RecordTokens(ctx context.Context, prompt, completion int) {
	if prompt > 0 {
		m.Tokens.Add(ctx, int64(prompt), metric.WithAttributes(attribute.String("direction", "prompt")))
	}
	if completion > 0 {
		m.Tokens.Add(ctx, int64(completion), metric.WithAttributes(attribute.String("direction", "completion")))
	}
}
