// Package observe provides observability primitives for nextbest:
// OpenTelemetry metrics, distributed tracing, trace-aware structured logging,
// and HTTP middleware for the metrics/health listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping via [InitProvider]. Tests should use [NewMetrics] with
// their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all nextbest metrics.
const meterName = "github.com/MrWong99/nextbest"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// EmbeddingsDuration tracks embedding request latency.
	EmbeddingsDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// WindowsEvaluated counts windows that received a proposed response.
	WindowsEvaluated metric.Int64Counter

	// WindowsSkipped counts windows skipped before any provider call.
	// Attribute: reason.
	WindowsSkipped metric.Int64Counter

	// SimilarityActual records the proposed-vs-actual embedding score.
	SimilarityActual metric.Float64Histogram

	// ActiveTranscripts tracks transcripts currently being evaluated.
	ActiveTranscripts metric.Int64UpDownCounter

	// HTTPRequestDuration tracks requests to the metrics/health listener.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for remote model calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60,
}

// scoreBuckets cover the [-1, 1] range of a dot product of unit vectors.
var scoreBuckets = []float64{
	-0.5, 0, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("nextbest.llm.duration",
		metric.WithDescription("Latency of chat completion requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingsDuration, err = m.Float64Histogram("nextbest.embeddings.duration",
		metric.WithDescription("Latency of embedding requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("nextbest.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("nextbest.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.WindowsEvaluated, err = m.Int64Counter("nextbest.windows.evaluated",
		metric.WithDescription("Windows scored against their ground truth."),
	); err != nil {
		return nil, err
	}
	if met.WindowsSkipped, err = m.Int64Counter("nextbest.windows.skipped",
		metric.WithDescription("Windows skipped before any provider call, by reason."),
	); err != nil {
		return nil, err
	}

	if met.SimilarityActual, err = m.Float64Histogram("nextbest.similarity.actual",
		metric.WithDescription("Similarity between the proposed and the actual agent response."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveTranscripts, err = m.Int64UpDownCounter("nextbest.active_transcripts",
		metric.WithDescription("Transcripts currently being evaluated."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("nextbest.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the Prometheus exporter.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordWindowSkipped increments the skipped-window counter.
func (m *Metrics) RecordWindowSkipped(ctx context.Context, reason string) {
	m.WindowsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordWindowScored increments the evaluated-window counter and records the
// proposed-vs-actual score.
func (m *Metrics) RecordWindowScored(ctx context.Context, actual float64) {
	m.WindowsEvaluated.Add(ctx, 1)
	m.SimilarityActual.Record(ctx, actual)
}
