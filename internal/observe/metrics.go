// Package observe provides application-wide observability primitives for
// voxledger: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxledger metrics.
const meterName = "github.com/voxledger/voxledger"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ResolutionDuration tracks client name resolution latency.
	ResolutionDuration metric.Float64Histogram

	// TransformDuration tracks end-to-end transform execution latency.
	TransformDuration metric.Float64Histogram

	// --- Counters ---

	// ResolutionRequests counts name resolutions. Use with attribute:
	//   attribute.String("outcome", ...) — exact/confident/possible/none
	ResolutionRequests metric.Int64Counter

	// TransformJobs counts transform executions. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	TransformJobs metric.Int64Counter

	// --- Gauges ---

	// ActiveTransforms tracks the number of transforms currently executing.
	ActiveTransforms metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for store-bound request latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. A nil provider uses the global one registered by
// [InitProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolutionDuration, err = m.Float64Histogram("voxledger.resolution.duration",
		metric.WithDescription("Latency of client name resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransformDuration, err = m.Float64Histogram("voxledger.transform.duration",
		metric.WithDescription("End-to-end transform execution latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ResolutionRequests, err = m.Int64Counter("voxledger.resolution.requests",
		metric.WithDescription("Total client name resolutions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TransformJobs, err = m.Int64Counter("voxledger.transform.jobs",
		metric.WithDescription("Total transform executions by operation and final status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTransforms, err = m.Int64UpDownCounter("voxledger.active_transforms",
		metric.WithDescription("Number of transforms currently executing."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxledger.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordResolution is a convenience method that records a resolution counter
// increment with the standard attribute set.
func (m *Metrics) RecordResolution(ctx context.Context, outcome string) {
	m.ResolutionRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordTransform is a convenience method that records a transform counter
// increment with the standard attribute set.
func (m *Metrics) RecordTransform(ctx context.Context, operation, status string) {
	m.TransformJobs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}
