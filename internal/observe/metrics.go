// Package observe provides the observability primitives for voxintent:
// OpenTelemetry metrics, tracing, trace-aware structured logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxintent metrics.
const meterName = "github.com/MrWong99/voxintent"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ResolveDuration tracks the time taken to resolve one utterance, from
	// correction to selection.
	ResolveDuration metric.Float64Histogram

	// ResolveOutcomes counts resolutions. Use with attribute:
	//   attribute.String("outcome", "matched"|"no_match"|"empty_input")
	ResolveOutcomes metric.Int64Counter

	// ResolveConfidence records the confidence of every best candidate,
	// matched or not.
	ResolveConfidence metric.Int64Histogram

	// CacheHits counts resolutions served from the result cache. Use with
	// attribute:
	//   attribute.Bool("hit", ...)
	CacheHits metric.Int64Counter

	// TableReloads counts correction/phrase table (re)loads. Use with
	// attributes:
	//   attribute.String("source", "file"|"postgres"), attribute.String("status", "ok"|"error")
	TableReloads metric.Int64Counter

	// CorpusSize tracks the number of phrase entries currently being served.
	CorpusSize metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// resolveBuckets defines histogram bucket boundaries (in seconds) for an
// in-memory scan that is expected to finish well below a millisecond.
var resolveBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1,
}

// confidenceBuckets splits the 0–100 confidence range into deciles.
var confidenceBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ResolveDuration, err = m.Float64Histogram("voxintent.resolve.duration",
		metric.WithDescription("Latency of resolving one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(resolveBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResolveOutcomes, err = m.Int64Counter("voxintent.resolve.outcomes",
		metric.WithDescription("Total resolutions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ResolveConfidence, err = m.Int64Histogram("voxintent.resolve.confidence",
		metric.WithDescription("Confidence of the best candidate per resolution."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("voxintent.cache.hits",
		metric.WithDescription("Result cache lookups by hit or miss."),
	); err != nil {
		return nil, err
	}
	if met.TableReloads, err = m.Int64Counter("voxintent.table.reloads",
		metric.WithDescription("Table loads by source and status."),
	); err != nil {
		return nil, err
	}
	if met.CorpusSize, err = m.Int64UpDownCounter("voxintent.corpus.size",
		metric.WithDescription("Number of phrase entries currently served."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxintent.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails.
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

// RecordResolve records the duration and outcome of one resolution. A
// negative confidence means there was no candidate to report.
func (m *Metrics) RecordResolve(ctx context.Context, outcome string, confidence int, d time.Duration) {
	m.ResolveDuration.Record(ctx, d.Seconds())
	m.ResolveOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if confidence >= 0 {
		m.ResolveConfidence.Record(ctx, int64(confidence))
	}
}

// RecordCacheLookup records a result cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

// RecordTableReload records a table load attempt.
func (m *Metrics) RecordTableReload(ctx context.Context, source, status string) {
	m.TableReloads.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}
