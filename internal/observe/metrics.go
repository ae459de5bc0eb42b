// Package observe provides the observability primitives of the intake
// service: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter installed by [InitProvider]. A package-level
// [DefaultMetrics] instance is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
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

// meterName is the instrumentation scope name used for all intake metrics.
const meterName = "github.com/MrWong99/intakecall"

// Metrics holds all metric instruments of the service. The underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// TurnLatency is the time from an utterance being emitted by the
	// coalescer to the first byte of the reply reaching the transport.
	TurnLatency metric.Float64Histogram

	// ProviderLatency tracks every provider attempt. Attributes: kind,
	// provider, status.
	ProviderLatency metric.Float64Histogram

	// ProviderRequests counts provider attempts. Attributes: kind, provider,
	// status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider attempts. Attributes: kind,
	// provider.
	ProviderErrors metric.Int64Counter

	// Utterances counts coalesced caller utterances. Attribute: forced.
	Utterances metric.Int64Counter

	// BargeIns counts caller speech observed while audio was playing.
	BargeIns metric.Int64Counter

	// ValidationFailures counts rejected answers. Attribute: field.
	ValidationFailures metric.Int64Counter

	// SessionsEnded counts finished calls. Attribute: outcome.
	SessionsEnded metric.Int64Counter

	// ActiveSessions tracks the number of live calls.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds tuned for voice turns.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnLatency, err = m.Float64Histogram("intake.turn.latency",
		metric.WithDescription("Time from end of caller turn to first reply audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderLatency, err = m.Float64Histogram("intake.provider.duration",
		metric.WithDescription("Latency of provider calls by kind, provider and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("intake.provider.requests",
		metric.WithDescription("Total provider calls by kind, provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("intake.provider.errors",
		metric.WithDescription("Total failed provider calls by kind and provider."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("intake.utterances",
		metric.WithDescription("Total coalesced caller utterances."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("intake.barge_ins",
		metric.WithDescription("Caller speech detected while the assistant was speaking."),
	); err != nil {
		return nil, err
	}
	if met.ValidationFailures, err = m.Int64Counter("intake.validation_failures",
		metric.WithDescription("Answers rejected by validation, by field."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("intake.sessions.ended",
		metric.WithDescription("Finished calls by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("intake.sessions.active",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("intake.http.request.duration",
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
// first call from [otel.GetMeterProvider]. Call it after [InitProvider].
// Panics if instrument creation fails.
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

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordProviderCall records one provider attempt. Its signature matches
// resilience.FallbackConfig.Observe.
func (m *Metrics) RecordProviderCall(kind, provider string, d time.Duration, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("provider", provider),
		attribute.String("status", status(err)),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderLatency.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("provider", provider),
		))
	}
}

// RecordUtterance counts one coalesced utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, forced bool) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.Bool("forced", forced)))
}

// RecordBargeIn counts one barge-in.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}

// RecordValidationFailure counts one rejected answer for field.
func (m *Metrics) RecordValidationFailure(ctx context.Context, field string) {
	m.ValidationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordTurnLatency records the reply latency of one turn.
func (m *Metrics) RecordTurnLatency(ctx context.Context, d time.Duration) {
	m.TurnLatency.Record(ctx, d.Seconds())
}

// RecordSessionEnd counts one finished call and decrements the active gauge.
func (m *Metrics) RecordSessionEnd(ctx context.Context, outcome string) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.ActiveSessions.Add(ctx, -1)
}

// RecordSessionStart increments the active gauge.
func (m *Metrics) RecordSessionStart(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}
