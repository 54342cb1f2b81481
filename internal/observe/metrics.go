// Package observe provides application-wide observability primitives for
// talespin: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all talespin metrics.
const meterName = "github.com/MrWong99/talespin"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks narrative generation latency. Use with
	// attribute.String("status", ...).
	GenerationDuration metric.Float64Histogram

	// IllustrationDuration tracks illustration generation latency.
	IllustrationDuration metric.Float64Histogram

	// SaveDuration tracks session persistence latency.
	SaveDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Turns counts turns appended to message logs. Use with attribute:
	//   attribute.String("role", ...)
	Turns metric.Int64Counter

	// EpisodeRollovers counts episode rollovers across all sessions.
	EpisodeRollovers metric.Int64Counter

	// Illustrations counts illustration outcomes. Use with attribute:
	//   attribute.String("status", ...): reserved, delivered or failed.
	Illustrations metric.Int64Counter

	// Autosaves counts persistence attempts. Use with attribute:
	//   attribute.String("status", ...)
	Autosaves metric.Int64Counter

	// BusyRejections counts actions rejected because another action was in flight.
	BusyRejections metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open story sessions.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks the number of connected event stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// remote text and image generation, which routinely takes tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerationDuration, err = m.Float64Histogram("talespin.generation.duration",
		metric.WithDescription("Latency of narrative generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IllustrationDuration, err = m.Float64Histogram("talespin.illustration.duration",
		metric.WithDescription("Latency of illustration generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SaveDuration, err = m.Float64Histogram("talespin.save.duration",
		metric.WithDescription("Latency of session persistence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("talespin.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("talespin.turns",
		metric.WithDescription("Total turns appended by role."),
	); err != nil {
		return nil, err
	}
	if met.EpisodeRollovers, err = m.Int64Counter("talespin.episode.rollovers",
		metric.WithDescription("Total episode rollovers."),
	); err != nil {
		return nil, err
	}
	if met.Illustrations, err = m.Int64Counter("talespin.illustrations",
		metric.WithDescription("Total illustrations by status."),
	); err != nil {
		return nil, err
	}
	if met.Autosaves, err = m.Int64Counter("talespin.autosaves",
		metric.WithDescription("Total session saves by status."),
	); err != nil {
		return nil, err
	}
	if met.BusyRejections, err = m.Int64Counter("talespin.busy_rejections",
		metric.WithDescription("Total actions rejected while another was in flight."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("talespin.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("talespin.active_sessions",
		metric.WithDescription("Number of open story sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("talespin.event_subscribers",
		metric.WithDescription("Number of connected session event streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talespin.http.request.duration",
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

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records one appended turn of the given role.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordRollovers records n episode rollovers. Zero is a no-op.
func (m *Metrics) RecordRollovers(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.EpisodeRollovers.Add(ctx, int64(n))
}

// RecordIllustration records an illustration outcome.
func (m *Metrics) RecordIllustration(ctx context.Context, status string) {
	m.Illustrations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordAutosave records a persistence attempt outcome.
func (m *Metrics) RecordAutosave(ctx context.Context, status string) {
	m.Autosaves.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
