// Package observe provides application-wide observability primitives for
// framecast: OpenTelemetry metrics, distributed tracing, structured logging,
// process statistics and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all framecast metrics.
const meterName = "github.com/MrWong99/framecast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Playback ---

	// SessionsActive tracks the number of registered playback sessions.
	SessionsActive metric.Int64UpDownCounter

	// SessionsStarted counts committed sessions. Attributes: animation, kind.
	SessionsStarted metric.Int64Counter

	// SessionsFinished counts terminated sessions. Attributes: animation, outcome.
	SessionsFinished metric.Int64Counter

	// ShowsRejected counts show requests that created no session.
	// Attribute: reason (not_found, empty, veto, invalid).
	ShowsRejected metric.Int64Counter

	// FramesDispatched counts (frame, recipient) dispatches. Attribute: channel.
	FramesDispatched metric.Int64Counter

	// DirectiveFailures counts isolated directive failures. Attribute: directive.
	DirectiveFailures metric.Int64Counter

	// RecipientsLost counts recipients removed from sessions mid-playback.
	RecipientsLost metric.Int64Counter

	// TickDuration tracks how long one scheduler tick takes.
	TickDuration metric.Float64Histogram

	// TicksDropped counts ticks discarded by the catch-up clamp.
	TicksDropped metric.Int64Counter

	// DisconnectOverflow counts disconnect notices dropped by a full queue.
	DisconnectOverflow metric.Int64Counter

	// --- Transports ---

	// ViewersConnected tracks open viewer WebSocket connections.
	ViewersConnected metric.Int64UpDownCounter

	// ViewerEventsDropped counts outbound viewer events dropped because the
	// connection's send buffer was full.
	ViewerEventsDropped metric.Int64Counter

	// MQTTPublishes counts lifecycle publishes. Attributes: topic, status.
	MQTTPublishes metric.Int64Counter

	// HistoryWrites counts history rows written. Attribute: status.
	HistoryWrites metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets defines histogram bucket boundaries (in seconds) sized for a
// tick budget of a few tens of milliseconds.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsActive, err = m.Int64UpDownCounter("framecast.sessions.active",
		metric.WithDescription("Number of registered playback sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("framecast.sessions.started",
		metric.WithDescription("Total committed playback sessions by animation and kind."),
	); err != nil {
		return nil, err
	}
	if met.SessionsFinished, err = m.Int64Counter("framecast.sessions.finished",
		metric.WithDescription("Total terminated playback sessions by animation and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ShowsRejected, err = m.Int64Counter("framecast.shows.rejected",
		metric.WithDescription("Show requests that did not create a session, by reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesDispatched, err = m.Int64Counter("framecast.frames.dispatched",
		metric.WithDescription("Frame dispatches per recipient by display channel."),
	); err != nil {
		return nil, err
	}
	if met.DirectiveFailures, err = m.Int64Counter("framecast.directive.failures",
		metric.WithDescription("Failed render, sound and command directives by directive type."),
	); err != nil {
		return nil, err
	}
	if met.RecipientsLost, err = m.Int64Counter("framecast.recipients.lost",
		metric.WithDescription("Recipients removed from a session because they disconnected."),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("framecast.tick.duration",
		metric.WithDescription("Wall time spent advancing all sessions for one tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TicksDropped, err = m.Int64Counter("framecast.ticks.dropped",
		metric.WithDescription("Ticks discarded by the catch-up clamp after a stall."),
	); err != nil {
		return nil, err
	}
	if met.DisconnectOverflow, err = m.Int64Counter("framecast.disconnect_queue.overflow",
		metric.WithDescription("Disconnect notices rejected by a full handoff queue."),
	); err != nil {
		return nil, err
	}

	if met.ViewersConnected, err = m.Int64UpDownCounter("framecast.viewers.connected",
		metric.WithDescription("Number of open viewer connections."),
	); err != nil {
		return nil, err
	}
	if met.ViewerEventsDropped, err = m.Int64Counter("framecast.viewer.events_dropped",
		metric.WithDescription("Viewer events dropped because the send buffer was full."),
	); err != nil {
		return nil, err
	}
	if met.MQTTPublishes, err = m.Int64Counter("framecast.mqtt.publishes",
		metric.WithDescription("Lifecycle events published over MQTT by topic and status."),
	); err != nil {
		return nil, err
	}
	if met.HistoryWrites, err = m.Int64Counter("framecast.history.writes",
		metric.WithDescription("Run history rows written by status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("framecast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordViewerEventDropped counts an event discarded because the viewer's
// send queue was full.
func (m *Metrics) RecordViewerEventDropped(ctx context.Context, eventType string) {
	m.ViewerEventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordSessionStarted increments the started counter and the active gauge.
func (m *Metrics) RecordSessionStarted(ctx context.Context, animation, kind string) {
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("animation", animation),
		attribute.String("kind", kind),
	))
	m.SessionsActive.Add(ctx, 1)
}

// RecordSessionFinished increments the finished counter and decrements the
// active gauge.
func (m *Metrics) RecordSessionFinished(ctx context.Context, animation, outcome string) {
	m.SessionsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("animation", animation),
		attribute.String("outcome", outcome),
	))
	m.SessionsActive.Add(ctx, -1)
}

// RecordShowRejected records a show request that produced no session.
func (m *Metrics) RecordShowRejected(ctx context.Context, reason string) {
	m.ShowsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDirectiveFailure records one isolated directive failure.
func (m *Metrics) RecordDirectiveFailure(ctx context.Context, directive string) {
	m.DirectiveFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("directive", directive)))
}

// RecordMQTTPublish records one lifecycle publish attempt.
func (m *Metrics) RecordMQTTPublish(ctx context.Context, topic, status string) {
	m.MQTTPublishes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("status", status),
	))
}

// RecordHistoryWrite records one history write attempt.
func (m *Metrics) RecordHistoryWrite(ctx context.Context, status string) {
	m.HistoryWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
