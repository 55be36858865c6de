// Package observe provides application-wide observability primitives for
// Banterbox: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Banterbox metrics.
const meterName = "github.com/mkoutras/banterbox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// AgentEvents counts provider events routed through the arbiter. Use
	// with attributes:
	//   attribute.String("agent", ...), attribute.String("type", ...)
	AgentEvents metric.Int64Counter

	// DroppedEvents counts events discarded by the arbiter's turn gate. Use
	// with attributes:
	//   attribute.String("agent", ...), attribute.String("reason", ...)
	DroppedEvents metric.Int64Counter

	// TranscriptEntries counts finalized transcript entries. Use with
	// attribute:
	//   attribute.String("speaker", ...)
	TranscriptEntries metric.Int64Counter

	// TurnHandoffs counts completed turn switches between the two agents.
	TurnHandoffs metric.Int64Counter

	// LaughCues counts audience laughter triggers.
	LaughCues metric.Int64Counter

	// HostMessages counts moderator text interjections, immediate or
	// queued. Use with attribute:
	//   attribute.String("delivery", "direct"|"queued")
	HostMessages metric.Int64Counter

	// Reconnects counts agent session reconnect attempts. Use with
	// attributes:
	//   attribute.String("agent", ...), attribute.String("status", ...)
	Reconnects metric.Int64Counter

	// ProviderErrors counts speech backend errors. Use with attribute:
	//   attribute.String("agent", ...)
	ProviderErrors metric.Int64Counter

	// AudioBytes counts PCM bytes scheduled for playback. Use with
	// attribute:
	//   attribute.String("agent", ...)
	AudioBytes metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live agent sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectedClients tracks the number of control-surface WebSocket
	// clients.
	ConnectedClients metric.Int64UpDownCounter

	// --- Histograms ---

	// TurnDuration tracks how long each agent turn lasts, from first audio
	// chunk to turn completion.
	TurnDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// turnBuckets defines histogram bucket boundaries (in seconds) sized for
// spoken turns, which run seconds to tens of seconds rather than
// milliseconds.
var turnBuckets = []float64{
	1, 2.5, 5, 10, 15, 20, 30, 45, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.AgentEvents, err = m.Int64Counter("banterbox.agent.events",
		metric.WithDescription("Total provider events routed through the arbiter, by agent and type."),
	); err != nil {
		return nil, err
	}
	if met.DroppedEvents, err = m.Int64Counter("banterbox.agent.dropped_events",
		metric.WithDescription("Total events discarded by the turn gate, by agent and reason."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("banterbox.transcript.entries",
		metric.WithDescription("Total finalized transcript entries by speaker."),
	); err != nil {
		return nil, err
	}
	if met.TurnHandoffs, err = m.Int64Counter("banterbox.show.turn_handoffs",
		metric.WithDescription("Total completed turn switches between agents."),
	); err != nil {
		return nil, err
	}
	if met.LaughCues, err = m.Int64Counter("banterbox.show.laugh_cues",
		metric.WithDescription("Total audience laughter triggers."),
	); err != nil {
		return nil, err
	}
	if met.HostMessages, err = m.Int64Counter("banterbox.show.host_messages",
		metric.WithDescription("Total moderator interjections by delivery mode."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("banterbox.session.reconnects",
		metric.WithDescription("Total agent session reconnect attempts by agent and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("banterbox.provider.errors",
		metric.WithDescription("Total speech backend errors by agent."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("banterbox.audio.bytes",
		metric.WithDescription("Total PCM bytes scheduled for playback by agent."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("banterbox.active_sessions",
		metric.WithDescription("Number of live agent sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("banterbox.connected_clients",
		metric.WithDescription("Number of connected control-surface WebSocket clients."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("banterbox.show.turn.duration",
		metric.WithDescription("Duration of each agent turn from first audio to completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("banterbox.http.request.duration",
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

// RecordAgentEvent records one routed provider event.
func (m *Metrics) RecordAgentEvent(ctx context.Context, agent, eventType string) {
	m.AgentEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("type", eventType),
		),
	)
}

// RecordDroppedEvent records one event discarded by the turn gate.
func (m *Metrics) RecordDroppedEvent(ctx context.Context, agent, reason string) {
	m.DroppedEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("reason", reason),
		),
	)
}

// RecordReconnect records one reconnect attempt outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, agent, status string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one speech backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, agent string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent", agent)),
	)
}
