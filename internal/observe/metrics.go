// Package observe provides application-wide observability primitives for
// voxdesk: OpenTelemetry metrics, tracing helpers, and HTTP middleware for
// the edge bridge server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through a Prometheus bridge (see [InitProvider]) so they remain scrapable
// at /metrics. A package-level default [Metrics] instance is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxdesk metrics.
const meterName = "github.com/voxdesk/voxdesk"

// Metrics holds all OpenTelemetry metric instruments for the voice core.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Interruptions counts barge-in events.
	Interruptions metric.Int64Counter

	// Commits counts audio flushes sent upstream.
	Commits metric.Int64Counter

	// SessionErrors counts session-affecting failures (acquisition and
	// transport).
	SessionErrors metric.Int64Counter

	// HeartbeatRTT tracks ping/pong round-trip latency.
	HeartbeatRTT metric.Float64Histogram

	// RelayFrames counts frames relayed by the bridge. Use with
	// attribute.String("direction", "inbound"|"outbound").
	RelayFrames metric.Int64Counter

	// RelayQueueFlush tracks how many frames were queued ahead of the
	// upstream connection opening, per relay.
	RelayQueueFlush metric.Int64Histogram

	// HTTPRequestDuration tracks bridge HTTP request processing time. Use
	// with attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// rttBuckets defines histogram bucket boundaries (in seconds) sized for
// voice round-trip latencies.
var rttBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxdesk.sessions.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxdesk.sessions.interruptions",
		metric.WithDescription("Total barge-in events."),
	); err != nil {
		return nil, err
	}
	if met.Commits, err = m.Int64Counter("voxdesk.sessions.commits",
		metric.WithDescription("Total outbound audio commits."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voxdesk.sessions.errors",
		metric.WithDescription("Total session-affecting failures."),
	); err != nil {
		return nil, err
	}
	if met.HeartbeatRTT, err = m.Float64Histogram("voxdesk.sessions.heartbeat_rtt",
		metric.WithDescription("Ping/pong round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(rttBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RelayFrames, err = m.Int64Counter("voxdesk.relay.frames",
		metric.WithDescription("Frames relayed by the edge bridge, by direction."),
	); err != nil {
		return nil, err
	}
	if met.RelayQueueFlush, err = m.Int64Histogram("voxdesk.relay.queue_flush",
		metric.WithDescription("Frames queued before the upstream connection opened."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxdesk.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from the global meter provider. Panics if instrument
// creation fails (does not happen with the global provider).
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

// AddActiveSessions adjusts the live-session gauge.
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	m.ActiveSessions.Add(ctx, delta)
}

// RecordInterruption counts one barge-in event.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordCommit counts one outbound audio flush.
func (m *Metrics) RecordCommit(ctx context.Context) {
	m.Commits.Add(ctx, 1)
}

// RecordSessionError counts one session-affecting failure.
func (m *Metrics) RecordSessionError(ctx context.Context) {
	m.SessionErrors.Add(ctx, 1)
}

// RecordHeartbeatRTT records one ping/pong round trip.
func (m *Metrics) RecordHeartbeatRTT(ctx context.Context, rtt time.Duration) {
	m.HeartbeatRTT.Record(ctx, rtt.Seconds())
}

// RecordRelayFrame counts one relayed frame in the given direction
// ("inbound" for client-to-backend, "outbound" for backend-to-client).
func (m *Metrics) RecordRelayFrame(ctx context.Context, direction string) {
	m.RelayFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordRelayQueueFlush records the size of a pre-open queue flush.
func (m *Metrics) RecordRelayQueueFlush(ctx context.Context, frames int) {
	m.RelayQueueFlush.Record(ctx, int64(frames))
}
