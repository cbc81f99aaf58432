// Package observe provides the bridge's observability primitives:
// OpenTelemetry metrics and tracing, trace-aware logging, and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping by [InitProvider]. Components take a *[Metrics] so
// tests can build one on a manual reader with [NewMetrics]; [DefaultMetrics]
// is the process-wide fallback.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Metrics holds every instrument the bridge records. The OTel types are safe
// for concurrent use.
type Metrics struct {
	// ActiveCalls is the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter

	// FramesSent counts paced frames written to the telephony leg.
	// Attributes: kind=audio|silence.
	FramesSent metric.Int64Counter

	// FrameWriteErrors counts paced frames that failed to write.
	FrameWriteErrors metric.Int64Counter

	// InboundFrames counts caller media frames. Attributes:
	// status=forwarded|dropped|not_ready.
	InboundFrames metric.Int64Counter

	// UpstreamMessages counts frames received from the voice agent.
	// Attributes: kind=control|audio, type.
	UpstreamMessages metric.Int64Counter

	// KeepAlives counts keep-alive frames sent upstream.
	KeepAlives metric.Int64Counter

	// FunctionCalls counts function invocations. Attributes: name, status.
	FunctionCalls metric.Int64Counter

	// FunctionCallDuration is the handler latency per invocation.
	FunctionCallDuration metric.Float64Histogram

	// HandshakeDuration is the time from dial to SettingsApplied.
	HandshakeDuration metric.Float64Histogram

	// CallDuration is the session lifetime. Attributes: reason.
	CallDuration metric.Float64Histogram

	// SilenceTerminations counts calls ended by the silence supervisor.
	SilenceTerminations metric.Int64Counter

	// JitterBufferDepth samples the queued agent audio at each tick.
	JitterBufferDepth metric.Int64Histogram

	// BreakerTransitions counts circuit-breaker state changes. Attributes:
	// breaker, to.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration is the HTTP request latency. Attributes: method,
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, spanning a fast
// function call up to a long handshake.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets are call-duration boundaries in seconds.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// depthBuckets are jitter-buffer depth boundaries in bytes.
var depthBuckets = []float64{
	0, 160, 320, 800, 1600, 4000, 8000, 16000, 40000,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveCalls, err = m.Int64UpDownCounter("voxbridge.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("voxbridge.frames.sent",
		metric.WithDescription("Paced frames written to the telephony leg by kind."),
	); err != nil {
		return nil, err
	}
	if met.FrameWriteErrors, err = m.Int64Counter("voxbridge.frames.write_errors",
		metric.WithDescription("Paced frames that failed to write."),
	); err != nil {
		return nil, err
	}
	if met.InboundFrames, err = m.Int64Counter("voxbridge.frames.inbound",
		metric.WithDescription("Caller media frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamMessages, err = m.Int64Counter("voxbridge.upstream.messages",
		metric.WithDescription("Frames received from the voice agent by kind and type."),
	); err != nil {
		return nil, err
	}
	if met.KeepAlives, err = m.Int64Counter("voxbridge.upstream.keepalives",
		metric.WithDescription("Keep-alive frames sent to the voice agent."),
	); err != nil {
		return nil, err
	}
	if met.FunctionCalls, err = m.Int64Counter("voxbridge.function.calls",
		metric.WithDescription("Function invocations by name and status."),
	); err != nil {
		return nil, err
	}
	if met.FunctionCallDuration, err = m.Float64Histogram("voxbridge.function.duration",
		metric.WithDescription("Latency of function handler invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("voxbridge.upstream.handshake.duration",
		metric.WithDescription("Time from dial to SettingsApplied."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("voxbridge.call.duration",
		metric.WithDescription("Call session lifetime by end reason."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SilenceTerminations, err = m.Int64Counter("voxbridge.call.silence_terminations",
		metric.WithDescription("Calls ended after prolonged caller silence."),
	); err != nil {
		return nil, err
	}
	if met.JitterBufferDepth, err = m.Int64Histogram("voxbridge.jitter_buffer.depth",
		metric.WithDescription("Queued agent audio sampled at each pacer tick."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(depthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxbridge.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails, which the
// global provider never does.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one paced frame.
func (m *Metrics) RecordFrame(ctx context.Context, audio bool) {
	kind := "silence"
	if audio {
		kind = "audio"
	}
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordInbound counts one caller media frame.
func (m *Metrics) RecordInbound(ctx context.Context, status string) {
	m.InboundFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordUpstreamMessage counts one frame from the voice agent.
func (m *Metrics) RecordUpstreamMessage(ctx context.Context, kind, typ string) {
	m.UpstreamMessages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("type", typ),
	))
}

// RecordFunctionCall counts one invocation and records its latency.
func (m *Metrics) RecordFunctionCall(ctx context.Context, name, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("status", status),
	)
	m.FunctionCalls.Add(ctx, 1, attrs)
	m.FunctionCallDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCallEnd records a finished session.
func (m *Metrics) RecordCallEnd(ctx context.Context, reason string, d time.Duration) {
	m.CallDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerTransition counts a circuit-breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("to", to),
	))
}
