package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumCounter totals an Int64 sum across data points whose attributes
// contain every key/value in want.
func sumCounter(t *testing.T, met *metricdata.Metrics, want ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want Sum[int64]", met.Name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, true)
	m.RecordFrame(ctx, true)
	m.RecordFrame(ctx, false)

	met := findMetric(collect(t, reader), "voxbridge.frames.sent")
	if met == nil {
		t.Fatal("voxbridge.frames.sent not found")
	}
	if got := sumCounter(t, met, attribute.String("kind", "audio")); got != 2 {
		t.Errorf("audio frames = %d, want 2", got)
	}
	if got := sumCounter(t, met, attribute.String("kind", "silence")); got != 1 {
		t.Errorf("silence frames = %d, want 1", got)
	}
}

func TestRecordUpstreamMessage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUpstreamMessage(ctx, "control", "Welcome")
	m.RecordUpstreamMessage(ctx, "audio", "")

	met := findMetric(collect(t, reader), "voxbridge.upstream.messages")
	if met == nil {
		t.Fatal("voxbridge.upstream.messages not found")
	}
	if got := sumCounter(t, met, attribute.String("kind", "control"), attribute.String("type", "Welcome")); got != 1 {
		t.Errorf("control Welcome = %d, want 1", got)
	}
	if got := sumCounter(t, met); got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestRecordFunctionCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFunctionCall(ctx, "get_services", "ok", 120*time.Millisecond)
	m.RecordFunctionCall(ctx, "get_services", "error", 2*time.Second)

	rm := collect(t, reader)
	calls := findMetric(rm, "voxbridge.function.calls")
	if calls == nil {
		t.Fatal("voxbridge.function.calls not found")
	}
	if got := sumCounter(t, calls, attribute.String("name", "get_services"), attribute.String("status", "error")); got != 1 {
		t.Errorf("error calls = %d, want 1", got)
	}

	dur := findMetric(rm, "voxbridge.function.duration")
	if dur == nil {
		t.Fatal("voxbridge.function.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration is %T", dur.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("duration samples = %d, want 2", count)
	}
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HandshakeDuration.Record(ctx, 0.4)
	m.RecordCallEnd(ctx, "silence", 95*time.Second)
	m.JitterBufferDepth.Record(ctx, 320)

	rm := collect(t, reader)
	for _, name := range []string{"voxbridge.upstream.handshake.duration", "voxbridge.call.duration"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("%s not found", name)
			continue
		}
		if _, ok := met.Data.(metricdata.Histogram[float64]); !ok {
			t.Errorf("%s is %T", name, met.Data)
		}
	}
	depth := findMetric(rm, "voxbridge.jitter_buffer.depth")
	if depth == nil {
		t.Fatal("voxbridge.jitter_buffer.depth not found")
	}
	if _, ok := depth.Data.(metricdata.Histogram[int64]); !ok {
		t.Errorf("depth is %T", depth.Data)
	}
}

func TestActiveCalls(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveCalls.Add(ctx, 3)
	m.ActiveCalls.Add(ctx, -1)

	met := findMetric(collect(t, reader), "voxbridge.active_calls")
	if met == nil {
		t.Fatal("voxbridge.active_calls not found")
	}
	if got := sumCounter(t, met); got != 2 {
		t.Errorf("active calls = %d, want 2", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordBreakerTransition(context.Background(), "functions", "open")

	met := findMetric(collect(t, reader), "voxbridge.breaker.transitions")
	if met == nil {
		t.Fatal("voxbridge.breaker.transitions not found")
	}
	if got := sumCounter(t, met, attribute.String("to", "open")); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
