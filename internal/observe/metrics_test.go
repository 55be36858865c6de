package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounterIncrements(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	counters := []struct {
		name string
		c    metric.Int64Counter
	}{
		{"banterbox.agent.events", m.AgentEvents},
		{"banterbox.agent.dropped_events", m.DroppedEvents},
		{"banterbox.transcript.entries", m.TranscriptEntries},
		{"banterbox.show.turn_handoffs", m.TurnHandoffs},
		{"banterbox.show.laugh_cues", m.LaughCues},
		{"banterbox.show.host_messages", m.HostMessages},
		{"banterbox.session.reconnects", m.Reconnects},
		{"banterbox.provider.errors", m.ProviderErrors},
		{"banterbox.audio.bytes", m.AudioBytes},
	}

	for _, tc := range counters {
		tc.c.Add(ctx, 1)
		tc.c.Add(ctx, 2)
	}

	rm := collect(t, reader)

	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %s not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", tc.name)
			}
			if len(sum.DataPoints) != 1 {
				t.Fatalf("data points = %d, want 1", len(sum.DataPoints))
			}
			if got := sum.DataPoints[0].Value; got != 3 {
				t.Errorf("value = %d, want 3", got)
			}
		})
	}
}

func TestGaugeUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)
	m.ConnectedClients.Add(ctx, 3)

	rm := collect(t, reader)

	met := findMetric(rm, "banterbox.active_sessions")
	if met == nil {
		t.Fatal("active_sessions metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not an int64 sum")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active_sessions = %d, want 1", got)
	}

	met = findMetric(rm, "banterbox.connected_clients")
	if met == nil {
		t.Fatal("connected_clients metric not found")
	}
	sum = met.Data.(metricdata.Sum[int64])
	if got := sum.DataPoints[0].Value; got != 3 {
		t.Errorf("connected_clients = %d, want 3", got)
	}
}

func TestTurnDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TurnDuration.Record(ctx, 12.5)
	m.TurnDuration.Record(ctx, 24.0)

	rm := collect(t, reader)
	met := findMetric(rm, "banterbox.show.turn.duration")
	if met == nil {
		t.Fatal("turn duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a float64 histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
	if got := hist.DataPoints[0].Sum; got != 36.5 {
		t.Errorf("sum = %v, want 36.5", got)
	}
}

func TestRecordHelpers_AttachAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAgentEvent(ctx, "orion", "audio")
	m.RecordDroppedEvent(ctx, "luna", "inactive")
	m.RecordReconnect(ctx, "orion", "ok")
	m.RecordProviderError(ctx, "luna")

	rm := collect(t, reader)

	met := findMetric(rm, "banterbox.agent.dropped_events")
	if met == nil {
		t.Fatal("dropped_events metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	attrs := sum.DataPoints[0].Attributes
	if v, ok := attrs.Value(attribute.Key("agent")); !ok || v.AsString() != "luna" {
		t.Errorf("agent attribute = %v, want luna", v)
	}
	if v, ok := attrs.Value(attribute.Key("reason")); !ok || v.AsString() != "inactive" {
		t.Errorf("reason attribute = %v, want inactive", v)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("agent", "orion")
	if kv.Key != "agent" || kv.Value.AsString() != "orion" {
		t.Errorf("Attr = %v", kv)
	}
}
