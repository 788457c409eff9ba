package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStreamInterceptorRecordsStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}

	interceptor := collector.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/framebridge.v1.LinkStates/WatchTransforms", IsServerStream: true}

	_ = interceptor(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		return nil
	})
	_ = interceptor(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		return status.Error(codes.Unavailable, "bridge stopped")
	})

	if got := testutil.ToFloat64(collector.StreamRPCs.WithLabelValues("LinkStates", "WatchTransforms", "OK")); got != 1 {
		t.Fatalf("framebridge_stream_rpcs_total{code=OK} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.StreamRPCs.WithLabelValues("LinkStates", "WatchTransforms", "Unavailable")); got != 1 {
		t.Fatalf("framebridge_stream_rpcs_total{code=Unavailable} = %v, want 1", got)
	}
}

func TestRecordProcessingCountsEdges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}

	collector.RecordSnapshot(true)
	collector.RecordSnapshot(false)
	collector.RecordSnapshot(false)
	collector.RecordProcessing(2*time.Millisecond, 5, 2, false)
	collector.RecordProcessing(time.Millisecond, 0, 2, true)
	collector.RecordSkippedEdge("malformed_transform")

	if got := testutil.ToFloat64(collector.Snapshots.WithLabelValues(SnapshotThrottled)); got != 2 {
		t.Fatalf("throttled snapshots = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.EdgesPublished); got != 5 {
		t.Fatalf("edges published = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.EdgesIgnored); got != 4 {
		t.Fatalf("edges ignored = %v, want 4", got)
	}
	if got := testutil.ToFloat64(collector.DuplicateStamps); got != 1 {
		t.Fatalf("duplicate stamps = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.EdgesSkipped.WithLabelValues("malformed_transform")); got != 1 {
		t.Fatalf("skipped edges = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "framebridge_snapshot_processing_seconds", nil); count != 2 {
		t.Fatalf("processing histogram sample_count = %d, want 2", count)
	}
}

func TestSchemaRecorderLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}

	collector.RecordSchemaLookup(false)
	collector.RecordSchemaLookup(true)
	collector.RecordSchemaLookup(true)
	collector.RecordSchemaLoad(true, 3*time.Millisecond)
	collector.RecordSchemaLoad(false, time.Millisecond)

	if got := testutil.ToFloat64(collector.SchemaLookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("schema hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.SchemaLoads.WithLabelValues("unavailable")); got != 1 {
		t.Fatalf("unavailable loads = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "framebridge_schema_load_duration_seconds", nil); count != 2 {
		t.Fatalf("schema load histogram sample_count = %d, want 2", count)
	}
}

func TestNewBridgeCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("first NewBridgeCollector: %v", err)
	}
	second, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("second NewBridgeCollector: %v", err)
	}

	first.EdgesPublished.Add(3)
	if got := testutil.ToFloat64(second.EdgesPublished); got != 3 {
		t.Fatalf("shared edges counter = %v, want 3", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *BridgeCollector
	c.RecordSnapshot(true)
	c.RecordProcessing(time.Millisecond, 1, 1, true)
	c.RecordSkippedEdge("bad_name")
	c.RecordSchemaLookup(true)
	c.RecordSchemaLoad(true, time.Millisecond)
	c.SetWatchSubscribers(2)
	c.RecordWatchDropped()
}

func TestMetricsHandlerExposesBridgeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}
	collector.RecordSnapshot(true)
	collector.RecordSkippedEdge("missing_parent_pose")
	collector.SchemaLookups.WithLabelValues("miss").Inc()
	collector.SchemaLoads.WithLabelValues("ok").Inc()
	collector.StreamRPCs.WithLabelValues("svc", "method", "OK").Inc()
	collector.SetWatchSubscribers(4)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"framebridge_snapshots_total",
		"framebridge_edges_skipped_total",
		"framebridge_schema_lookups_total",
		"framebridge_schema_loads_total",
		"framebridge_stream_rpcs_total",
		"framebridge_watch_subscribers 4",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in          string
		service, mt string
	}{
		{"/framebridge.v1.LinkStates/Publish", "LinkStates", "Publish"},
		{"LinkStates/WatchTransforms", "LinkStates", "WatchTransforms"},
		{"", "unknown", "unknown"},
		{"/nomethod", "unknown", "unknown"},
	}
	for _, tt := range tests {
		service, method := SplitMethod(tt.in)
		if service != tt.service || method != tt.mt {
			t.Errorf("SplitMethod(%q) = (%q, %q), want (%q, %q)", tt.in, service, method, tt.service, tt.mt)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
