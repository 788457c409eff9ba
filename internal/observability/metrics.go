// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the bridge and its transports.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Snapshot outcomes.
const (
	SnapshotThrottled = "throttled"
	SnapshotProcessed = "processed"
)

// BridgeCollector bundles Prometheus metrics for snapshot processing, the
// schema cache and the gRPC transport.
type BridgeCollector struct {
	gatherer prometheus.Gatherer

	Snapshots          *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	EdgesPublished     prometheus.Counter
	EdgesIgnored       prometheus.Counter
	EdgesSkipped       *prometheus.CounterVec
	DuplicateStamps    prometheus.Counter

	SchemaLookups      *prometheus.CounterVec
	SchemaLoads        *prometheus.CounterVec
	SchemaLoadDuration prometheus.Histogram

	StreamRPCs       *prometheus.CounterVec
	WatchSubscribers prometheus.Gauge
	WatchDropped     prometheus.Counter
}

// NewBridgeCollector registers bridge metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewBridgeCollector(reg prometheus.Registerer) (*BridgeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &BridgeCollector{gatherer: gatherer}

	var err error
	if c.Snapshots, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "framebridge_snapshots_total",
		Help: "Pose snapshots received, labeled by whether they were throttled or processed.",
	}, []string{"outcome"}), "framebridge_snapshots_total"); err != nil {
		return nil, err
	}
	if c.ProcessingDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "framebridge_snapshot_processing_seconds",
		Help:    "Time spent resolving and computing the transforms of one snapshot.",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}), "framebridge_snapshot_processing_seconds"); err != nil {
		return nil, err
	}
	if c.EdgesPublished, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framebridge_edges_published_total",
		Help: "Transform edges handed to the broadcast sink.",
	}), "framebridge_edges_published_total"); err != nil {
		return nil, err
	}
	if c.EdgesIgnored, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framebridge_edges_ignored_total",
		Help: "Edges suppressed because their parent frame belongs to an ignored sub-model.",
	}), "framebridge_edges_ignored_total"); err != nil {
		return nil, err
	}
	if c.EdgesSkipped, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "framebridge_edges_skipped_total",
		Help: "Edges dropped for one tick because of a per-link error, labeled by reason.",
	}, []string{"reason"}), "framebridge_edges_skipped_total"); err != nil {
		return nil, err
	}
	if c.DuplicateStamps, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framebridge_duplicate_stamps_total",
		Help: "Processed snapshots not broadcast because their stamp was already published.",
	}), "framebridge_duplicate_stamps_total"); err != nil {
		return nil, err
	}
	if c.SchemaLookups, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "framebridge_schema_lookups_total",
		Help: "Schema cache lookups, labeled hit or miss.",
	}, []string{"result"}), "framebridge_schema_lookups_total"); err != nil {
		return nil, err
	}
	if c.SchemaLoads, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "framebridge_schema_loads_total",
		Help: "Schema provider loads, labeled ok or unavailable.",
	}, []string{"result"}), "framebridge_schema_loads_total"); err != nil {
		return nil, err
	}
	if c.SchemaLoadDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "framebridge_schema_load_duration_seconds",
		Help:    "Duration of schema provider loads.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}), "framebridge_schema_load_duration_seconds"); err != nil {
		return nil, err
	}
	if c.StreamRPCs, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "framebridge_stream_rpcs_total",
		Help: "Completed streaming RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "framebridge_stream_rpcs_total"); err != nil {
		return nil, err
	}
	if c.WatchSubscribers, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "framebridge_watch_subscribers",
		Help: "Current number of transform watch subscribers.",
	}), "framebridge_watch_subscribers"); err != nil {
		return nil, err
	}
	if c.WatchDropped, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framebridge_watch_dropped_batches_total",
		Help: "Edge batches dropped because a watch subscriber fell behind.",
	}), "framebridge_watch_dropped_batches_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordSnapshot counts one received snapshot.
func (c *BridgeCollector) RecordSnapshot(processed bool) {
	if c == nil {
		return
	}
	outcome := SnapshotThrottled
	if processed {
		outcome = SnapshotProcessed
	}
	c.Snapshots.WithLabelValues(outcome).Inc()
}

// RecordProcessing records the outcome of one processed snapshot.
func (c *BridgeCollector) RecordProcessing(took time.Duration, published, ignored int, duplicate bool) {
	if c == nil {
		return
	}
	c.ProcessingDuration.Observe(took.Seconds())
	c.EdgesPublished.Add(float64(published))
	c.EdgesIgnored.Add(float64(ignored))
	if duplicate {
		c.DuplicateStamps.Inc()
	}
}

// RecordSkippedEdge counts one edge dropped for reason.
func (c *BridgeCollector) RecordSkippedEdge(reason string) {
	if c == nil {
		return
	}
	c.EdgesSkipped.WithLabelValues(reason).Inc()
}

// RecordSchemaLookup implements kb.SchemaMetricsRecorder.
func (c *BridgeCollector) RecordSchemaLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.SchemaLookups.WithLabelValues(result).Inc()
}

// RecordSchemaLoad implements kb.SchemaMetricsRecorder.
func (c *BridgeCollector) RecordSchemaLoad(ok bool, took time.Duration) {
	if c == nil {
		return
	}
	result := "unavailable"
	if ok {
		result = "ok"
	}
	c.SchemaLoads.WithLabelValues(result).Inc()
	c.SchemaLoadDuration.Observe(took.Seconds())
}

// SetWatchSubscribers reports the current number of watch subscribers.
func (c *BridgeCollector) SetWatchSubscribers(n int) {
	if c == nil {
		return
	}
	c.WatchSubscribers.Set(float64(n))
}

// RecordWatchDropped counts a batch dropped for a slow subscriber.
func (c *BridgeCollector) RecordWatchDropped() {
	if c == nil {
		return
	}
	c.WatchDropped.Inc()
}

// StreamServerInterceptor counts completed streaming RPCs by status code.
func (c *BridgeCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		if c == nil || c.StreamRPCs == nil {
			return err
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.StreamRPCs.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *BridgeCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ServeMetrics starts an HTTP server exposing /metrics on addr. The caller
// owns shutdown.
func ServeMetrics(ctx context.Context, addr string, h http.Handler, onErr func(error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed && onErr != nil {
			onErr(err)
		}
	}()
	return srv
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
