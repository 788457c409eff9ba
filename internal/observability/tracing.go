package observability

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/framebridge/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// SnapshotSpanName is the root span opened for every processed
	// link-state snapshot.
	SnapshotSpanName = "framebridge.process_snapshot"

	// DefaultSnapshotSampleRatio keeps roughly one snapshot trace per second
	// at the usual 20 Hz publish rate.
	DefaultSnapshotSampleRatio = 0.05

	defaultOTLPEndpoint = "localhost:4317"
	tracerName          = "github.com/signalsfoundry/framebridge"
)

const (
	envTracingEnabled       = "FRAMEBRIDGE_TRACING_ENABLED"
	envTracingExporter      = "FRAMEBRIDGE_TRACING_EXPORTER"
	envTracingServiceName   = "FRAMEBRIDGE_TRACING_SERVICE_NAME"
	envTracingSampleRatio   = "FRAMEBRIDGE_TRACING_SAMPLE_RATIO"
	envTracingSnapshotRatio = "FRAMEBRIDGE_TRACING_SNAPSHOT_SAMPLE_RATIO"
	envOTLPEndpoint         = "FRAMEBRIDGE_OTLP_ENDPOINT"
)

// TracingConfig governs how bridge tracing is initialised.
//
// Snapshot spans arrive once per simulator update, so they are sampled
// separately from RPC and replay spans.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp

	SampleRatio         float64
	SnapshotSampleRatio float64

	// WorldFrame is recorded on the tracing resource when set.
	WorldFrame string
}

// TracingConfigFromEnv reads the FRAMEBRIDGE_TRACING_* variables. Ratios
// outside [0, 1] fall back to their defaults.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:             strings.EqualFold(os.Getenv(envTracingEnabled), "true"),
		ServiceName:         "framebridge",
		Exporter:            "stdout",
		Endpoint:            os.Getenv(envOTLPEndpoint),
		SampleRatio:         ratioFromEnv(envTracingSampleRatio, 1),
		SnapshotSampleRatio: ratioFromEnv(envTracingSnapshotRatio, DefaultSnapshotSampleRatio),
	}
	if v := strings.ToLower(os.Getenv(envTracingExporter)); v != "" {
		cfg.Exporter = v
	}
	if v := os.Getenv(envTracingServiceName); v != "" {
		cfg.ServiceName = v
	}
	return cfg
}

func ratioFromEnv(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return def
	}
	return v
}

// InitTracing installs the global tracer provider and propagators. When
// tracing is disabled a noop provider is installed. The returned function
// flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "robotics"),
	}
	if cfg.WorldFrame != "" {
		attrs = append(attrs, attribute.String("framebridge.world_frame", cfg.WorldFrame))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newBridgeSampler(cfg)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
		logging.Float64("snapshot_sample_ratio", cfg.SnapshotSampleRatio),
	)
	return tp.Shutdown, nil
}

// bridgeSampler samples snapshot root spans at their own ratio and
// everything else at the base ratio.
type bridgeSampler struct {
	snapshot sdktrace.Sampler
	other    sdktrace.Sampler
}

func newBridgeSampler(cfg TracingConfig) sdktrace.Sampler {
	return sdktrace.ParentBased(bridgeSampler{
		snapshot: sdktrace.TraceIDRatioBased(cfg.SnapshotSampleRatio),
		other:    sdktrace.TraceIDRatioBased(cfg.SampleRatio),
	})
}

func (s bridgeSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if p.Name == SnapshotSpanName {
		return s.snapshot.ShouldSample(p)
	}
	return s.other.ShouldSample(p)
}

func (s bridgeSampler) Description() string {
	return fmt.Sprintf("BridgeSampler{snapshot:%s,other:%s}", s.snapshot.Description(), s.other.Description())
}

type exporterFactory func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error)

var spanExporters = map[string]exporterFactory{
	"":         newStdoutExporter,
	"stdout":   newStdoutExporter,
	"otlp":     newOTLPExporter,
	"otlpgrpc": newOTLPExporter,
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	factory, ok := spanExporters[strings.ToLower(cfg.Exporter)]
	if !ok {
		known := make([]string, 0, len(spanExporters))
		for name := range spanExporters {
			if name != "" {
				known = append(known, name)
			}
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unsupported tracing exporter %q (want one of %s)", cfg.Exporter, strings.Join(known, ", "))
	}
	return factory(ctx, cfg)
}

func newStdoutExporter(context.Context, TracingConfig) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
}

func newOTLPExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	))
}

// ShutdownWithTimeout runs shutdown with a five second bound and logs,
// rather than returns, any error.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// StartSpan starts an internal span named name with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
