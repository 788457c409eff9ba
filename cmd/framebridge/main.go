package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/signalsfoundry/framebridge/core"
	"github.com/signalsfoundry/framebridge/internal/bridge"
	"github.com/signalsfoundry/framebridge/internal/config"
	"github.com/signalsfoundry/framebridge/internal/logging"
	"github.com/signalsfoundry/framebridge/internal/observability"
	"github.com/signalsfoundry/framebridge/internal/sdf"
	"github.com/signalsfoundry/framebridge/internal/transport"
	"github.com/signalsfoundry/framebridge/kb"
	"github.com/signalsfoundry/framebridge/model"
	"github.com/signalsfoundry/framebridge/timectrl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the LinkStates gRPC server listens on (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	ignore := flag.String("ignore-submodels-of", "", "Delimiter-separated sub-model prefixes to ignore (overrides config)")
	updatePeriod := flag.Duration("update-period", 0, "Minimum simulation time between processed snapshots (overrides config)")
	replayPath := flag.String("replay", "", "JSONL recording of link states to replay (overrides config)")
	replayMode := flag.String("replay-mode", "", "Replay pacing: realtime or accelerated (overrides config)")
	jsonlOut := flag.String("jsonl-out", "", "Also write broadcast edges as JSON lines to this file, or - for stdout")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "grpc-addr":
			cfg.GRPCAddr = *grpcAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "ignore-submodels-of":
			cfg.IgnoreSubmodelsOf = *ignore
		case "update-period":
			cfg.UpdatePeriod = *updatePeriod
		case "replay":
			cfg.Replay.Path = *replayPath
		case "replay-mode":
			cfg.Replay.Mode = *replayMode
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(2)
	}

	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.WorldFrame = cfg.WorldFrame
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewBridgeCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}
	metricsSrv := observability.ServeMetrics(ctx, cfg.MetricsAddr, collector.Handler(), func(err error) {
		log.Warn(context.Background(), "metrics server exited", logging.Err(err))
	})
	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", cfg.MetricsAddr))

	searchPath := sdf.SearchPath(cfg.ModelPaths...)
	cache := kb.NewSchemaCache(
		sdf.NewDatabase(searchPath, sdf.WithLogger(log)),
		kb.WithLogger(log),
		kb.WithMetricsRecorder(collector),
	)
	convention, _ := cfg.TypeConvention()
	namer, _ := cfg.FrameNamer()
	resolver := core.NewTreeResolver(cache,
		core.WithNameResolver(core.NewNameResolver(convention)),
		core.WithIgnoreList(cfg.IgnoreList()),
		core.WithWorldFrame(cfg.WorldFrame),
	)
	log.Info(ctx, "resolver configured",
		logging.Any("model_path", searchPath),
		logging.Any("ignore_submodels_of", resolver.IgnoreList()),
		logging.String("world_frame", resolver.WorldFrame()),
		logging.String("frame_naming", cfg.FrameNaming),
	)

	hub := transport.NewHub(cfg.WatchBuffer, transport.WithHubLogger(log), transport.WithHubMetrics(collector))
	sinks := bridge.MultiSink{hub}
	if *jsonlOut != "" {
		w, closeOut, err := openOutput(*jsonlOut)
		if err != nil {
			log.Error(ctx, "failed to open edge output", logging.String("path", *jsonlOut), logging.Err(err))
			os.Exit(1)
		}
		defer closeOut()
		sinks = append(sinks, transport.NewJSONLSink(w))
	}

	b := bridge.New(resolver,
		bridge.WithGate(core.NewPublishGate(cfg.UpdatePeriod)),
		bridge.WithSink(sinks),
		bridge.WithFrameNamer(namer),
		bridge.WithLogger(log),
		bridge.WithMetrics(collector),
	)

	in := make(chan model.PoseSnapshot)
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainStreamInterceptor(
			transport.TickIDStreamServerInterceptor(log),
			collector.StreamServerInterceptor(),
		),
	)
	transport.NewLinkStatesServer(in, hub, log).Register(server)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus(transport.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "starting LinkStates gRPC server", logging.String("addr", cfg.GRPCAddr))
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- b.Run(bridgeCtx, in) }()

	if cfg.Replay.Path != "" {
		go replay(runCtx, cfg.Replay, in, log)
	}

	<-runCtx.Done()
	log.Info(ctx, "shutting down framebridge")

	healthSrv.Shutdown()
	hub.Close()
	server.GracefulStop()
	cancelBridge()
	if err := <-bridgeDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn(ctx, "bridge stopped with error", logging.Err(err))
	}

	loaded, failed := cache.Known()
	log.Info(ctx, "model schemas seen",
		logging.String("loaded", strings.Join(loaded, ",")),
		logging.String("unavailable", strings.Join(failed, ",")),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func replay(ctx context.Context, rc config.ReplayConfig, in chan<- model.PoseSnapshot, log logging.Logger) {
	f, err := os.Open(rc.Path)
	if err != nil {
		log.Error(ctx, "failed to open replay", logging.String("path", rc.Path), logging.Err(err))
		return
	}
	defer f.Close()

	pacer := timectrl.NewTimeController(timectrl.ParseMode(rc.Mode))
	log.Info(ctx, "replaying link states", logging.String("path", rc.Path), logging.String("mode", pacer.Mode.String()))
	stats, err := transport.ReplayJSONL(ctx, f, in, pacer, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn(ctx, "replay stopped", logging.Err(err))
	}
	log.Info(ctx, "replay finished", logging.Int("sent", stats.Sent), logging.Int("rejected", stats.Rejected))
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %q: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
