package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/framebridge/internal/logging"
	"github.com/signalsfoundry/framebridge/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "framebridge.v1.LinkStates"

const (
	publishMethod = "/" + ServiceName + "/Publish"
	watchMethod   = "/" + ServiceName + "/WatchTransforms"

	tickIDMetadataKey = "x-tick-id"
)

// linkStatesHandler is the handler type checked by grpc.RegisterService.
type linkStatesHandler interface {
	publish(stream grpc.ServerStream) error
	watch(req *structpb.Struct, stream grpc.ServerStream) error
}

var linkStatesServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*linkStatesHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Publish",
			Handler:       publishHandler,
			ClientStreams: true,
		},
		{
			StreamName:    "WatchTransforms",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "framebridge/v1/link_states.proto",
}

func publishHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(linkStatesHandler).publish(stream)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(linkStatesHandler).watch(req, stream)
}

// LinkStatesServer accepts pose snapshots from the simulator side and
// streams transform edges to watchers.
type LinkStatesServer struct {
	in  chan<- model.PoseSnapshot
	hub *Hub
	log logging.Logger
}

// NewLinkStatesServer feeds published snapshots into in and serves watchers
// from hub.
func NewLinkStatesServer(in chan<- model.PoseSnapshot, hub *Hub, log logging.Logger) *LinkStatesServer {
	if log == nil {
		log = logging.Noop()
	}
	return &LinkStatesServer{in: in, hub: hub, log: log}
}

// Register adds the service to a gRPC server.
func (s *LinkStatesServer) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&linkStatesServiceDesc, s)
}

func (s *LinkStatesServer) publish(stream grpc.ServerStream) error {
	if s.in == nil {
		return ToStatusError(fmt.Errorf("pose input: %w", ErrNotConfigured))
	}
	ctx := stream.Context()
	log := logging.FromContext(ctx, s.log)

	accepted, rejected := 0, 0
	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		snap, err := SnapshotFromStruct(msg)
		if err != nil {
			rejected++
			log.Warn(ctx, "rejecting link states message", logging.Err(err))
			continue
		}
		select {
		case <-ctx.Done():
			return ToStatusError(ctx.Err())
		case s.in <- snap:
			accepted++
		}
	}

	summary, err := structpb.NewStruct(map[string]interface{}{
		"accepted": accepted,
		"rejected": rejected,
	})
	if err != nil {
		return ToStatusError(err)
	}
	log.Debug(ctx, "publish stream closed", logging.Int("accepted", accepted), logging.Int("rejected", rejected))
	return stream.SendMsg(summary)
}

func (s *LinkStatesServer) watch(req *structpb.Struct, stream grpc.ServerStream) error {
	if s.hub == nil {
		return ToStatusError(fmt.Errorf("transform hub: %w", ErrNotConfigured))
	}
	ctx := stream.Context()
	prefix := req.GetFields()["child_prefix"].GetStringValue()

	sub, cancel := s.hub.Subscribe(prefix)
	defer cancel()
	logging.FromContext(ctx, s.log).Info(ctx, "transform watcher subscribed", logging.String("child_prefix", prefix))

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-sub.C:
			if !ok {
				return status.Error(codes.Unavailable, "transform stream closed")
			}
			msg, err := EdgesToStruct(batch.Stamp, batch.Edges)
			if err != nil {
				return ToStatusError(err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// TickIDStreamServerInterceptor tags each stream with a tick ID, taken from
// inbound metadata when present, and stores a logger carrying the method on
// the stream context.
func TickIDStreamServerInterceptor(base logging.Logger) grpc.StreamServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(tickIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithTickID(ctx, vals[0])
			}
		}
		if logging.TickIDFromContext(ctx) == "" {
			ctx, _ = logging.NewTickContext(ctx)
		}
		ctx = logging.ContextWithLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

// Client talks to a LinkStates service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Publish streams snapshots to the service and returns how many it accepted.
func (c *Client) Publish(ctx context.Context, snaps []model.PoseSnapshot) (int, error) {
	stream, err := c.cc.NewStream(ctx, &linkStatesServiceDesc.Streams[0], publishMethod)
	if err != nil {
		return 0, err
	}
	for _, snap := range snaps {
		msg, err := SnapshotToStruct(snap)
		if err != nil {
			return 0, err
		}
		if err := stream.SendMsg(msg); err != nil {
			return 0, err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return 0, err
	}
	summary := new(structpb.Struct)
	if err := stream.RecvMsg(summary); err != nil {
		return 0, err
	}
	return int(summary.GetFields()["accepted"].GetNumberValue()), nil
}

// Watch is an open WatchTransforms stream.
type Watch struct {
	stream grpc.ClientStream
}

// WatchTransforms subscribes to edges whose child frame starts with
// childPrefix ("" for all).
func (c *Client) WatchTransforms(ctx context.Context, childPrefix string) (*Watch, error) {
	stream, err := c.cc.NewStream(ctx, &linkStatesServiceDesc.Streams[1], watchMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]interface{}{"child_prefix": childPrefix})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watch{stream: stream}, nil
}

// Recv blocks for the next broadcast batch.
func (w *Watch) Recv() (time.Time, []model.TransformEdge, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return time.Time{}, nil, err
	}
	return EdgesFromStruct(msg)
}
