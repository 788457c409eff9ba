// Package bridge turns pose snapshots into broadcast transform edges.
//
// Each admitted snapshot is processed to completion: every link's parent is
// resolved, the parent-relative transform is computed from the two world
// poses, and the edges are handed to the sink unless the stamp was already
// published. Failures concern one link and one tick only.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/framebridge/core"
	"github.com/signalsfoundry/framebridge/internal/logging"
	"github.com/signalsfoundry/framebridge/internal/observability"
	"github.com/signalsfoundry/framebridge/model"
	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/mat"
)

// ErrMissingParentPose indicates the resolved parent frame is not part of
// the snapshot.
var ErrMissingParentPose = errors.New("parent pose missing from snapshot")

// Reasons an edge is skipped for one tick.
const (
	ReasonAmbiguousName      = "ambiguous_name"
	ReasonMalformedTransform = "malformed_transform"
	ReasonMissingParentPose  = "missing_parent_pose"
)

// ParentResolver is satisfied by core.TreeResolver.
type ParentResolver interface {
	ResolveParent(ctx context.Context, flatLinkName string) (core.Resolution, error)
	WorldFrame() string
}

// MetricsRecorder is satisfied by observability.BridgeCollector.
type MetricsRecorder interface {
	RecordSnapshot(processed bool)
	RecordProcessing(took time.Duration, published, ignored int, duplicate bool)
	RecordSkippedEdge(reason string)
}

// IgnoredEdge is an edge suppressed by the ignore list.
type IgnoredEdge struct {
	Parent string
	Child  string
}

// SkippedEdge is an edge dropped because of a per-link error.
type SkippedEdge struct {
	Child  string
	Reason string
	Err    error
}

// Result reports what happened to one snapshot.
type Result struct {
	// Processed is false when the snapshot was throttled.
	Processed bool
	// Published is false for a processed snapshot whose stamp was already
	// broadcast.
	Published bool
	// Edges carry frame names after the frame namer was applied.
	Edges   []model.TransformEdge
	Ignored []IgnoredEdge
	Skipped []SkippedEdge
}

// Bridge owns the publish gate and routes processed edges to a sink.
type Bridge struct {
	resolver ParentResolver
	gate     *core.PublishGate
	sink     Sink
	namer    core.FrameNamer
	log      logging.Logger
	metrics  MetricsRecorder

	mu     sync.Mutex
	warned map[skipKey]bool
}

type skipKey struct {
	child  string
	reason string
}

// Option customises Bridge construction.
type Option func(*Bridge)

// WithSink sets the broadcast sink. Without one, edges are computed but
// go nowhere.
func WithSink(s Sink) Option {
	return func(b *Bridge) { b.sink = s }
}

// WithGate replaces the default gate (DefaultUpdatePeriod).
func WithGate(g *core.PublishGate) Option {
	return func(b *Bridge) {
		if g != nil {
			b.gate = g
		}
	}
}

// WithFrameNamer sets the naming applied to emitted frame names.
func WithFrameNamer(n core.FrameNamer) Option {
	return func(b *Bridge) {
		if n != nil {
			b.namer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New returns a bridge resolving parents with resolver.
func New(resolver ParentResolver, opts ...Option) *Bridge {
	b := &Bridge{
		resolver: resolver,
		gate:     core.NewPublishGate(core.DefaultUpdatePeriod),
		namer:    core.VerbatimFrameName,
		log:      logging.Noop(),
		warned:   make(map[skipKey]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run processes snapshots from in, one at a time, until in is closed or
// ctx is cancelled. A snapshot already being processed is finished first.
func (b *Bridge) Run(ctx context.Context, in <-chan model.PoseSnapshot) error {
	b.log.Info(ctx, "bridge running", logging.Duration("update_period", b.gate.Period()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-in:
			if !ok {
				b.log.Info(ctx, "pose stream closed")
				return nil
			}
			if _, err := b.HandleSnapshot(ctx, snap); err != nil {
				b.log.Warn(ctx, "snapshot not broadcast", logging.Err(err))
			}
		}
	}
}

// HandleSnapshot runs one snapshot through the gate, resolution and
// transform computation. The returned error is a sink failure; per-link
// problems are reported in Result.Skipped.
func (b *Bridge) HandleSnapshot(ctx context.Context, snap model.PoseSnapshot) (Result, error) {
	if !b.gate.Admit(snap.Stamp) {
		b.recordSnapshot(false)
		return Result{}, nil
	}
	b.recordSnapshot(true)
	start := time.Now()

	ctx, _ = logging.NewTickContext(ctx)
	ctx, span := observability.StartSpan(ctx, observability.SnapshotSpanName,
		attribute.Int("links", len(snap.Links)),
	)
	defer span.End()

	res := Result{Processed: true}
	poses, poseErrs := b.worldPoses(snap)

	for _, link := range snap.Links {
		resolution, err := b.resolver.ResolveParent(ctx, link.Name)
		if err != nil {
			res.Skipped = append(res.Skipped, b.skip(ctx, link.Name, ReasonAmbiguousName, err))
			continue
		}
		if resolution.Kind == core.ParentIgnored {
			b.log.Debug(ctx, "ignoring transform",
				logging.String("parent", resolution.Parent),
				logging.String("child", link.Name),
			)
			res.Ignored = append(res.Ignored, IgnoredEdge{Parent: resolution.Parent, Child: link.Name})
			continue
		}

		edge, reason, err := b.edge(snap.Stamp, link.Name, resolution.Parent, poses, poseErrs)
		if err != nil {
			res.Skipped = append(res.Skipped, b.skip(ctx, link.Name, reason, err))
			continue
		}
		res.Edges = append(res.Edges, edge)
	}

	res.Published = b.gate.ShouldPublish(snap.Stamp)
	if b.metrics != nil {
		b.metrics.RecordProcessing(time.Since(start), publishedCount(res), len(res.Ignored), !res.Published)
	}
	span.SetAttributes(
		attribute.Int("edges", len(res.Edges)),
		attribute.Int("ignored", len(res.Ignored)),
		attribute.Int("skipped", len(res.Skipped)),
		attribute.Bool("published", res.Published),
	)

	if !res.Published {
		b.log.Debug(ctx, "repeated stamp; not broadcasting",
			logging.String("stamp", snap.Stamp.Format(time.RFC3339Nano)),
		)
		return res, nil
	}
	if b.sink == nil || len(res.Edges) == 0 {
		return res, nil
	}
	if err := b.sink.Publish(ctx, snap.Stamp, res.Edges); err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("publish %d edges: %w", len(res.Edges), err)
	}
	return res, nil
}

// worldPoses converts every reported pose to a homogeneous transform and
// adds the identity pose of the world frame.
func (b *Bridge) worldPoses(snap model.PoseSnapshot) (map[string]*mat.Dense, map[string]error) {
	poses := make(map[string]*mat.Dense, len(snap.Links)+1)
	var errs map[string]error
	for _, link := range snap.Links {
		t, err := core.HomogeneousFromPose(link.Pose)
		if err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[link.Name] = err
			delete(poses, link.Name)
			continue
		}
		poses[link.Name] = t
	}
	poses[b.resolver.WorldFrame()] = core.Identity()
	return poses, errs
}

func (b *Bridge) edge(stamp time.Time, child, parent string, poses map[string]*mat.Dense, poseErrs map[string]error) (model.TransformEdge, string, error) {
	childT, ok := poses[child]
	if !ok {
		return model.TransformEdge{}, ReasonMalformedTransform, fmt.Errorf("child %q: %w", child, poseErrs[child])
	}
	parentT, ok := poses[parent]
	if !ok {
		if err, bad := poseErrs[parent]; bad {
			return model.TransformEdge{}, ReasonMalformedTransform, fmt.Errorf("parent %q: %w", parent, err)
		}
		return model.TransformEdge{}, ReasonMissingParentPose, fmt.Errorf("%w: %q", ErrMissingParentPose, parent)
	}

	translation, rotation, err := core.RelativeTransform(parentT, childT)
	if err != nil {
		return model.TransformEdge{}, ReasonMalformedTransform, err
	}
	return model.TransformEdge{
		Parent:      b.namer(parent),
		Child:       b.namer(child),
		Stamp:       stamp,
		Translation: translation,
		Rotation:    rotation,
	}, "", nil
}

// skip records a dropped edge. The first occurrence per link and reason is
// a warning, repeats are debug.
func (b *Bridge) skip(ctx context.Context, child, reason string, err error) SkippedEdge {
	if b.metrics != nil {
		b.metrics.RecordSkippedEdge(reason)
	}
	key := skipKey{child: child, reason: reason}
	b.mu.Lock()
	first := !b.warned[key]
	b.warned[key] = true
	b.mu.Unlock()

	fields := []logging.Field{
		logging.String("child", child),
		logging.String("reason", reason),
		logging.Err(err),
	}
	if first {
		b.log.Warn(ctx, "skipping transform", fields...)
	} else {
		b.log.Debug(ctx, "skipping transform", fields...)
	}
	return SkippedEdge{Child: child, Reason: reason, Err: err}
}

func (b *Bridge) recordSnapshot(processed bool) {
	if b.metrics != nil {
		b.metrics.RecordSnapshot(processed)
	}
}

func publishedCount(res Result) int {
	if !res.Published {
		return 0
	}
	return len(res.Edges)
}
