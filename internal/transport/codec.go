// Package transport carries pose snapshots into the bridge and transform
// edges out of it: a gRPC streaming service, a fan-out hub for watchers and
// JSON-lines replay and output.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/framebridge/model"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMalformedMessage indicates a message that cannot be decoded.
var ErrMalformedMessage = errors.New("malformed message")

// The JSON shapes follow gazebo_msgs/LinkStates: parallel name and pose
// arrays, plus a stamp in seconds and nanoseconds.
type stampJSON struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

type vec3JSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quatJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type poseJSON struct {
	Position    vec3JSON `json:"position"`
	Orientation quatJSON `json:"orientation"`
}

type linkStatesJSON struct {
	Stamp stampJSON  `json:"stamp"`
	Name  []string   `json:"name"`
	Pose  []poseJSON `json:"pose"`
}

type edgeJSON struct {
	Parent      string   `json:"parent"`
	Child       string   `json:"child"`
	Translation vec3JSON `json:"translation"`
	Rotation    quatJSON `json:"rotation"`
}

type edgeBatchJSON struct {
	Stamp      stampJSON  `json:"stamp"`
	Transforms []edgeJSON `json:"transforms"`
}

func toStamp(t time.Time) stampJSON {
	if t.IsZero() {
		return stampJSON{}
	}
	return stampJSON{Secs: t.Unix(), Nsecs: int64(t.Nanosecond())}
}

func (s stampJSON) time() time.Time {
	return time.Unix(s.Secs, s.Nsecs).UTC()
}

func toVec(v r3.Vec) vec3JSON       { return vec3JSON{X: v.X, Y: v.Y, Z: v.Z} }
func (v vec3JSON) vec() r3.Vec      { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }
func toQuat(q quat.Number) quatJSON { return quatJSON{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real} }
func (q quatJSON) quat() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// DecodeSnapshot parses one link-states JSON document.
func DecodeSnapshot(data []byte) (model.PoseSnapshot, error) {
	var msg linkStatesJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.PoseSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(msg.Name) != len(msg.Pose) {
		return model.PoseSnapshot{}, fmt.Errorf("%w: %d names but %d poses", ErrMalformedMessage, len(msg.Name), len(msg.Pose))
	}
	snap := model.PoseSnapshot{
		Stamp: msg.Stamp.time(),
		Links: make([]model.LinkPose, len(msg.Name)),
	}
	for i, name := range msg.Name {
		snap.Links[i] = model.LinkPose{
			Name: name,
			Pose: model.Pose{
				Position:    msg.Pose[i].Position.vec(),
				Orientation: msg.Pose[i].Orientation.quat(),
			},
		}
	}
	return snap, nil
}

// EncodeSnapshot renders a snapshot as a link-states JSON document.
func EncodeSnapshot(snap model.PoseSnapshot) ([]byte, error) {
	msg := linkStatesJSON{
		Stamp: toStamp(snap.Stamp),
		Name:  make([]string, len(snap.Links)),
		Pose:  make([]poseJSON, len(snap.Links)),
	}
	for i, l := range snap.Links {
		msg.Name[i] = l.Name
		msg.Pose[i] = poseJSON{Position: toVec(l.Pose.Position), Orientation: toQuat(l.Pose.Orientation)}
	}
	return json.Marshal(msg)
}

// EncodeEdges renders one broadcast batch as JSON.
func EncodeEdges(stamp time.Time, edges []model.TransformEdge) ([]byte, error) {
	msg := edgeBatchJSON{
		Stamp:      toStamp(stamp),
		Transforms: make([]edgeJSON, len(edges)),
	}
	for i, e := range edges {
		msg.Transforms[i] = edgeJSON{
			Parent:      e.Parent,
			Child:       e.Child,
			Translation: toVec(e.Translation),
			Rotation:    toQuat(e.Rotation),
		}
	}
	return json.Marshal(msg)
}

// DecodeEdges parses a batch produced by EncodeEdges.
func DecodeEdges(data []byte) (time.Time, []model.TransformEdge, error) {
	var msg edgeBatchJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	stamp := msg.Stamp.time()
	edges := make([]model.TransformEdge, len(msg.Transforms))
	for i, e := range msg.Transforms {
		edges[i] = model.TransformEdge{
			Parent:      e.Parent,
			Child:       e.Child,
			Stamp:       stamp,
			Translation: e.Translation.vec(),
			Rotation:    e.Rotation.quat(),
		}
	}
	return stamp, edges, nil
}

// toStruct and fromStruct bridge the JSON codec to the structpb messages
// exchanged over gRPC.
func toStruct(data []byte) (*structpb.Struct, error) {
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	return protojson.Marshal(s)
}

// SnapshotToStruct converts a snapshot to its gRPC message form.
func SnapshotToStruct(snap model.PoseSnapshot) (*structpb.Struct, error) {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	return toStruct(data)
}

// SnapshotFromStruct converts a gRPC message back into a snapshot.
func SnapshotFromStruct(s *structpb.Struct) (model.PoseSnapshot, error) {
	data, err := fromStruct(s)
	if err != nil {
		return model.PoseSnapshot{}, err
	}
	return DecodeSnapshot(data)
}

// EdgesToStruct converts a broadcast batch to its gRPC message form.
func EdgesToStruct(stamp time.Time, edges []model.TransformEdge) (*structpb.Struct, error) {
	data, err := EncodeEdges(stamp, edges)
	if err != nil {
		return nil, err
	}
	return toStruct(data)
}

// EdgesFromStruct converts a gRPC message back into a batch.
func EdgesFromStruct(s *structpb.Struct) (time.Time, []model.TransformEdge, error) {
	data, err := fromStruct(s)
	if err != nil {
		return time.Time{}, nil, err
	}
	return DecodeEdges(data)
}
