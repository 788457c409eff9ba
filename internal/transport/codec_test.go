package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signalsfoundry/framebridge/model"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestDecodeSnapshot(t *testing.T) {
	data := []byte(`{
		"stamp": {"secs": 12, "nsecs": 500000000},
		"name": ["cart_1::chassis", "cart_1::wheel"],
		"pose": [
			{"position": {"x": 1, "y": 2, "z": 0}, "orientation": {"x": 0, "y": 0, "z": 0, "w": 1}},
			{"position": {"x": 1.5, "y": 2, "z": 0.1}, "orientation": {"x": 0, "y": 0, "z": 0.7071, "w": 0.7071}}
		]
	}`)

	snap, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot error: %v", err)
	}
	if want := time.Unix(12, 500000000).UTC(); !snap.Stamp.Equal(want) {
		t.Fatalf("Stamp = %v, want %v", snap.Stamp, want)
	}
	want := []model.LinkPose{
		{Name: "cart_1::chassis", Pose: model.Pose{Position: r3.Vec{X: 1, Y: 2}, Orientation: quat.Number{Real: 1}}},
		{Name: "cart_1::wheel", Pose: model.Pose{Position: r3.Vec{X: 1.5, Y: 2, Z: 0.1}, Orientation: quat.Number{Real: 0.7071, Kmag: 0.7071}}},
	}
	if diff := cmp.Diff(want, snap.Links); diff != "" {
		t.Fatalf("Links mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSnapshotRejectsMismatchedArrays(t *testing.T) {
	cases := map[string]string{
		"lengths": `{"stamp":{"secs":1},"name":["a::b","a::c"],"pose":[{}]}`,
		"syntax":  `{"stamp":`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeSnapshot([]byte(data)); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("DecodeSnapshot error = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestEdgesSurviveStructConversion(t *testing.T) {
	stamp := time.Unix(3, 250000000).UTC()
	edges := []model.TransformEdge{{
		Parent:      "cart_1__chassis",
		Child:       "cart_1__wheel",
		Stamp:       stamp,
		Translation: r3.Vec{X: 0.5, Z: -0.25},
		Rotation:    quat.Number{Real: 0.5, Imag: 0.5, Jmag: 0.5, Kmag: 0.5},
	}}

	msg, err := EdgesToStruct(stamp, edges)
	if err != nil {
		t.Fatalf("EdgesToStruct error: %v", err)
	}
	gotStamp, got, err := EdgesFromStruct(msg)
	if err != nil {
		t.Fatalf("EdgesFromStruct error: %v", err)
	}
	if !gotStamp.Equal(stamp) {
		t.Fatalf("stamp = %v, want %v", gotStamp, stamp)
	}
	if diff := cmp.Diff(edges, got); diff != "" {
		t.Fatalf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotFromStructNil(t *testing.T) {
	if _, err := SnapshotFromStruct(nil); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("SnapshotFromStruct(nil) error = %v, want ErrMalformedMessage", err)
	}
}
