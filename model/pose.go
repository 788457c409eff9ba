package model

import (
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a rigid 3D pose: a position and an orientation quaternion.
// Orientation is stored as Real=w, Imag=x, Jmag=y, Kmag=z.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
}

// IdentityPose is the pose of a frame coinciding with its reference.
func IdentityPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// LinkPose is one named entry of a PoseSnapshot.
type LinkPose struct {
	// Name is the flat link name, "instance::link".
	Name string
	// Pose is expressed in the world frame.
	Pose Pose
}

// PoseSnapshot is one simulator report of every link's world pose.
type PoseSnapshot struct {
	Stamp time.Time
	Links []LinkPose
}

// TransformEdge is a parent-relative transform ready for broadcast.
type TransformEdge struct {
	Parent      string
	Child       string
	Stamp       time.Time
	Translation r3.Vec
	Rotation    quat.Number
}
