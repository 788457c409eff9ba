package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/framebridge/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMalformedTransform indicates a matrix that is not a rigid transform.
var ErrMalformedTransform = errors.New("malformed rigid transform")

// rigidTolerance bounds the deviation from orthonormality and from the
// homogeneous row accepted for a rigid transform.
const rigidTolerance = 1e-6

var identity3 = mat.NewDiagDense(3, []float64{1, 1, 1})

// HomogeneousFromPose returns the row-major 4x4 homogeneous transform of p.
// The orientation is normalised; a zero or non-finite quaternion is rejected.
func HomogeneousFromPose(p model.Pose) (*mat.Dense, error) {
	q := p.Orientation
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("%w: orientation quaternion %v has no direction", ErrMalformedTransform, q)
	}
	if !finite(p.Position.X, p.Position.Y, p.Position.Z) {
		return nil, fmt.Errorf("%w: position %v is not finite", ErrMalformedTransform, p.Position)
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	return mat.NewDense(4, 4, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), p.Position.X,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), p.Position.Y,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), p.Position.Z,
		0, 0, 0, 1,
	}), nil
}

// Identity returns the 4x4 identity transform.
func Identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Validate reports whether t is a 4x4 rigid transform: finite entries, a
// [0 0 0 1] bottom row and a proper orthonormal rotation block.
func Validate(t mat.Matrix) error {
	if t == nil {
		return fmt.Errorf("%w: nil matrix", ErrMalformedTransform)
	}
	r, c := t.Dims()
	if r != 4 || c != 4 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrMalformedTransform, r, c)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if !finite(t.At(i, j)) {
				return fmt.Errorf("%w: entry (%d,%d) is not finite", ErrMalformedTransform, i, j)
			}
		}
	}
	for j, want := range []float64{0, 0, 0, 1} {
		if math.Abs(t.At(3, j)-want) > rigidTolerance {
			return fmt.Errorf("%w: homogeneous row is not [0 0 0 1]", ErrMalformedTransform)
		}
	}

	rot := rotationBlock(t)
	var rtr mat.Dense
	rtr.Mul(rot.T(), rot)
	if !mat.EqualApprox(&rtr, identity3, rigidTolerance) {
		return fmt.Errorf("%w: rotation block is not orthonormal", ErrMalformedTransform)
	}
	if det := mat.Det(rot); math.Abs(det-1) > rigidTolerance {
		return fmt.Errorf("%w: rotation determinant %g", ErrMalformedTransform, det)
	}
	return nil
}

// Invert returns the inverse of the rigid transform t.
func Invert(t mat.Matrix) (*mat.Dense, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}
	rot := rotationBlock(t)
	p := mat.NewVecDense(3, []float64{t.At(0, 3), t.At(1, 3), t.At(2, 3)})

	var pInv mat.VecDense
	pInv.MulVec(rot.T(), p)

	inv := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv.Set(i, j, rot.At(j, i))
		}
		inv.Set(i, 3, -pInv.AtVec(i))
	}
	inv.Set(3, 3, 1)
	return inv, nil
}

// Compose returns a·b.
func Compose(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}

// ToTranslationRotation decomposes a rigid transform into its translation
// and a unit rotation quaternion with a non-negative real part.
func ToTranslationRotation(t mat.Matrix) (r3.Vec, quat.Number, error) {
	if err := Validate(t); err != nil {
		return r3.Vec{}, quat.Number{}, err
	}
	translation := r3.Vec{X: t.At(0, 3), Y: t.At(1, 3), Z: t.At(2, 3)}

	m00, m01, m02 := t.At(0, 0), t.At(0, 1), t.At(0, 2)
	m10, m11, m12 := t.At(1, 0), t.At(1, 1), t.At(1, 2)
	m20, m21, m22 := t.At(2, 0), t.At(2, 1), t.At(2, 2)

	// Shepperd: branch on the largest diagonal term so the divisor stays
	// away from zero.
	var q quat.Number
	switch trace := m00 + m11 + m22; {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}

	q = quat.Scale(1/quat.Abs(q), q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return translation, q, nil
}

// RelativeTransform returns the pose of child expressed in the frame of
// parent, both given in the same reference frame.
func RelativeTransform(parent, child mat.Matrix) (r3.Vec, quat.Number, error) {
	inv, err := Invert(parent)
	if err != nil {
		return r3.Vec{}, quat.Number{}, fmt.Errorf("parent: %w", err)
	}
	if err := Validate(child); err != nil {
		return r3.Vec{}, quat.Number{}, fmt.Errorf("child: %w", err)
	}
	return ToTranslationRotation(Compose(inv, child))
}

func rotationBlock(t mat.Matrix) *mat.Dense {
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, t.At(i, j))
		}
	}
	return rot
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
