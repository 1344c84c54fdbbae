package pose

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a rigid transform in the AR world frame: Y is up, -Z is the
// camera's initial forward direction, units are meters.
type Pose struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// AnchorFrame is the pose of the tracked reference image with pitch and roll
// removed. Build it with UpdateAnchorFrame, never by hand.
type AnchorFrame struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// RelativeObservation is where the device stands on the ground plane as seen
// from the anchor.
type RelativeObservation struct {
	Distance float64 `json:"distance"`
	Bearing  float64 `json:"bearing"`
}

var ErrDegenerateTransform = errors.New("transform has no usable rotation")

func Identity() quat.Number {
	return quat.Number{Real: 1}
}

// FromMatrix builds a Pose from a 4x4 column-major homogeneous transform,
// the layout AR runtimes hand out for camera and anchor transforms. Scale
// is stripped from the upper 3x3 before the rotation is extracted. A column
// of zero or non-finite norm gives ErrDegenerateTransform.
func FromMatrix(m [16]float64) (Pose, error) {
	cols := [3]r3.Vec{
		{X: m[0], Y: m[1], Z: m[2]},
		{X: m[4], Y: m[5], Z: m[6]},
		{X: m[8], Y: m[9], Z: m[10]},
	}
	for i, c := range cols {
		n := r3.Norm(c)
		if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return Pose{}, ErrDegenerateTransform
		}
		cols[i] = r3.Scale(1/n, c)
	}

	q := rotationFromColumns(cols[0], cols[1], cols[2])
	if !finiteQuat(q) {
		return Pose{}, ErrDegenerateTransform
	}

	return Pose{
		Translation: r3.Vec{X: m[12], Y: m[13], Z: m[14]},
		Rotation:    q,
	}, nil
}

func finiteQuat(q quat.Number) bool {
	for _, v := range []float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return quat.Abs(q) != 0
}

func rotationFromColumns(c0, c1, c2 r3.Vec) quat.Number {
	r00, r10, r20 := c0.X, c0.Y, c0.Z
	r01, r11, r21 := c1.X, c1.Y, c1.Z
	r02, r12, r22 := c2.X, c2.Y, c2.Z

	var q quat.Number
	switch trace := r00 + r11 + r22; {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (r21 - r12) / s, Jmag: (r02 - r20) / s, Kmag: (r10 - r01) / s}
	case r00 > r11 && r00 > r22:
		s := math.Sqrt(1+r00-r11-r22) * 2
		q = quat.Number{Real: (r21 - r12) / s, Imag: 0.25 * s, Jmag: (r01 + r10) / s, Kmag: (r02 + r20) / s}
	case r11 > r22:
		s := math.Sqrt(1+r11-r00-r22) * 2
		q = quat.Number{Real: (r02 - r20) / s, Imag: (r01 + r10) / s, Jmag: 0.25 * s, Kmag: (r12 + r21) / s}
	default:
		s := math.Sqrt(1+r22-r00-r11) * 2
		q = quat.Number{Real: (r10 - r01) / s, Imag: (r02 + r20) / s, Jmag: (r12 + r21) / s, Kmag: 0.25 * s}
	}

	if n := quat.Abs(q); n != 0 && n != 1 {
		q = quat.Scale(1/n, q)
	}
	return q
}
