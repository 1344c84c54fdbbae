package pose

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// degenerate is the magnitude under which both the y and w parts of a
// quaternion are treated as zero when extracting yaw.
const degenerate = 1e-12

// ReduceToYaw keeps only the rotation about the vertical axis.
//
// θ = atan2(y, w) is exact when the dropped tilt is about a horizontal axis,
// which holds for reference images mounted on an upright surface. It is not
// a full Euler decomposition.
func ReduceToYaw(q quat.Number) quat.Number {
	if math.Abs(q.Jmag) < degenerate && math.Abs(q.Real) < degenerate {
		return Identity()
	}
	θ := math.Atan2(q.Jmag, q.Real)
	sin, cos := math.Sincos(θ)
	return quat.Number{Real: cos, Jmag: sin}
}

// UpdateAnchorFrame replaces the anchor frame with p, yaw-reduced. There is
// no smoothing across updates.
func UpdateAnchorFrame(p Pose) AnchorFrame {
	return AnchorFrame{
		Translation: p.Translation,
		Rotation:    ReduceToYaw(p.Rotation),
	}
}

// ToLocal expresses a world position in the anchor's frame.
func (a AnchorFrame) ToLocal(world r3.Vec) r3.Vec {
	inverse := r3.Rotation(quat.Conj(a.Rotation))
	return inverse.Rotate(r3.Sub(world, a.Translation))
}

// ProjectToAnchorLocal measures the device against the anchor on the ground
// plane. Height (Y) does not count towards the distance. The bearing is
// positive clockwise from the anchor's forward axis (local +Z) seen from
// above.
func ProjectToAnchorLocal(device r3.Vec, a AnchorFrame) RelativeObservation {
	dx := device.X - a.Translation.X
	dz := device.Z - a.Translation.Z

	local := a.ToLocal(device)

	return RelativeObservation{
		Distance: math.Hypot(dx, dz),
		Bearing:  -math.Atan2(local.X, local.Z),
	}
}
