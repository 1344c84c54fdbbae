package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/a-bouts/geo-anchor/pose"
	"github.com/a-bouts/geo-anchor/tracking"
)

var ErrInvalidPose = errors.New("invalid pose")

const (
	EventAnchor = "anchor"
	EventDevice = "device"
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is either a translation with an optional rotation (identity when
// missing), or a 4x4 column-major transform.
type Pose struct {
	Translation *Vec3     `json:"translation,omitempty"`
	Rotation    *Quat     `json:"rotation,omitempty"`
	Transform   []float64 `json:"transform,omitempty"`
}

func (p Pose) ToPose() (pose.Pose, error) {
	if len(p.Transform) > 0 {
		if len(p.Transform) != 16 {
			return pose.Pose{}, fmt.Errorf("%w: transform has %d values, want 16", ErrInvalidPose, len(p.Transform))
		}
		var m [16]float64
		copy(m[:], p.Transform)
		for _, v := range m {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return pose.Pose{}, fmt.Errorf("%w: transform is not finite", ErrInvalidPose)
			}
		}
		p, err := pose.FromMatrix(m)
		if err != nil {
			return pose.Pose{}, fmt.Errorf("%w: %w", ErrInvalidPose, err)
		}
		return p, nil
	}

	if p.Translation == nil {
		return pose.Pose{}, fmt.Errorf("%w: missing translation", ErrInvalidPose)
	}
	t := r3.Vec{X: p.Translation.X, Y: p.Translation.Y, Z: p.Translation.Z}
	if !finite(t.X, t.Y, t.Z) {
		return pose.Pose{}, fmt.Errorf("%w: translation is not finite", ErrInvalidPose)
	}

	q := pose.Identity()
	if p.Rotation != nil {
		q = quat.Number{Real: p.Rotation.W, Imag: p.Rotation.X, Jmag: p.Rotation.Y, Kmag: p.Rotation.Z}
		n := quat.Abs(q)
		if !finite(n) || n == 0 {
			return pose.Pose{}, fmt.Errorf("%w: rotation is not a usable quaternion", ErrInvalidPose)
		}
		q = quat.Scale(1/n, q)
	}

	return pose.Pose{Translation: t, Rotation: q}, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Frame is the wire form of an anchor frame.
type Frame struct {
	Translation Vec3 `json:"translation"`
	Rotation    Quat `json:"rotation"`
}

func NewFrame(a pose.AnchorFrame) Frame {
	return Frame{
		Translation: Vec3{X: a.Translation.X, Y: a.Translation.Y, Z: a.Translation.Z},
		Rotation:    Quat{X: a.Rotation.Imag, Y: a.Rotation.Jmag, Z: a.Rotation.Kmag, W: a.Rotation.Real},
	}
}

// Event is one inbound pose update, on the stream and in replays.
type Event struct {
	Type string `json:"type"`
	Pose Pose   `json:"pose"`
}

type Replay struct {
	Events []Event `json:"events"`
}

// Message is what the server sends back on the stream; replays return one
// per event.
type Message struct {
	Type   string        `json:"type"`
	Fix    *tracking.Fix `json:"fix,omitempty"`
	Anchor *Frame        `json:"anchor,omitempty"`
	Error  string        `json:"error,omitempty"`
}

const (
	MessageFix     = "fix"
	MessageAnchor  = "anchor"
	MessageWaiting = "waiting"
	MessageError   = "error"
)

type Session struct {
	ID string `json:"id"`
}
