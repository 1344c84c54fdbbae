package tracking

import (
	"math"

	"github.com/mmcloughlin/geohash"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/a-bouts/geo-anchor/latlon"
	"github.com/a-bouts/geo-anchor/pose"
)

// GeoReference pins the anchor to the real world: where the reference image
// is, and the compass heading its forward axis points to.
type GeoReference struct {
	Position latlon.LatLon `json:"position"`
	Heading  float64       `json:"heading"`
}

// Fix is everything derived from one device frame.
type Fix struct {
	pose.RelativeObservation
	AbsoluteBearing float64       `json:"absoluteBearing"`
	Position        latlon.LatLon `json:"position"`
	Geohash         string        `json:"geohash,omitempty"`
}

// Locate projects the device onto the anchor's ground plane and carries the
// offset over to the reference coordinate.
func Locate(device r3.Vec, anchor pose.AnchorFrame, ref GeoReference) Fix {
	o := pose.ProjectToAnchorLocal(device, anchor)
	b := latlon.AbsoluteBearing(o.Bearing, ref.Heading)

	return Fix{
		RelativeObservation: o,
		AbsoluteBearing:     b,
		Position:            latlon.DirectGeodesic(ref.Position, o.Distance, b),
	}
}

func ComputeGeoPosition(device r3.Vec, anchor pose.AnchorFrame, ref GeoReference) latlon.LatLon {
	return Locate(device, anchor, ref).Position
}

// LocateWith is Locate with the destination taken from formula. A nil
// formula is the same as Locate.
func LocateWith(formula latlon.LatLonInterface, device r3.Vec, anchor pose.AnchorFrame, ref GeoReference) Fix {
	f := Locate(device, anchor, ref)
	if formula != nil {
		f.Position = formula.Destination(ref.Position, f.AbsoluteBearing*180/math.Pi, f.Distance)
	}
	return f
}

func (f Fix) finite() bool {
	for _, v := range []float64{f.Distance, f.Bearing, f.AbsoluteBearing, f.Position.Lat, f.Position.Lon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Leg is the great-circle leg from the reference to a fix, measured back
// from the computed position. Distance is in meters, bearing in degrees.
type Leg struct {
	Distance float64 `json:"distance"`
	Bearing  float64 `json:"bearing"`
}

func measureLeg(formula latlon.LatLonInterface, ref GeoReference, f Fix) Leg {
	d, b := formula.DistanceAndBearingTo(ref.Position, f.Position)
	return Leg{Distance: d, Bearing: b}
}

func (f *Fix) encodeGeohash(precision uint) {
	if precision == 0 || !f.Position.Valid() {
		return
	}
	f.Geohash = geohash.EncodeWithPrecision(f.Position.Lat, f.Position.Lon, precision)
}
