package latlon

import (
	"math"

	"github.com/golang/geo/s2"
)

const π = math.Pi

// R is the Earth radius in meters. The geodesy is done on a sphere of this
// radius, not on the WGS84 ellipsoid, so results drift from survey-grade
// positions by up to ~0.5% of the distance travelled.
const R = 6378100.0

type LatLonInterface interface {
	DistanceTo(from, to LatLon) float64
	BearingTo(from, to LatLon) float64
	DistanceAndBearingTo(from, to LatLon) (float64, float64)
	Destination(from LatLon, bearing float64, distance float64) LatLon
}

var (
	_ LatLonInterface = LatLonHaversine{}
	_ LatLonInterface = LatLonS2{}
)

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the latitude is within [-90, 90] and the longitude
// within [-180, 180].
func (l LatLon) Valid() bool {
	return s2.LatLngFromDegrees(l.Lat, l.Lon).IsValid()
}

func (l LatLon) toS2() s2.LatLng {
	return s2.LatLngFromDegrees(l.Lat, l.Lon)
}

func toRadians(a float64) float64 {
	return a * π / 180.0
}

func toDegrees(a float64) float64 {
	return a * 180.0 / π
}

func wrap360(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}
