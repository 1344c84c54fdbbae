package latlon

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// LatLonS2 does the same spherical geodesy as LatLonHaversine on top of the
// S2 library, and wraps destination longitudes into [-180, 180].
type LatLonS2 struct{}

func (LatLonS2) DistanceTo(from, to LatLon) float64 {
	return from.toS2().Distance(to.toS2()).Radians() * R
}

func (LatLonS2) BearingTo(from, to LatLon) float64 {
	f := from.toS2()
	t := to.toS2()

	Δλ := (t.Lng - f.Lng).Radians()
	x := math.Cos(f.Lat.Radians())*math.Sin(t.Lat.Radians()) - math.Sin(f.Lat.Radians())*math.Cos(t.Lat.Radians())*math.Cos(Δλ)
	y := math.Sin(Δλ) * math.Cos(t.Lat.Radians())

	return wrap360(s1.Angle(math.Atan2(y, x)).Degrees())
}

func (s LatLonS2) DistanceAndBearingTo(from, to LatLon) (float64, float64) {
	return s.DistanceTo(from, to), s.BearingTo(from, to)
}

func (LatLonS2) Destination(from LatLon, bearing float64, distance float64) LatLon {
	to := DirectGeodesic(from, distance, (s1.Angle(bearing) * s1.Degree).Radians())
	ll := s2.LatLngFromDegrees(to.Lat, to.Lon).Normalized()
	return LatLon{Lat: ll.Lat.Degrees(), Lon: ll.Lng.Degrees()}
}
