package latlon

import "math"

// LatLonHaversine solves the inverse problem with the haversine formula and
// the direct one with DirectGeodesic.
type LatLonHaversine struct{}

// inverse returns the distance in meters and the initial bearing in radians
// from `from` to `to`.
func (LatLonHaversine) inverse(from, to LatLon) (float64, float64) {
	φ1, φ2 := toRadians(from.Lat), toRadians(to.Lat)
	Δφ := φ2 - φ1
	Δλ := toRadians(to.Lon - from.Lon)

	sinΔφ, sinΔλ := math.Sin(Δφ/2), math.Sin(Δλ/2)
	a := sinΔφ*sinΔφ + math.Cos(φ1)*math.Cos(φ2)*sinΔλ*sinΔλ
	δ := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	y := math.Sin(Δλ) * math.Cos(φ2)
	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)

	return R * δ, math.Atan2(y, x)
}

func (hav LatLonHaversine) DistanceTo(from, to LatLon) float64 {
	d, _ := hav.inverse(from, to)
	return d
}

// BearingTo is the initial bearing in degrees, in [0, 360).
func (hav LatLonHaversine) BearingTo(from, to LatLon) float64 {
	_, θ := hav.inverse(from, to)
	return wrap360(toDegrees(θ))
}

func (hav LatLonHaversine) DistanceAndBearingTo(from, to LatLon) (float64, float64) {
	d, θ := hav.inverse(from, to)
	return d, wrap360(toDegrees(θ))
}

// Destination takes the bearing in degrees, like BearingTo returns it.
func (LatLonHaversine) Destination(from LatLon, bearing float64, distance float64) LatLon {
	return DirectGeodesic(from, distance, toRadians(bearing))
}

// DirectGeodesic returns the point reached from `from` after travelling
// `distance` meters along the great circle leaving at `bearing` radians
// (clockwise from north).
//
// The longitude is not wrapped: a path crossing the antimeridian comes back
// outside [-180, 180].
func DirectGeodesic(from LatLon, distance float64, bearing float64) LatLon {
	φ1 := toRadians(from.Lat)
	λ1 := toRadians(from.Lon)
	θ := bearing

	δ := distance / R

	φ2 := math.Asin(math.Sin(φ1)*math.Cos(δ) + math.Cos(φ1)*math.Sin(δ)*math.Cos(θ))
	λ2 := λ1 + math.Atan2(math.Sin(θ)*math.Sin(δ)*math.Cos(φ1), math.Cos(δ)-math.Sin(φ1)*math.Sin(φ2))

	return LatLon{Lat: toDegrees(φ2), Lon: toDegrees(λ2)}
}
