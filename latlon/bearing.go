package latlon

import "math"

// AbsoluteBearing turns a bearing relative to the anchor's forward axis
// (radians, clockwise positive) into a compass bearing, given the compass
// heading of that axis in degrees. The result is in [0, 2π).
func AbsoluteBearing(relative float64, heading float64) float64 {
	b := relative + toRadians(heading)
	return wrapTwoPi(b)
}

func wrapTwoPi(b float64) float64 {
	b = math.Mod(b, 2*π)
	if b < 0 {
		b += 2 * π
	}
	// -ε + 2π rounds to 2π
	if b >= 2*π {
		b = 0
	}
	return b
}
