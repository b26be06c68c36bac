package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// WGS-84 ellipsoid parameters, in kilometers.
const (
	wgs84A  = 6378.137               // semi-major axis
	wgs84F  = 1.0 / 298.257223563    // flattening
	wgs84B  = wgs84A * (1 - wgs84F)  // semi-minor axis
	wgs84E2 = wgs84F * (2 - wgs84F)  // first eccentricity squared
	wgs84EP = wgs84E2 / (1 - wgs84E2) // second eccentricity squared
)

// Geodetic holds a geodetic position: latitude/longitude in degrees,
// altitude in kilometers above the WGS-84 ellipsoid.
type Geodetic struct {
	LatDeg float64 // [−90, 90]
	LonDeg float64 // [−180, 180]
	AltKm  float64
}

// FixedToGeodetic converts a fixed-frame Cartesian position (km) to geodetic
// coordinates using Bowring's closed-form method. The latitude comes from an
// auxiliary parametric angle rather than the iterative form, which avoids
// convergence trouble near the poles.
func FixedToGeodetic(pos r3.Vec) Geodetic {
	lon := math.Atan2(pos.Y, pos.X)
	p := math.Hypot(pos.X, pos.Y)

	// Auxiliary parametric angle.
	theta := math.Atan2(pos.Z*wgs84A, p*wgs84B)
	sinT := math.Sin(theta)
	cosT := math.Cos(theta)

	lat := math.Atan2(
		pos.Z+wgs84EP*wgs84B*sinT*sinT*sinT,
		p-wgs84E2*wgs84A*cosT*cosT*cosT,
	)

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - N
	} else {
		// At the poles p → 0; use the polar radius instead.
		alt = math.Abs(pos.Z) - wgs84B
	}

	return Geodetic{
		LatDeg: clampLat(lat * 180.0 / math.Pi),
		LonDeg: normalizeLon(lon * 180.0 / math.Pi),
		AltKm:  alt,
	}
}

// GeodeticToFixed converts geodetic coordinates to a fixed-frame Cartesian
// position in kilometers.
func GeodeticToFixed(g Geodetic) r3.Vec {
	lat := g.LatDeg * math.Pi / 180.0
	lon := g.LonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return r3.Vec{
		X: (N + g.AltKm) * cosLat * math.Cos(lon),
		Y: (N + g.AltKm) * cosLat * math.Sin(lon),
		Z: (N*(1-wgs84E2) + g.AltKm) * sinLat,
	}
}

// normalizeLon wraps a longitude in degrees into [−180, 180].
func normalizeLon(deg float64) float64 {
	deg = math.Mod(deg, 360.0)
	if deg > 180 {
		deg -= 360
	} else if deg < -180 {
		deg += 360
	}
	return deg
}

// clampLat bounds a latitude to [−90, 90]; float error at the poles can push
// the arctangent a hair past the limit.
func clampLat(deg float64) float64 {
	if deg > 90 {
		return 90
	}
	if deg < -90 {
		return -90
	}
	return deg
}
