// Package transform provides the coordinate frame conversions the connectivity
// core depends on: Julian date / Greenwich Mean Sidereal Time, rotations
// between the Earth-centered inertial and Earth-fixed frames, and closed-form
// conversions between fixed-frame Cartesian and geodetic coordinates.
//
// All distances are kilometers, velocities km/s. Angular outputs are
// normalized to their conventional ranges: longitude [−180°, 180°], latitude
// [−90°, 90°], GMST [0, 2π).
package transform

import (
	"math"
	"time"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// JulianDate converts a time.Time (UTC) to Julian Date.
// Uses the standard astronomical algorithm valid for dates after March 1, 4801 BC.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	min := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	// Adjust year/month for Jan/Feb (treat as months 13/14 of previous year).
	if m <= 2 {
		y -= 1
		m += 12
	}

	A := math.Floor(y / 100)
	B := 2 - A + math.Floor(A/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + B - 1524.5
	jd += (h + min/60.0 + s/3600.0) / 24.0

	return jd
}

// GMST calculates Greenwich Mean Sidereal Time in radians for a given UTC time.
//
// Uses the IAU polynomial in degrees (Meeus / IAU 1982 form):
//
//	GMST = 280.46061837 + 360.98564736629·d + 0.000387933·T² − T³/38710000
//
// where d is days since J2000.0 and T is Julian centuries since J2000.0.
// The result is normalized mod 360° and converted to radians.
func GMST(t time.Time) float64 {
	jd := JulianDate(t)
	d := jd - j2000
	T := d / 36525.0

	gmstDeg := 280.46061837 +
		360.98564736629*d +
		0.000387933*T*T -
		T*T*T/38710000.0

	gmstDeg = math.Mod(gmstDeg, 360.0)
	if gmstDeg < 0 {
		gmstDeg += 360.0
	}

	return gmstDeg * math.Pi / 180.0
}
