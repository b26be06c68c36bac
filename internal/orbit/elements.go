// Package orbit implements two-body orbital mechanics: conversion between
// Cartesian state vectors and classical orbital elements, Kepler's-equation
// solving, and Keplerian propagation.
//
// All distances are in kilometers, velocities in km/s, angles in radians,
// gravitational parameters in km³/s². The conversion algorithms follow
// Curtis, "Orbital Mechanics for Engineering Students", Algorithms 4.1/4.2.
package orbit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// EarthMu is the standard gravitational parameter of Earth in km³/s².
const EarthMu = 398600.4418

// degenerateTol is the magnitude below which a position, angular momentum,
// or node vector is treated as degenerate rather than divided by.
const degenerateTol = 1e-8

// nearCircularTol is the eccentricity below which the eccentricity vector
// direction is unreliable and the orbit is treated as circular.
const nearCircularTol = 1e-8

// ErrDegenerateOrbit is returned when a state vector cannot be represented
// in classical orbital elements: rectilinear trajectories (near-zero angular
// momentum), near-equatorial orbits (undefined node), or a position at the
// frame origin. Callers must treat the orbit as non-representable instead of
// propagating the resulting garbage.
var ErrDegenerateOrbit = errors.New("orbit: degenerate orbit")

// Elements holds classical (Keplerian) orbital elements.
type Elements struct {
	H             float64 // specific angular momentum magnitude, km²/s
	Eccentricity  float64 // e >= 0; e < 1 required for closed-orbit propagation
	Inclination   float64 // radians, [0, π]
	RAAN          float64 // right ascension of ascending node Ω, radians [0, 2π)
	ArgPeriapsis  float64 // argument of periapsis ω, radians [0, 2π)
	TrueAnomaly   float64 // ν, radians [0, 2π)
	SemiMajorAxis float64 // a, km (negative for hyperbolic trajectories)
}

// FromStateVector converts an inertial position (km) and velocity (km/s) into
// classical orbital elements for the given gravitational parameter mu.
//
// Quadrant corrections: Ω uses the sign of the node vector Y component, ω the
// sign of the eccentricity vector Z component, and ν the sign of the radial
// velocity. For near-circular orbits ω is set to zero and ν is measured from
// the ascending node, avoiding division by the vanishing eccentricity vector.
func FromStateVector(r, v r3.Vec, mu float64) (Elements, error) {
	rMag := r3.Norm(r)
	if rMag < degenerateTol {
		return Elements{}, fmt.Errorf("%w: position magnitude %.3e km below threshold", ErrDegenerateOrbit, rMag)
	}

	vr := r3.Dot(r, v) / rMag

	hVec := r3.Cross(r, v)
	h := r3.Norm(hVec)
	if h < degenerateTol {
		return Elements{}, fmt.Errorf("%w: angular momentum %.3e (rectilinear trajectory)", ErrDegenerateOrbit, h)
	}

	incl := math.Acos(clamp(hVec.Z/h, -1, 1))

	// Node vector n = ẑ × h.
	nVec := r3.Vec{X: -hVec.Y, Y: hVec.X, Z: 0}
	n := r3.Norm(nVec)
	if n < degenerateTol {
		return Elements{}, fmt.Errorf("%w: node vector %.3e (near-equatorial orbit)", ErrDegenerateOrbit, n)
	}

	// Eccentricity vector e = (v × h)/μ − r̂.
	eVec := r3.Sub(r3.Scale(1/mu, r3.Cross(v, hVec)), r3.Scale(1/rMag, r))
	e := r3.Norm(eVec)

	raan := math.Acos(clamp(nVec.X/n, -1, 1))
	if nVec.Y < 0 {
		raan = 2*math.Pi - raan
	}

	var argp, nu float64
	if e < nearCircularTol {
		// Circular orbit: periapsis undefined, measure ν from the node.
		e = 0
		argp = 0
		nu = math.Acos(clamp(r3.Dot(nVec, r)/(n*rMag), -1, 1))
		if r.Z < 0 {
			nu = 2*math.Pi - nu
		}
	} else {
		argp = math.Acos(clamp(r3.Dot(nVec, eVec)/(n*e), -1, 1))
		if eVec.Z < 0 {
			argp = 2*math.Pi - argp
		}
		nu = math.Acos(clamp(r3.Dot(eVec, r)/(e*rMag), -1, 1))
		if vr < 0 {
			nu = 2*math.Pi - nu
		}
	}

	a := h * h / (mu * (1 - e*e))

	return Elements{
		H:             h,
		Eccentricity:  e,
		Inclination:   incl,
		RAAN:          raan,
		ArgPeriapsis:  argp,
		TrueAnomaly:   nu,
		SemiMajorAxis: a,
	}, nil
}

// StateVector converts the elements back to an inertial position (km) and
// velocity (km/s). The perifocal-frame state derived from ν, e, and the
// semi-latus rectum p = h²/μ is rotated through the periapsis angle, the
// inclination tilt, and the node angle.
func (el Elements) StateVector(mu float64) (r, v r3.Vec) {
	h := el.H
	e := el.Eccentricity
	nu := el.TrueAnomaly

	cosNu := math.Cos(nu)
	sinNu := math.Sin(nu)

	// Perifocal frame: p̂ toward periapsis, q̂ advanced 90° in the direction
	// of motion.
	rMag := (h * h / mu) / (1 + e*cosNu)
	rPF := r3.Vec{X: rMag * cosNu, Y: rMag * sinNu}
	vPF := r3.Vec{X: -mu / h * sinNu, Y: mu / h * (e + cosNu)}

	rot := perifocalToInertial(el.RAAN, el.Inclination, el.ArgPeriapsis)
	return rot.apply(rPF), rot.apply(vPF)
}

// Period returns the orbital period in seconds. It is only meaningful for
// closed orbits (e < 1).
func (el Elements) Period(mu float64) float64 {
	a := el.SemiMajorAxis
	return 2 * math.Pi * math.Sqrt(a*a*a/mu)
}

// MeanMotion returns the mean motion n = sqrt(μ/a³) in rad/s.
func (el Elements) MeanMotion(mu float64) float64 {
	a := el.SemiMajorAxis
	return math.Sqrt(mu / (a * a * a))
}

// rotation3 is a 3×3 rotation matrix in row-major order.
type rotation3 [3][3]float64

func (m rotation3) apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// perifocalToInertial builds the combined R3(−Ω)·R1(−i)·R3(−ω) rotation taking
// perifocal coordinates into the inertial frame.
func perifocalToInertial(raan, incl, argp float64) rotation3 {
	cosO := math.Cos(raan)
	sinO := math.Sin(raan)
	cosI := math.Cos(incl)
	sinI := math.Sin(incl)
	cosW := math.Cos(argp)
	sinW := math.Sin(argp)

	return rotation3{
		{cosO*cosW - sinO*sinW*cosI, -cosO*sinW - sinO*cosW*cosI, sinO * sinI},
		{sinO*cosW + cosO*sinW*cosI, -sinO*sinW + cosO*cosW*cosI, -cosO * sinI},
		{sinW * sinI, cosW * sinI, cosI},
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
