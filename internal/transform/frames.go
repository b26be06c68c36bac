package transform

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// InertialToFixed rotates an inertial-frame position (km) and velocity (km/s)
// into the Earth-fixed frame at the given UTC time.
//
// Position: r_fixed = R3(θ)·r_inertial with θ = GMST.
// Velocity: v_fixed = R3(θ)·v_inertial − ω⊕ × r_fixed, accounting for the
// rotation of the fixed frame itself.
func InertialToFixed(r, v r3.Vec, t time.Time) (r3.Vec, r3.Vec) {
	return InertialToFixedWithGMST(r, v, GMST(t))
}

// InertialToFixedWithGMST is InertialToFixed with a precomputed GMST angle
// (radians). Useful when converting many states at the same instant.
func InertialToFixedWithGMST(r, v r3.Vec, gmst float64) (r3.Vec, r3.Vec) {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	rf := r3.Vec{
		X: r.X*cosG + r.Y*sinG,
		Y: -r.X*sinG + r.Y*cosG,
		Z: r.Z,
	}

	vRot := r3.Vec{
		X: v.X*cosG + v.Y*sinG,
		Y: -v.X*sinG + v.Y*cosG,
		Z: v.Z,
	}
	// ω × r_fixed = (−ω·y, ω·x, 0).
	vf := r3.Vec{
		X: vRot.X + OmegaEarth*rf.Y,
		Y: vRot.Y - OmegaEarth*rf.X,
		Z: vRot.Z,
	}

	return rf, vf
}

// FixedToInertial is the inverse of InertialToFixed.
func FixedToInertial(r, v r3.Vec, t time.Time) (r3.Vec, r3.Vec) {
	return FixedToInertialWithGMST(r, v, GMST(t))
}

// FixedToInertialWithGMST rotates a fixed-frame state back into the inertial
// frame using a precomputed GMST angle (radians).
func FixedToInertialWithGMST(r, v r3.Vec, gmst float64) (r3.Vec, r3.Vec) {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	ri := r3.Vec{
		X: r.X*cosG - r.Y*sinG,
		Y: r.X*sinG + r.Y*cosG,
		Z: r.Z,
	}

	// Undo the frame-rotation term first, then rotate.
	vCorr := r3.Vec{
		X: v.X - OmegaEarth*r.Y,
		Y: v.Y + OmegaEarth*r.X,
		Z: v.Z,
	}
	vi := r3.Vec{
		X: vCorr.X*cosG - vCorr.Y*sinG,
		Y: vCorr.X*sinG + vCorr.Y*cosG,
		Z: vCorr.Z,
	}

	return ri, vi
}
