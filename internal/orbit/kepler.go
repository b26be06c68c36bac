package orbit

import (
	"math"
	"time"
)

const twoPi = 2 * math.Pi

// DefaultKeplerTol is the default convergence tolerance for SolveKepler.
const DefaultKeplerTol = 1e-9

// maxKeplerIterations caps the Newton-Raphson loop. The solver does not
// validate convergence: if the cap is hit, the best current estimate is
// returned. Callers needing a guaranteed residual should bound e < 0.99.
const maxKeplerIterations = 100

// SolveKepler solves Kepler's equation M = E − e·sin(E) for the eccentric
// anomaly E via Newton-Raphson. Pass tol <= 0 to use DefaultKeplerTol.
func SolveKepler(meanAnomaly, e, tol float64) float64 {
	if tol <= 0 {
		tol = DefaultKeplerTol
	}

	M := NormalizeAngle(meanAnomaly)
	if e == 0 {
		return M
	}

	E := keplerInitialGuess(M, e)
	for i := 0; i < maxKeplerIterations; i++ {
		f := E - e*math.Sin(E) - M
		fp := 1 - e*math.Cos(E)
		delta := f / fp
		E -= delta

		if math.Abs(delta) < tol {
			break
		}
	}

	return E
}

// keplerInitialGuess picks the Newton-Raphson starting point. E₀ = M works
// well below e ≈ 0.8; above that a half-eccentricity offset keeps the
// iteration out of the slow-convergence region near periapsis.
func keplerInitialGuess(M, e float64) float64 {
	if e < 0.8 {
		return M
	}
	if M < math.Pi {
		return M + e/2
	}
	return M - e/2
}

// TrueFromEccentric converts an eccentric anomaly to the true anomaly.
func TrueFromEccentric(E, e float64) float64 {
	if e == 0 {
		return NormalizeAngle(E)
	}
	sinNu := math.Sqrt(1-e*e) * math.Sin(E)
	cosNu := math.Cos(E) - e
	return NormalizeAngle(math.Atan2(sinNu, cosNu))
}

// EccentricFromTrue converts a true anomaly to the eccentric anomaly.
func EccentricFromTrue(nu, e float64) float64 {
	if e == 0 {
		return NormalizeAngle(nu)
	}
	sinE := math.Sqrt(1-e*e) * math.Sin(nu)
	cosE := e + math.Cos(nu)
	return NormalizeAngle(math.Atan2(sinE, cosE))
}

// MeanFromEccentric computes the mean anomaly M = E − e·sin(E).
func MeanFromEccentric(E, e float64) float64 {
	return NormalizeAngle(E - e*math.Sin(E))
}

// Propagate advances the elements along the orbit by dt using two-body
// Keplerian motion. Only the true anomaly changes; the orbit geometry is
// preserved. Requires e < 1.
func Propagate(el Elements, mu float64, dt time.Duration) Elements {
	e := el.Eccentricity
	E0 := EccentricFromTrue(el.TrueAnomaly, e)
	M0 := MeanFromEccentric(E0, e)

	M := NormalizeAngle(M0 + el.MeanMotion(mu)*dt.Seconds())
	E := SolveKepler(M, e, 0)

	out := el
	out.TrueAnomaly = TrueFromEccentric(E, e)
	return out
}

// NormalizeAngle wraps an angle into [0, 2π).
func NormalizeAngle(a float64) float64 {
	wrapped := math.Mod(a, twoPi)
	if wrapped < 0 {
		wrapped += twoPi
	}
	return wrapped
}
