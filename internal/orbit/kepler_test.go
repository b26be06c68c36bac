package orbit

import (
	"math"
	"testing"
	"time"
)

// TestSolveKeplerResidual sweeps eccentricity and mean anomaly and requires
// the returned E to satisfy |E − e·sin(E) − M| < 1e-8.
func TestSolveKeplerResidual(t *testing.T) {
	for _, e := range []float64{0, 0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 0.95, 0.99} {
		for m := 0.0; m < twoPi; m += twoPi / 32 {
			E := SolveKepler(m, e, 0)
			residual := math.Abs(E - e*math.Sin(E) - NormalizeAngle(m))
			// The residual is periodic; fold it back near 2π.
			if residual > math.Pi {
				residual = math.Abs(residual - twoPi)
			}
			if residual > 1e-8 {
				t.Errorf("e=%.2f M=%.4f: residual %.3e exceeds 1e-8", e, m, residual)
			}
		}
	}
}

// TestSolveKeplerKnownValue checks against Curtis Example 3.2:
// e = 0.37255, M = 3.6029 rad gives E = 3.47942 rad.
func TestSolveKeplerKnownValue(t *testing.T) {
	E := SolveKepler(3.6029, 0.37255, 0)
	if math.Abs(E-3.47942) > 1e-4 {
		t.Errorf("E = %.6f, want 3.47942", E)
	}
}

// TestSolveKeplerIterationCap verifies the solver returns its best estimate
// rather than failing when convergence is not certified.
func TestSolveKeplerIterationCap(t *testing.T) {
	// Extreme eccentricity near M=0 is the slowest-converging region.
	E := SolveKepler(1e-6, 0.999, 1e-15)
	if math.IsNaN(E) || math.IsInf(E, 0) {
		t.Fatalf("E = %v, want a finite best estimate", E)
	}
}

func TestAnomalyConversions(t *testing.T) {
	for _, e := range []float64{0, 0.2, 0.6, 0.9} {
		for nu := 0.0; nu < twoPi; nu += twoPi / 16 {
			E := EccentricFromTrue(nu, e)
			back := TrueFromEccentric(E, e)
			if math.Abs(NormalizeAngle(back-nu)) > 1e-10 && math.Abs(NormalizeAngle(back-nu)-twoPi) > 1e-10 {
				t.Errorf("e=%.1f nu=%.4f: round-trip gave %.4f", e, nu, back)
			}
		}
	}
}

// TestPropagateFullPeriod propagates a closed orbit through one full period
// and expects the true anomaly to return to its start.
func TestPropagateFullPeriod(t *testing.T) {
	el := Elements{
		Eccentricity:  0.3,
		Inclination:   0.9,
		RAAN:          1.2,
		ArgPeriapsis:  0.5,
		TrueAnomaly:   1.0,
		SemiMajorAxis: 10000,
	}
	el.H = math.Sqrt(testMu * el.SemiMajorAxis * (1 - el.Eccentricity*el.Eccentricity))

	period := time.Duration(el.Period(testMu) * float64(time.Second))
	out := Propagate(el, testMu, period)

	diff := math.Abs(NormalizeAngle(out.TrueAnomaly - el.TrueAnomaly))
	if diff > math.Pi {
		diff = twoPi - diff
	}
	if diff > 1e-5 {
		t.Errorf("true anomaly after one period drifted by %.3e rad", diff)
	}
}

// TestPropagateHalfPeriod checks that half a period moves periapsis to
// apoapsis for an orbit starting at periapsis.
func TestPropagateHalfPeriod(t *testing.T) {
	el := Elements{
		Eccentricity:  0.5,
		Inclination:   0.4,
		RAAN:          0.3,
		ArgPeriapsis:  0.7,
		TrueAnomaly:   0,
		SemiMajorAxis: 20000,
	}
	el.H = math.Sqrt(testMu * el.SemiMajorAxis * (1 - el.Eccentricity*el.Eccentricity))

	half := time.Duration(el.Period(testMu) / 2 * float64(time.Second))
	out := Propagate(el, testMu, half)

	if math.Abs(out.TrueAnomaly-math.Pi) > 1e-6 {
		t.Errorf("true anomaly after half period = %.8f, want π", out.TrueAnomaly)
	}
}
