package bodies

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestDefaultCatalogLookup(t *testing.T) {
	cat := Default()

	earth, ok := cat.Get("earth")
	if !ok {
		t.Fatal("earth missing from default catalog")
	}
	if earth.ID != 399 || earth.RadiusKm != 6378.1366 {
		t.Errorf("earth entry = %+v", earth)
	}

	if _, ok := cat.Get("vulcan"); ok {
		t.Error("unknown body should not resolve")
	}
}

func TestNamesSorted(t *testing.T) {
	names := Default().Names()
	if len(names) < 10 {
		t.Fatalf("catalog too small: %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted at %d: %v", i, names)
		}
	}
}

// TestMoonStateAt checks that the Moon's propagated geocentric distance stays
// between perigee and apogee and that its speed is near the familiar ~1 km/s.
func TestMoonStateAt(t *testing.T) {
	cat := Default()
	at := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	pos, vel, err := cat.StateAt("moon", at)
	if err != nil {
		t.Fatal(err)
	}

	dist := r3.Norm(pos)
	if dist < 356000 || dist > 407000 {
		t.Errorf("moon distance = %.0f km, want within perigee..apogee", dist)
	}
	speed := r3.Norm(vel)
	if speed < 0.95 || speed > 1.1 {
		t.Errorf("moon speed = %.3f km/s, want ≈1", speed)
	}
}

// TestStateAtPeriodic: propagating one full orbital period returns to the
// same state.
func TestStateAtPeriodic(t *testing.T) {
	cat := Default()
	moon, _ := cat.Get("moon")
	earthMu := 398600.435507

	a := moon.Orbit.SemiMajorAxisKm
	period := 2 * math.Pi * math.Sqrt(a*a*a/earthMu)

	p0, _, err := cat.StateAt("moon", J2000)
	if err != nil {
		t.Fatal(err)
	}
	p1, _, err := cat.StateAt("moon", J2000.Add(time.Duration(period*float64(time.Second))))
	if err != nil {
		t.Fatal(err)
	}

	if sep := r3.Norm(r3.Sub(p0, p1)); sep > 1.0 {
		t.Errorf("position drifted %.3f km over one period", sep)
	}
}

func TestSunAnchorsFrame(t *testing.T) {
	pos, vel, err := Default().StateAt("sun", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if pos != (r3.Vec{}) || vel != (r3.Vec{}) {
		t.Errorf("sun state = %v %v, want origin", pos, vel)
	}
}

func TestUnknownBodyError(t *testing.T) {
	if _, _, err := Default().StateAt("vulcan", time.Now()); err == nil {
		t.Error("expected error for unknown body")
	}
}
