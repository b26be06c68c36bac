// Package bodies provides a reference-body catalog: names, gravitational
// parameters, equatorial radii, and canonical J2000 Keplerian orbits for the
// Sun, planets, and major moons. The catalog is explicit configuration passed
// to constructors, never a package-level singleton.
//
// Physical constants are JPL values (GM from DE440, radii IAU 2015).
package bodies

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/orb/orblink/internal/orbit"
)

// SunMu is the standard gravitational parameter of the Sun in km³/s².
const SunMu = 1.32712440018e11

// J2000 is the reference epoch of the canonical orbits.
var J2000 = time.Date(2000, 1, 1, 11, 58, 55, 816e6, time.UTC)

// CanonicalOrbit is a fixed-epoch Keplerian orbit about the body's parent.
// Angles in degrees, semi-major axis in km, MeanAnomalyDeg at J2000.
type CanonicalOrbit struct {
	SemiMajorAxisKm float64
	Eccentricity    float64
	InclinationDeg  float64
	RAANDeg         float64
	ArgPeriapsisDeg float64
	MeanAnomalyDeg  float64
}

// Body is one catalog entry. A zero Parent means the body orbits the Sun.
type Body struct {
	ID       int    // NAIF ID
	Name     string // lowercase catalog key
	Parent   string // catalog key of the orbited body, "" for heliocentric
	GM       float64
	RadiusKm float64
	J2       float64
	Orbit    *CanonicalOrbit // nil for the Sun
}

// Catalog maps body names to entries.
type Catalog struct {
	byName map[string]Body
}

// NewCatalog builds a catalog from explicit entries.
func NewCatalog(entries []Body) *Catalog {
	byName := make(map[string]Body, len(entries))
	for _, b := range entries {
		byName[b.Name] = b
	}
	return &Catalog{byName: byName}
}

// Default returns the standard solar-system catalog: Sun, the eight planets,
// Pluto, and the major moons of Earth and Mars.
func Default() *Catalog {
	return NewCatalog([]Body{
		{ID: 10, Name: "sun", GM: SunMu, RadiusKm: 695700},
		{ID: 199, Name: "mercury", GM: 22031.86855, RadiusKm: 2439.7, J2: 6.0e-5,
			Orbit: &CanonicalOrbit{57909050.0, 0.2056, 7.005, 48.331, 29.124, 174.796}},
		{ID: 299, Name: "venus", GM: 324858.592, RadiusKm: 6051.8, J2: 4.458e-6,
			Orbit: &CanonicalOrbit{108208000.0, 0.0067, 3.3947, 76.680, 54.884, 50.416}},
		{ID: 399, Name: "earth", GM: 398600.435507, RadiusKm: 6378.1366, J2: 1.08262668e-3,
			Orbit: &CanonicalOrbit{149598023.0, 0.0167, 0.000, -11.26064, 114.20783, 358.617}},
		{ID: 499, Name: "mars", GM: 42828.375214, RadiusKm: 3396.19, J2: 1.96045e-3,
			Orbit: &CanonicalOrbit{227939200.0, 0.0935, 1.850, 49.558, 286.502, 19.373}},
		{ID: 599, Name: "jupiter", GM: 126686531.9, RadiusKm: 71492, J2: 0.014696,
			Orbit: &CanonicalOrbit{778570000.0, 0.0489, 1.303, 100.464, 273.867, 20.020}},
		{ID: 699, Name: "saturn", GM: 37931207.8, RadiusKm: 60268, J2: 0.016298,
			Orbit: &CanonicalOrbit{1433530000.0, 0.0565, 2.485, 113.665, 339.392, 317.020}},
		{ID: 799, Name: "uranus", GM: 5793951.3, RadiusKm: 25559.0,
			Orbit: &CanonicalOrbit{2875040000.0, 0.0463, 0.773, 74.006, 96.998, 142.2386}},
		{ID: 899, Name: "neptune", GM: 6835103.1, RadiusKm: 24764.0,
			Orbit: &CanonicalOrbit{4504450000.0, 0.0097, 1.770, 131.784, 273.187, 256.228}},
		{ID: 999, Name: "pluto", GM: 869.613817, RadiusKm: 1188.3,
			Orbit: &CanonicalOrbit{5906440628.0, 0.2488, 17.16, 110.299, 113.834, 14.53}},
		{ID: 301, Name: "moon", Parent: "earth", GM: 4902.800066, RadiusKm: 1737.4, J2: 2.032e-4,
			Orbit: &CanonicalOrbit{384400.0, 0.0549, 5.145, 125.08, 318.15, 115.3654}},
		{ID: 401, Name: "phobos", Parent: "mars", GM: 0.0007112, RadiusKm: 11.2667,
			Orbit: &CanonicalOrbit{9376.0, 0.0151, 1.075, 49.2, 150.057, 177.4}},
		{ID: 402, Name: "deimos", Parent: "mars", GM: 0.0000985, RadiusKm: 6.2,
			Orbit: &CanonicalOrbit{23463.2, 0.00033, 1.788, 316.65, 260.729, 53.2}},
	})
}

// Get looks a body up by name.
func (c *Catalog) Get(name string) (Body, bool) {
	b, ok := c.byName[name]
	return b, ok
}

// Names returns all catalog keys in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mu returns the gravitational parameter governing the body's orbit: the
// parent's GM, or the Sun's for heliocentric bodies.
func (c *Catalog) mu(b Body) (float64, error) {
	if b.Parent == "" {
		return SunMu, nil
	}
	parent, ok := c.byName[b.Parent]
	if !ok {
		return 0, fmt.Errorf("bodies: %s orbits unknown parent %s", b.Name, b.Parent)
	}
	return parent.GM, nil
}

// StateAt returns the body's parent-relative position and velocity (km,
// km/s) at time t, propagated from the canonical J2000 orbit via Kepler's
// equation. Moons are relative to their planet, planets to the Sun.
func (c *Catalog) StateAt(name string, t time.Time) (pos, vel r3.Vec, err error) {
	b, ok := c.byName[name]
	if !ok {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("bodies: unknown body %s", name)
	}
	if b.Orbit == nil {
		return r3.Vec{}, r3.Vec{}, nil // the Sun anchors its own frame
	}

	mu, err := c.mu(b)
	if err != nil {
		return r3.Vec{}, r3.Vec{}, err
	}

	el := b.Orbit.elementsAt(t, mu)
	pos, vel = el.StateVector(mu)
	return pos, vel, nil
}

// elementsAt advances the canonical orbit's mean anomaly to time t and
// converts to osculating elements.
func (o CanonicalOrbit) elementsAt(t time.Time, mu float64) orbit.Elements {
	a := o.SemiMajorAxisKm
	e := o.Eccentricity
	n := math.Sqrt(mu / (a * a * a))

	m0 := o.MeanAnomalyDeg * math.Pi / 180
	m := orbit.NormalizeAngle(m0 + n*t.Sub(J2000).Seconds())
	ecc := orbit.SolveKepler(m, e, orbit.DefaultKeplerTol)
	nu := orbit.TrueFromEccentric(ecc, e)

	return orbit.Elements{
		H:             math.Sqrt(mu * a * (1 - e*e)),
		Eccentricity:  e,
		Inclination:   o.InclinationDeg * math.Pi / 180,
		RAAN:          orbit.NormalizeAngle(o.RAANDeg * math.Pi / 180),
		ArgPeriapsis:  orbit.NormalizeAngle(o.ArgPeriapsisDeg * math.Pi / 180),
		TrueAnomaly:   nu,
		SemiMajorAxis: a,
	}
}
