// Command diag runs an offline smoke pass over the compute core: element
// round-trips, a catalog-driven scene, one visibility evaluation, and a
// lifecycle timeline. No network, no server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/orb/orblink/internal/bodies"
	"github.com/orb/orblink/internal/lifecycle"
	"github.com/orb/orblink/internal/orbit"
	"github.com/orb/orblink/internal/transform"
	"github.com/orb/orblink/internal/visibility"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	now := time.Now().UTC()

	// Element round-trip: circular 7000 km orbit inclined 45°.
	v := math.Sqrt(orbit.EarthMu / 7000)
	pos := r3.Vec{X: 7000}
	vel := r3.Vec{Y: v * math.Cos(math.Pi/4), Z: v * math.Sin(math.Pi/4)}

	el, err := orbit.FromStateVector(pos, vel, orbit.EarthMu)
	if err != nil {
		fmt.Println("ERROR converting state vector:", err)
		os.Exit(1)
	}
	fmt.Printf("Elements: a=%.1f km e=%.6f i=%.2f° period=%.0f s\n",
		el.SemiMajorAxis, el.Eccentricity, el.Inclination*180/math.Pi, el.Period(orbit.EarthMu))

	r2, v2 := el.StateVector(orbit.EarthMu)
	fmt.Printf("Round-trip residual: |dr|=%.3e km |dv|=%.3e km/s\n",
		r3.Norm(r3.Sub(r2, pos)), r3.Norm(r3.Sub(v2, vel)))

	// Geodetic round-trip through the fixed frame.
	geo := transform.Geodetic{LatDeg: 39.7392, LonDeg: -104.9903, AltKm: 1.609}
	ecef := transform.GeodeticToFixed(geo)
	back := transform.FixedToGeodetic(ecef)
	fmt.Printf("Geodetic round-trip: lat %.4f→%.4f lon %.4f→%.4f alt %.3f→%.3f\n",
		geo.LatDeg, back.LatDeg, geo.LonDeg, back.LonDeg, geo.AltKm, back.AltKm)

	// Catalog-driven scene: Earth and the Moon occlude, three synthetic
	// satellites and one ground station participate.
	cat := bodies.Default()
	earth, _ := cat.Get("earth")
	moonPos, _, err := cat.StateAt("moon", now)
	if err != nil {
		fmt.Println("ERROR computing moon state:", err)
		os.Exit(1)
	}
	moon, _ := cat.Get("moon")
	fmt.Printf("Moon at %.0f km geocentric\n", r3.Norm(moonPos))

	alt := earth.RadiusKm + 550
	scene := visibility.Scene{
		Satellites: []visibility.Satellite{
			{ID: "leo-1", Position: r3.Vec{X: alt}},
			{ID: "leo-2", Position: r3.Vec{X: alt * math.Cos(0.4), Y: alt * math.Sin(0.4)}},
			{ID: "leo-3", Position: r3.Vec{X: -alt}},
		},
		GroundStations: []visibility.GroundStation{
			{ID: "denver", Position: ecef},
		},
		Bodies: []visibility.Body{
			{ID: "earth", RadiusKm: earth.RadiusKm},
			{ID: "moon", Position: moonPos, RadiusKm: moon.RadiusKm},
		},
		At: now,
	}

	computer := visibility.NewComputer(visibility.Config{Workers: 2}, logger)
	batch := computer.Evaluate(context.Background(), scene)
	fmt.Printf("\nVisibility batch: %d records\n", len(batch))
	for _, c := range batch {
		fmt.Printf("  %s→%s %s visible=%v dist=%.0f km elev=%.1f° quality=%.1f\n",
			c.From, c.To, c.Kind, c.Metadata.Visible, c.Metadata.DistanceKm,
			c.Metadata.ElevationDeg, c.Metadata.LinkQuality)
	}

	// Lifecycle timeline: apply once, then let the batch decay.
	mgr := lifecycle.NewManager(lifecycle.Config{
		PersistenceWindow: 5 * time.Second,
		FadeWindow:        2 * time.Second,
	}, logger)
	mgr.Apply(batch, now)

	fmt.Println("\nLifecycle decay:")
	for _, dt := range []time.Duration{0, 2 * time.Second, 3500 * time.Millisecond, 5 * time.Second} {
		snap := mgr.Snapshot(now.Add(dt))
		fmt.Printf("  t+%v: %d shown", dt, len(snap))
		if len(snap) > 0 {
			fmt.Printf(" (first: %s opacity %.2f)", snap[0].State, snap[0].Opacity)
		}
		fmt.Println()
	}
}
