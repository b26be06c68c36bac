// Package visibility evaluates line-of-sight connectivity between satellites,
// reference bodies, and ground stations.
//
// The computer is stateless by design: every call to Evaluate works from the
// scene snapshot it is handed and produces a fresh batch of raw connection
// records. Persistence and smoothing across cycles belong to the lifecycle
// manager, not here.
package visibility

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/orb/orblink/internal/metrics"
)

// surfaceTolKm is the shell around a body's surface within which an endpoint
// is considered attached to that body. The body is then excluded from the
// occlusion test for that pair, so a station standing on the surface is not
// occluded by its own host; the elevation mask covers the local limb.
const surfaceTolKm = 1.0

// coincidentTolKm is the endpoint separation below which a pair is treated as
// malformed geometry and skipped.
const coincidentTolKm = 1e-6

// Computer evaluates a scene's candidate pairs against occlusion and
// elevation constraints.
type Computer struct {
	cfg    Config
	logger *slog.Logger
}

// NewComputer creates a Computer with defaults applied to cfg.
func NewComputer(cfg Config, logger *slog.Logger) *Computer {
	return &Computer{cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective configuration (defaults applied).
func (c *Computer) Config() Config {
	return c.cfg
}

// pairJob is one candidate pair for the worker pool.
type pairJob struct {
	from, to  endpoint
	kind      ConnectionKind
	maskDeg   float64 // effective elevation mask for ground pairs
	groundPos r3.Vec  // ground endpoint, for elevation
	remotePos r3.Vec  // non-ground endpoint
	hasGround bool
}

type endpoint struct {
	id  string
	pos r3.Vec
}

// Evaluate computes the raw connection batch for one scene snapshot. Pairs
// are fanned out over a fixed worker pool since the candidate count grows
// quadratically with the satellite count. The returned batch is sorted by
// (from, to) for deterministic downstream processing.
func (c *Computer) Evaluate(ctx context.Context, scene Scene) []Connection {
	start := time.Now()

	jobs := c.enumeratePairs(scene)
	if len(jobs) == 0 {
		return nil
	}

	jobCh := make(chan pairJob, c.cfg.Workers*2)
	resCh := make(chan Connection, c.cfg.Workers*2)

	var wg sync.WaitGroup
	var skipped int64
	var skippedMu sync.Mutex

	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				conn, ok := c.evaluatePair(job, scene.Bodies)
				if !ok {
					skippedMu.Lock()
					skipped++
					skippedMu.Unlock()
					continue
				}
				select {
				case resCh <- conn:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case jobCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resCh)
	}()

	batch := make([]Connection, 0, len(jobs))
	for conn := range resCh {
		batch = append(batch, conn)
	}

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].From != batch[j].From {
			return batch[i].From < batch[j].From
		}
		return batch[i].To < batch[j].To
	})

	visible := 0
	for _, conn := range batch {
		if conn.Metadata.Visible {
			visible++
		}
	}
	metrics.RecordVisibilityCycle(time.Since(start), len(jobs), visible, int(skipped))

	if c.logger != nil {
		c.logger.Debug("visibility cycle",
			"pairs", len(jobs),
			"visible", visible,
			"skipped", skipped,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return batch
}

// enumeratePairs lists every unordered satellite-satellite and
// satellite-ground candidate. From/To are ordered lexicographically so the
// record identity is independent of input order.
func (c *Computer) enumeratePairs(scene Scene) []pairJob {
	var jobs []pairJob

	for i := 0; i < len(scene.Satellites); i++ {
		for j := i + 1; j < len(scene.Satellites); j++ {
			a, b := scene.Satellites[i], scene.Satellites[j]
			if b.ID < a.ID {
				a, b = b, a
			}
			jobs = append(jobs, pairJob{
				from: endpoint{a.ID, a.Position},
				to:   endpoint{b.ID, b.Position},
				kind: KindSatSat,
			})
		}
	}

	for _, sat := range scene.Satellites {
		for _, gs := range scene.GroundStations {
			mask := gs.ElevationMaskDeg
			if mask == 0 {
				mask = c.cfg.MinElevationDeg
			}
			if c.cfg.AtmosphericRefraction {
				mask -= refractionAllowanceDeg
			}

			from, to := endpoint{sat.ID, sat.Position}, endpoint{gs.ID, gs.Position}
			if to.id < from.id {
				from, to = to, from
			}
			jobs = append(jobs, pairJob{
				from:      from,
				to:        to,
				kind:      KindSatGround,
				maskDeg:   mask,
				groundPos: gs.Position,
				remotePos: sat.Position,
				hasGround: true,
			})
		}
	}

	return jobs
}

// evaluatePair produces the connection record for one candidate pair.
// Returns ok=false for malformed geometry; that record is skipped and the
// rest of the batch is unaffected.
func (c *Computer) evaluatePair(job pairJob, bodies []Body) (Connection, bool) {
	p0, p1 := job.from.pos, job.to.pos
	if !finiteVec(p0) || !finiteVec(p1) {
		return Connection{}, false
	}

	dist := r3.Norm(r3.Sub(p1, p0))
	if dist < coincidentTolKm {
		return Connection{}, false
	}

	visible := !occluded(p0, p1, bodies)

	var elevDeg float64
	if job.hasGround {
		elevDeg = ElevationDeg(job.groundPos, job.remotePos)
		if elevDeg < job.maskDeg {
			visible = false
		}
	}

	conn := Connection{
		From:   job.from.id,
		To:     job.to.id,
		Kind:   job.kind,
		Points: [2]r3.Vec{p0, p1},
		Metadata: Metadata{
			Visible:      visible,
			DistanceKm:   dist,
			ElevationDeg: elevDeg,
			LinkQuality:  c.linkQuality(job.kind, dist, elevDeg),
		},
	}
	return conn, true
}

// occluded reports whether any reference body blocks the segment p0→p1.
// The test is the closest-point-on-segment form of the ray/sphere
// intersection: the segment is blocked when its nearest approach to the body
// center falls inside the body radius. Bodies whose surface holds either
// endpoint are skipped for this pair.
func occluded(p0, p1 r3.Vec, bodies []Body) bool {
	seg := r3.Sub(p1, p0)
	segLen2 := r3.Dot(seg, seg)

	for _, body := range bodies {
		if body.RadiusKm <= 0 {
			continue
		}
		if onSurface(p0, body) || onSurface(p1, body) {
			continue
		}

		rel := r3.Sub(p0, body.Position)
		t := -r3.Dot(rel, seg) / segLen2
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}

		closest := r3.Add(rel, r3.Scale(t, seg))
		if r3.Dot(closest, closest) < body.RadiusKm*body.RadiusKm {
			return true
		}
	}
	return false
}

// onSurface reports whether p sits on or inside the body's surface shell.
func onSurface(p r3.Vec, body Body) bool {
	d := r3.Norm(r3.Sub(p, body.Position))
	return d <= body.RadiusKm+surfaceTolKm
}

// ElevationDeg returns the elevation angle in degrees of target as seen from
// a ground point: asin(up · rangê), where up is the ground point's local
// radial unit vector. 0 = horizon, 90 = zenith.
func ElevationDeg(ground, target r3.Vec) float64 {
	rangeVec := r3.Sub(target, ground)
	rangeMag := r3.Norm(rangeVec)
	groundMag := r3.Norm(ground)
	if rangeMag == 0 || groundMag == 0 {
		return 90
	}

	sinEl := r3.Dot(rangeVec, ground) / (rangeMag * groundMag)
	if sinEl > 1 {
		sinEl = 1
	} else if sinEl < -1 {
		sinEl = -1
	}
	return math.Asin(sinEl) * 180.0 / math.Pi
}

// linkQuality maps distance and elevation onto a 0-100 display score. Closer
// and higher-elevation links score higher. Ground links blend distance and
// elevation equally; satellite-satellite links only have distance to go on.
// Display-only: never used for the visibility decision itself.
func (c *Computer) linkQuality(kind ConnectionKind, distKm, elevDeg float64) float64 {
	distScore := 1 - distKm/c.cfg.MaxRangeKm
	if distScore < 0 {
		distScore = 0
	}

	var score float64
	if kind == KindSatGround {
		elevScore := elevDeg / 90.0
		if elevScore < 0 {
			elevScore = 0
		} else if elevScore > 1 {
			elevScore = 1
		}
		score = 0.5*distScore + 0.5*elevScore
	} else {
		score = distScore
	}

	return math.Round(score*1000) / 10 // one decimal, 0-100
}

func finiteVec(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
