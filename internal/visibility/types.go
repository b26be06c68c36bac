package visibility

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ConnectionKind tags the endpoint classes of a connection.
type ConnectionKind string

const (
	KindSatSat    ConnectionKind = "satellite-satellite"
	KindSatGround ConnectionKind = "satellite-ground"
)

// Satellite is a point participant with a fixed-frame state vector (km, km/s).
type Satellite struct {
	ID       string
	Position r3.Vec
	Velocity r3.Vec
}

// Body is an occluding reference mass: anything with a radius that can block
// line of sight (a planet or moon).
type Body struct {
	ID       string
	Position r3.Vec
	RadiusKm float64
}

// GroundStation is a surface participant in the fixed frame. A zero
// ElevationMaskDeg means "use the configured default".
type GroundStation struct {
	ID               string
	Position         r3.Vec
	ElevationMaskDeg float64
}

// Scene is one complete input snapshot for an evaluation cycle. The computer
// never retains a Scene between cycles.
type Scene struct {
	Satellites     []Satellite
	Bodies         []Body
	GroundStations []GroundStation
	At             time.Time
}

// Metadata carries the display attributes of a connection.
type Metadata struct {
	Visible      bool    `json:"visible"`
	DistanceKm   float64 `json:"distance"`
	ElevationDeg float64 `json:"elevationAngle"`
	LinkQuality  float64 `json:"linkQuality"`
}

// Connection is one raw visibility record, recreated every cycle.
// From/To are ordered lexicographically so a pair always produces the same
// record regardless of input order.
type Connection struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Kind     ConnectionKind `json:"type"`
	Points   [2]r3.Vec      `json:"-"`
	Metadata Metadata       `json:"metadata"`
}

// Config holds the tunable evaluation parameters. Changes arrive as one-shot
// messages through the engine and apply atomically for the next cycle.
type Config struct {
	MinElevationDeg       float64       // default 5
	AtmosphericRefraction bool          // relax the mask by the horizon refraction allowance
	UpdateInterval        time.Duration // evaluation cadence, default 500ms
	MaxRangeKm            float64       // distance normalization for link quality, default 40000
	Workers               int           // pair-evaluation worker count, default runtime.NumCPU()
}

// Defaults for Config fields left zero.
const (
	DefaultMinElevationDeg = 5.0
	DefaultUpdateInterval  = 500 * time.Millisecond
	DefaultMaxRangeKm      = 40000.0

	// refractionAllowanceDeg is the standard atmospheric refraction at the
	// horizon (34 arcminutes), subtracted from the elevation mask when
	// AtmosphericRefraction is enabled.
	refractionAllowanceDeg = 0.567
)

// withDefaults fills in zero-valued fields.
func (c Config) withDefaults() Config {
	if c.MinElevationDeg == 0 {
		c.MinElevationDeg = DefaultMinElevationDeg
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.MaxRangeKm <= 0 {
		c.MaxRangeKm = DefaultMaxRangeKm
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}
