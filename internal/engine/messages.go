package engine

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/orb/orblink/internal/lifecycle"
	"github.com/orb/orblink/internal/visibility"
)

// MessageType tags a protocol message envelope.
type MessageType string

const (
	MessageUpdateScene        MessageType = "UPDATE_SCENE"
	MessageUpdateConfig       MessageType = "UPDATE_CONFIG"
	MessageConnectionsUpdated MessageType = "CONNECTIONS_UPDATED"
)

// Vec3 is the wire form of a 3-vector: a plain [x, y, z] array in km (or
// km/s for velocities).
type Vec3 [3]float64

func vec3Of(v r3.Vec) Vec3   { return Vec3{v.X, v.Y, v.Z} }
func (v Vec3) r3Vec() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// WireSatellite is one satellite entry of an UPDATE_SCENE request.
type WireSatellite struct {
	ID       string `json:"id"`
	Position Vec3   `json:"position"`
	Velocity Vec3   `json:"velocity"`
}

// WireBody is one occluding-body entry of an UPDATE_SCENE request.
type WireBody struct {
	ID       string  `json:"id"`
	Position Vec3    `json:"position"`
	RadiusKm float64 `json:"radius"`
}

// WireGroundStation is one ground-station entry of an UPDATE_SCENE request.
type WireGroundStation struct {
	ID               string  `json:"id"`
	Position         Vec3    `json:"position"`
	ElevationMaskDeg float64 `json:"elevationMask"`
}

// WireConfig carries the tunable evaluation parameters. All fields are
// optional; absent fields leave the current value unchanged.
type WireConfig struct {
	MinElevationAngle     *float64 `json:"minElevationAngle,omitempty"`
	AtmosphericRefraction *bool    `json:"atmosphericRefraction,omitempty"`
	UpdateIntervalMs      *int64   `json:"updateIntervalMs,omitempty"`
}

// UpdateSceneRequest is the UPDATE_SCENE envelope.
type UpdateSceneRequest struct {
	Type           MessageType         `json:"type"`
	Satellites     []WireSatellite     `json:"satellites"`
	Bodies         []WireBody          `json:"bodies"`
	GroundStations []WireGroundStation `json:"groundStations"`
	Config         *WireConfig         `json:"config,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// UpdateConfigRequest is the UPDATE_CONFIG envelope.
type UpdateConfigRequest struct {
	Type   MessageType `json:"type"`
	Config WireConfig  `json:"config"`
}

// WireConnection is the wire form of one connection record. State and
// opacity extend the raw record with the lifecycle view the renderer needs.
type WireConnection struct {
	From     string              `json:"from"`
	To       string              `json:"to"`
	Kind     string              `json:"type"`
	Points   [2]Vec3             `json:"points"`
	Metadata visibility.Metadata `json:"metadata"`
	State    string              `json:"state"`
	Opacity  float64             `json:"opacity"`
}

// ConnectionsUpdated is the CONNECTIONS_UPDATED envelope streamed back to
// callers after each cycle.
type ConnectionsUpdated struct {
	Type        MessageType      `json:"type"`
	Connections []WireConnection `json:"connections"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Scene converts the request into the computer's input snapshot. Slices are
// freshly allocated so the decoded request can be dropped immediately.
func (r UpdateSceneRequest) Scene() visibility.Scene {
	scene := visibility.Scene{At: r.Timestamp}
	if scene.At.IsZero() {
		scene.At = time.Now().UTC()
	}

	scene.Satellites = make([]visibility.Satellite, len(r.Satellites))
	for i, s := range r.Satellites {
		scene.Satellites[i] = visibility.Satellite{
			ID:       s.ID,
			Position: s.Position.r3Vec(),
			Velocity: s.Velocity.r3Vec(),
		}
	}

	scene.Bodies = make([]visibility.Body, len(r.Bodies))
	for i, b := range r.Bodies {
		scene.Bodies[i] = visibility.Body{
			ID:       b.ID,
			Position: b.Position.r3Vec(),
			RadiusKm: b.RadiusKm,
		}
	}

	scene.GroundStations = make([]visibility.GroundStation, len(r.GroundStations))
	for i, g := range r.GroundStations {
		scene.GroundStations[i] = visibility.GroundStation{
			ID:               g.ID,
			Position:         g.Position.r3Vec(),
			ElevationMaskDeg: g.ElevationMaskDeg,
		}
	}

	return scene
}

// ConfigUpdate is the internal one-shot configuration message. Nil fields
// leave the current value in place.
type ConfigUpdate struct {
	MinElevationDeg       *float64
	AtmosphericRefraction *bool
	UpdateInterval        *time.Duration
}

// Update converts the wire config into the internal message.
func (w WireConfig) Update() ConfigUpdate {
	upd := ConfigUpdate{
		MinElevationDeg:       w.MinElevationAngle,
		AtmosphericRefraction: w.AtmosphericRefraction,
	}
	if w.UpdateIntervalMs != nil {
		d := time.Duration(*w.UpdateIntervalMs) * time.Millisecond
		upd.UpdateInterval = &d
	}
	return upd
}

// applyTo folds the update into cfg and reports whether anything changed.
func (u ConfigUpdate) applyTo(cfg visibility.Config) (visibility.Config, bool) {
	changed := false
	if u.MinElevationDeg != nil && *u.MinElevationDeg != cfg.MinElevationDeg {
		cfg.MinElevationDeg = *u.MinElevationDeg
		changed = true
	}
	if u.AtmosphericRefraction != nil && *u.AtmosphericRefraction != cfg.AtmosphericRefraction {
		cfg.AtmosphericRefraction = *u.AtmosphericRefraction
		changed = true
	}
	if u.UpdateInterval != nil && *u.UpdateInterval > 0 && *u.UpdateInterval != cfg.UpdateInterval {
		cfg.UpdateInterval = *u.UpdateInterval
		changed = true
	}
	return cfg, changed
}

// Batch is one cycle's persistence-smoothed output.
type Batch struct {
	Connections []lifecycle.DisplayConnection
	At          time.Time
}

// Message renders the batch as its wire envelope.
func (b Batch) Message() ConnectionsUpdated {
	msg := ConnectionsUpdated{
		Type:        MessageConnectionsUpdated,
		Connections: make([]WireConnection, len(b.Connections)),
		Timestamp:   b.At,
	}
	for i, dc := range b.Connections {
		msg.Connections[i] = WireConnection{
			From:     dc.From,
			To:       dc.To,
			Kind:     string(dc.Kind),
			Points:   [2]Vec3{vec3Of(dc.Points[0]), vec3Of(dc.Points[1])},
			Metadata: dc.Metadata,
			State:    dc.State.String(),
			Opacity:  dc.Opacity,
		}
	}
	return msg
}
