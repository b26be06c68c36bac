// Package lifecycle tracks connection display state across visibility cycles.
//
// Raw visibility sampled at a coarse cadence flickers: pairs drift in and out
// of strict geometric visibility by small margins between cycles. The manager
// absorbs that by holding lost connections through a persistence window and
// fading them out before removal, instead of demanding a higher sampling rate.
package lifecycle

import (
	"log/slog"
	"sort"
	"time"

	"github.com/orb/orblink/internal/metrics"
	"github.com/orb/orblink/internal/visibility"
)

// State is a connection's position in the display lifecycle.
type State int

const (
	// StateActive: the pair appeared in the latest raw batch.
	StateActive State = iota
	// StateLostPersisting: missing from the latest batch, still shown at
	// full opacity while inside the persistence window head.
	StateLostPersisting
	// StateFading: elapsed time has passed persistenceWindow − fadeWindow;
	// opacity ramps linearly toward the floor.
	StateFading
	// StateExpired: elapsed time reached the persistence window; the record
	// is deleted and its render handle returned to the pool.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateLostPersisting:
		return "lost-persisting"
	case StateFading:
		return "fading"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// PairKey identifies a tracked connection. A structured key, not a string
// concatenation, so iteration can be ordered deterministically and the parts
// recovered without parsing.
type PairKey struct {
	From string
	To   string
	Kind visibility.ConnectionKind
}

func keyOf(c visibility.Connection) PairKey {
	return PairKey{From: c.From, To: c.To, Kind: c.Kind}
}

// record is the per-pair persistent state. Owned exclusively by the Manager.
type record struct {
	conn     visibility.Connection
	lastSeen time.Time
	handle   Handle
}

// DisplayConnection is one entry of the persistence-smoothed output list.
type DisplayConnection struct {
	visibility.Connection
	State   State
	Opacity float64
	Handle  Handle
}

// Config holds the smoothing windows.
type Config struct {
	PersistenceWindow time.Duration // total time a lost connection stays shown (default 5s)
	FadeWindow        time.Duration // tail of the persistence window spent fading (default 2s)
	OpacityFloor      float64       // opacity reached at the end of the fade (default 0.15)
}

// Defaults for zero-valued Config fields.
const (
	DefaultPersistenceWindow = 5 * time.Second
	DefaultFadeWindow        = 2 * time.Second
	DefaultOpacityFloor      = 0.15
)

func (c Config) withDefaults() Config {
	if c.PersistenceWindow <= 0 {
		c.PersistenceWindow = DefaultPersistenceWindow
	}
	if c.FadeWindow <= 0 || c.FadeWindow > c.PersistenceWindow {
		c.FadeWindow = DefaultFadeWindow
		if c.FadeWindow > c.PersistenceWindow {
			c.FadeWindow = c.PersistenceWindow / 2
		}
	}
	if c.OpacityFloor <= 0 {
		c.OpacityFloor = DefaultOpacityFloor
	}
	return c
}

// Manager merges raw visibility batches into a persistence-smoothed view.
// Not safe for concurrent use; the engine goroutine owns it.
type Manager struct {
	cfg     Config
	records map[PairKey]*record
	pool    *HandlePool
	logger  *slog.Logger

	// lastApply is the timestamp of the most recent batch merge. A record
	// counts as Active while its last sighting matches it.
	lastApply time.Time
}

// NewManager creates a Manager with defaults applied.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		records: make(map[PairKey]*record),
		pool:    NewHandlePool(),
		logger:  logger,
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Apply merges one raw batch at time now. Every visible record refreshes its
// last-seen timestamp and forces the pair back to Active, canceling any
// in-progress fade. Pairs absent from the batch are left to decay on the
// clock; Advance and Snapshot handle that.
func (m *Manager) Apply(batch []visibility.Connection, now time.Time) {
	m.lastApply = now
	for _, conn := range batch {
		if !conn.Metadata.Visible {
			continue
		}
		key := keyOf(conn)
		rec, ok := m.records[key]
		if !ok {
			rec = &record{handle: m.pool.Checkout(key)}
			m.records[key] = rec
			if m.logger != nil {
				m.logger.Debug("connection appeared", "from", key.From, "to", key.To, "kind", string(key.Kind), "handle", rec.handle)
			}
		}
		rec.conn = conn
		rec.lastSeen = now
	}

	m.expire(now)
	metrics.SetConnectionsTracked(len(m.records))
}

// Advance drops expired records as a pure function of elapsed wall-clock
// time. It must be called on a timer even when no new batches arrive, so
// decay continues if the visibility computer stalls.
func (m *Manager) Advance(now time.Time) {
	m.expire(now)
	metrics.SetConnectionsTracked(len(m.records))
}

func (m *Manager) expire(now time.Time) {
	for key, rec := range m.records {
		if now.Sub(rec.lastSeen) >= m.cfg.PersistenceWindow {
			m.pool.Return(key, rec.handle)
			delete(m.records, key)
			if m.logger != nil {
				m.logger.Debug("connection expired", "from", key.From, "to", key.To, "handle", rec.handle)
			}
		}
	}
}

// Snapshot returns the current display list, sorted by pair key for
// deterministic output. Opacity is 1 through the persistence window head and
// ramps linearly down to the floor across the fade window.
func (m *Manager) Snapshot(now time.Time) []DisplayConnection {
	keys := make([]PairKey, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})

	out := make([]DisplayConnection, 0, len(keys))
	for _, key := range keys {
		rec := m.records[key]
		state, opacity := m.stateAt(rec, now)
		if state == StateExpired {
			continue
		}
		out = append(out, DisplayConnection{
			Connection: rec.conn,
			State:      state,
			Opacity:    opacity,
			Handle:     rec.handle,
		})
	}
	return out
}

// stateAt classifies a record by elapsed time since its last sighting.
func (m *Manager) stateAt(rec *record, now time.Time) (State, float64) {
	elapsed := now.Sub(rec.lastSeen)
	fadeStart := m.cfg.PersistenceWindow - m.cfg.FadeWindow

	switch {
	case !rec.lastSeen.Before(m.lastApply) && elapsed < fadeStart:
		return StateActive, 1
	case elapsed < fadeStart:
		return StateLostPersisting, 1
	case elapsed < m.cfg.PersistenceWindow:
		frac := float64(elapsed-fadeStart) / float64(m.cfg.FadeWindow)
		opacity := 1 - frac*(1-m.cfg.OpacityFloor)
		return StateFading, opacity
	default:
		return StateExpired, 0
	}
}

// Tracked returns the number of records currently held.
func (m *Manager) Tracked() int { return len(m.records) }

// Reset drops all records and returns their handles. Used when the caller
// disables the subsystem: visuals clear immediately regardless of windows.
func (m *Manager) Reset() {
	for key, rec := range m.records {
		m.pool.Return(key, rec.handle)
		delete(m.records, key)
	}
	metrics.SetConnectionsTracked(0)
}
