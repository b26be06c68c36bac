package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/orb/orblink/internal/visibility"
)

func visibleConn(from, to string) visibility.Connection {
	return visibility.Connection{
		From:   from,
		To:     to,
		Kind:   visibility.KindSatSat,
		Points: [2]r3.Vec{{X: 7000}, {X: 7100, Y: 500}},
		Metadata: visibility.Metadata{
			Visible:    true,
			DistanceKm: 509.9,
		},
	}
}

func testConfig() Config {
	return Config{
		PersistenceWindow: 5 * time.Second,
		FadeWindow:        2 * time.Second,
		OpacityFloor:      0.15,
	}
}

// TestPersistenceTimeline walks the full lifecycle of a connection last seen
// at t: full opacity through t+(persistence−fade), monotonically decreasing
// opacity down to the floor by t+persistence, then removal.
func TestPersistenceTimeline(t *testing.T) {
	m := NewManager(testConfig(), nil)
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	m.Apply([]visibility.Connection{visibleConn("a", "b")}, t0)

	// Seen in latest batch: Active.
	snap := m.Snapshot(t0)
	require.Len(t, snap, 1)
	assert.Equal(t, StateActive, snap[0].State)
	assert.Equal(t, 1.0, snap[0].Opacity)

	// Missing from the next (empty) batch but inside the persistence head.
	m.Apply(nil, t0.Add(500*time.Millisecond))
	snap = m.Snapshot(t0.Add(1 * time.Second))
	require.Len(t, snap, 1)
	assert.Equal(t, StateLostPersisting, snap[0].State)
	assert.Equal(t, 1.0, snap[0].Opacity)

	// Just before the fade starts: still full opacity.
	snap = m.Snapshot(t0.Add(3*time.Second - time.Millisecond))
	require.Len(t, snap, 1)
	assert.Equal(t, 1.0, snap[0].Opacity)

	// Fading: opacity decreases monotonically toward the floor.
	prev := 1.0
	for _, dt := range []time.Duration{3100, 3600, 4100, 4600, 4900} {
		snap = m.Snapshot(t0.Add(dt * time.Millisecond))
		require.Len(t, snap, 1, "still shown at +%v", dt)
		assert.Equal(t, StateFading, snap[0].State)
		assert.Less(t, snap[0].Opacity, prev, "opacity must decrease")
		assert.GreaterOrEqual(t, snap[0].Opacity, 0.15)
		prev = snap[0].Opacity
	}

	// At the full persistence window: gone from the snapshot.
	snap = m.Snapshot(t0.Add(5 * time.Second))
	assert.Empty(t, snap)

	// And deleted by the next time-driven advance.
	m.Advance(t0.Add(5 * time.Second))
	assert.Equal(t, 0, m.Tracked())
}

// TestResightingCancelsFade: a record deep in its fade snaps back to Active
// with full opacity when the pair reappears.
func TestResightingCancelsFade(t *testing.T) {
	m := NewManager(testConfig(), nil)
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	m.Apply([]visibility.Connection{visibleConn("a", "b")}, t0)

	mid := t0.Add(4 * time.Second) // inside the fade window
	snap := m.Snapshot(mid)
	require.Len(t, snap, 1)
	require.Equal(t, StateFading, snap[0].State)

	m.Apply([]visibility.Connection{visibleConn("a", "b")}, mid)
	snap = m.Snapshot(mid)
	require.Len(t, snap, 1)
	assert.Equal(t, StateActive, snap[0].State)
	assert.Equal(t, 1.0, snap[0].Opacity)
}

// TestTimeDrivenDecay: decay is a function of wall clock only. With the
// visibility computer stalled (no further Apply calls), Advance alone must
// expire the record.
func TestTimeDrivenDecay(t *testing.T) {
	m := NewManager(testConfig(), nil)
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	m.Apply([]visibility.Connection{visibleConn("a", "b")}, t0)
	require.Equal(t, 1, m.Tracked())

	m.Advance(t0.Add(4 * time.Second))
	assert.Equal(t, 1, m.Tracked(), "inside the window")

	m.Advance(t0.Add(6 * time.Second))
	assert.Equal(t, 0, m.Tracked(), "past the window")
}

// TestInvisibleRecordsIgnored: raw records flagged not-visible never create
// or refresh tracking state.
func TestInvisibleRecordsIgnored(t *testing.T) {
	m := NewManager(testConfig(), nil)
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	conn := visibleConn("a", "b")
	conn.Metadata.Visible = false
	m.Apply([]visibility.Connection{conn}, t0)
	assert.Equal(t, 0, m.Tracked())
}

// TestHandleReuse: handles released by expiry are reused before new ones are
// minted, and double returns do not corrupt the free list.
func TestHandleReuse(t *testing.T) {
	m := NewManager(testConfig(), nil)
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	m.Apply([]visibility.Connection{visibleConn("a", "b")}, t0)
	first := m.Snapshot(t0)[0].Handle

	// Expire it, then sight a different pair: the freed handle comes back.
	m.Advance(t0.Add(10 * time.Second))
	m.Apply([]visibility.Connection{visibleConn("c", "d")}, t0.Add(10*time.Second))
	second := m.Snapshot(t0.Add(10 * time.Second))[0].Handle
	assert.Equal(t, first, second, "freed handle should be reused")
}

func TestHandlePool(t *testing.T) {
	p := NewHandlePool()
	k1 := PairKey{From: "a", To: "b", Kind: visibility.KindSatSat}
	k2 := PairKey{From: "c", To: "d", Kind: visibility.KindSatSat}

	h1 := p.Checkout(k1)
	h2 := p.Checkout(k2)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, p.InUse())

	p.Return(k1, h1)
	assert.Equal(t, 1, p.InUse())
	assert.Equal(t, 1, p.FreeCount())

	// Double return is a no-op.
	p.Return(k1, h1)
	assert.Equal(t, 1, p.FreeCount())

	// Returning under the wrong key is a no-op.
	p.Return(k1, h2)
	assert.Equal(t, 1, p.InUse())

	// LIFO reuse.
	h3 := p.Checkout(PairKey{From: "e", To: "f"})
	assert.Equal(t, h1, h3)
	assert.Equal(t, 0, p.FreeCount())
}

// TestSnapshotDeterministicOrder: snapshots are sorted by pair key.
func TestSnapshotDeterministicOrder(t *testing.T) {
	m := NewManager(testConfig(), nil)
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	m.Apply([]visibility.Connection{
		visibleConn("x", "y"),
		visibleConn("a", "z"),
		visibleConn("a", "b"),
	}, t0)

	snap := m.Snapshot(t0)
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].From)
	assert.Equal(t, "b", snap[0].To)
	assert.Equal(t, "a", snap[1].From)
	assert.Equal(t, "z", snap[1].To)
	assert.Equal(t, "x", snap[2].From)
}

// TestReset clears all state immediately and releases every handle.
func TestReset(t *testing.T) {
	m := NewManager(testConfig(), nil)
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	m.Apply([]visibility.Connection{visibleConn("a", "b"), visibleConn("c", "d")}, t0)
	require.Equal(t, 2, m.Tracked())

	m.Reset()
	assert.Equal(t, 0, m.Tracked())
	assert.Empty(t, m.Snapshot(t0))
}
