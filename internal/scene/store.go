// Package scene holds the latest ingested scene snapshot for the API and
// diagnostics surfaces.
package scene

import (
	"sync/atomic"
	"time"

	"github.com/orb/orblink/internal/visibility"
)

// Snapshot pairs a scene with its ingestion time.
type Snapshot struct {
	Scene      visibility.Scene
	ReceivedAt time.Time
}

// Store provides thread-safe access to the current scene snapshot.
type Store struct {
	snap atomic.Pointer[Snapshot]
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current snapshot, or nil if none has been ingested.
func (s *Store) Get() *Snapshot {
	return s.snap.Load()
}

// Set atomically replaces the current snapshot.
func (s *Store) Set(sc visibility.Scene, receivedAt time.Time) {
	s.snap.Store(&Snapshot{Scene: sc, ReceivedAt: receivedAt})
}

// AgeSeconds returns the age of the current snapshot in seconds.
// Returns -1 if no scene has been ingested.
func (s *Store) AgeSeconds() float64 {
	snap := s.snap.Load()
	if snap == nil {
		return -1
	}
	return time.Since(snap.ReceivedAt).Seconds()
}
