// Package stream provides real-time market data caching and ingestion.
package stream

import (
	"sync"
	"time"

	"market-alerts/internal/models"
)

const (
	// DefaultHistoryCapacity is the per-instrument history size.
	DefaultHistoryCapacity = 600
	// DefaultStalenessTTL is the age after which a snapshot is no longer current.
	DefaultStalenessTTL = 30 * time.Second
)

// StoreConfig holds configuration for the SnapshotStore.
type StoreConfig struct {
	// HistoryCapacity is the maximum number of snapshots kept per instrument.
	HistoryCapacity int
	// StalenessTTL is the maximum age of a snapshot returned by Current.
	StalenessTTL time.Duration
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		HistoryCapacity: DefaultHistoryCapacity,
		StalenessTTL:    DefaultStalenessTTL,
		Clock:           time.Now,
	}
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring struct {
	buf   []models.Snapshot
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.Snapshot, capacity)}
}

func (r *ring) push(s models.Snapshot) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) slice() []models.Snapshot {
	out := make([]models.Snapshot, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

type instrumentState struct {
	latest  models.Snapshot
	history *ring
}

// SnapshotStore caches the latest snapshot and a bounded history per instrument.
// A single lock guards both so a reader never sees a latest snapshot that is
// missing from history.
type SnapshotStore struct {
	config StoreConfig
	mu     sync.RWMutex
	states map[string]*instrumentState
}

// NewSnapshotStore creates a new store with default configuration.
func NewSnapshotStore() *SnapshotStore {
	return NewSnapshotStoreWithConfig(DefaultStoreConfig())
}

// NewSnapshotStoreWithConfig creates a new store with custom configuration.
func NewSnapshotStoreWithConfig(config StoreConfig) *SnapshotStore {
	if config.HistoryCapacity <= 0 {
		config.HistoryCapacity = DefaultHistoryCapacity
	}
	if config.StalenessTTL <= 0 {
		config.StalenessTTL = DefaultStalenessTTL
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &SnapshotStore{
		config: config,
		states: make(map[string]*instrumentState),
	}
}

// Update records a snapshot for an instrument. A zero ts means "now".
func (s *SnapshotStore) Update(instrumentID string, snap models.Snapshot, ts time.Time) {
	if ts.IsZero() {
		ts = s.config.Clock()
	}
	snap.InstrumentID = instrumentID
	snap.Timestamp = ts

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[instrumentID]
	if !ok {
		st = &instrumentState{history: newRing(s.config.HistoryCapacity)}
		s.states[instrumentID] = st
	}
	st.latest = snap
	st.history.push(snap)
}

// Current returns the latest snapshot if it is not stale.
func (s *SnapshotStore) Current(instrumentID string) (models.Snapshot, bool) {
	return s.CurrentAt(instrumentID, s.config.Clock())
}

// CurrentAt returns the latest snapshot if its insertion time is within the
// staleness TTL of now.
func (s *SnapshotStore) CurrentAt(instrumentID string, now time.Time) (models.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[instrumentID]
	if !ok {
		return models.Snapshot{}, false
	}
	if now.Sub(st.latest.Timestamp) > s.config.StalenessTTL {
		return models.Snapshot{}, false
	}
	return st.latest, true
}

// History returns a copy of the instrument's history, oldest first.
func (s *SnapshotStore) History(instrumentID string) []models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[instrumentID]
	if !ok {
		return nil
	}
	return st.history.slice()
}

// Len returns the number of history entries held for an instrument.
func (s *SnapshotStore) Len(instrumentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.states[instrumentID]; ok {
		return st.history.size
	}
	return 0
}

// Instruments returns every instrument with at least one snapshot.
func (s *SnapshotStore) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	return out
}

// Capacity returns the configured per-instrument history capacity.
func (s *SnapshotStore) Capacity() int {
	return s.config.HistoryCapacity
}

// TTL returns the configured staleness TTL.
func (s *SnapshotStore) TTL() time.Duration {
	return s.config.StalenessTTL
}
