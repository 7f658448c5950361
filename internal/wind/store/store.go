package store

import (
	"sync"

	"windmon/internal/wind/types"
)

// Store holds the latest reading per sensor. The lock is only held for the
// duration of a single call.
type Store struct {
	mu       sync.RWMutex
	readings map[types.SensorKey]types.Reading
}

func New() *Store {
	return &Store{readings: make(map[types.SensorKey]types.Reading)}
}

// Upsert replaces the reading stored for key. Arrival order wins; timestamps
// are not compared.
func (s *Store) Upsert(key types.SensorKey, r types.Reading) {
	s.mu.Lock()
	s.readings[key] = r
	s.mu.Unlock()
}

// Get returns the reading stored for key.
func (s *Store) Get(key types.SensorKey) (types.Reading, bool) {
	s.mu.RLock()
	r, ok := s.readings[key]
	s.mu.RUnlock()
	return r, ok
}

// Snapshot returns a copy of the current contents. The copy is owned by the
// caller and unaffected by later upserts.
func (s *Store) Snapshot() map[types.SensorKey]types.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.SensorKey]types.Reading, len(s.readings))
	for k, r := range s.readings {
		out[k] = r
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.readings)
	s.mu.RUnlock()
	return n
}
