// Package marketlock provides mutual exclusion keyed by market ID.
//
// Two concurrent trades against the same market must be serialized with
// respect to the pools (trade application is not commutative), while
// trades on different markets proceed independently. The Set hands out
// one mutex per market ID on demand and reclaims it once no holder or
// waiter remains.
package marketlock

import "sync"

// Set is a collection of per-market mutexes.
type Set struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewSet creates an empty lock set.
func NewSet() *Set {
	return &Set{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for the given market ID, creating it on first
// use. Blocks until the lock is available.
func (s *Set) Lock(marketID string) {
	s.mu.Lock()
	e, ok := s.locks[marketID]
	if !ok {
		e = &entry{}
		s.locks[marketID] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for the given market ID. The entry is removed
// from the set once the last holder or waiter is gone.
func (s *Set) Unlock(marketID string) {
	s.mu.Lock()
	e, ok := s.locks[marketID]
	if !ok {
		s.mu.Unlock()
		panic("marketlock: unlock of unheld market " + marketID)
	}
	e.refs--
	if e.refs == 0 {
		delete(s.locks, marketID)
	}
	s.mu.Unlock()

	e.mu.Unlock()
}
