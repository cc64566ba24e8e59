package config

import (
	"sync"
	"sync/atomic"

	"resinctl/standalone"
)

// Store holds the live parameter record. Readers get an immutable snapshot;
// writers build a new record and publish it in one step, so a reader never
// observes a half-applied command.
type Store struct {
	current atomic.Pointer[standalone.Params]
	writeMu sync.Mutex
}

// NewStore creates a store holding initial
func NewStore(initial standalone.Params) *Store {
	s := &Store{}
	s.current.Store(&initial)
	return s
}

// Get returns the current snapshot
func (s *Store) Get() standalone.Params {
	return *s.current.Load()
}

// Update applies f to a private copy of the current record and publishes
// the copy only if f returns nil.
func (s *Store) Update(f func(*standalone.Params) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := *s.current.Load()
	if err := f(&next); err != nil {
		return err
	}
	s.current.Store(&next)
	return nil
}
