package manifest

import (
	"sync"

	"omx/internal/errors"
	"omx/internal/store"
)

// Store serializes manifest read-modify-write cycles within one process.
// Cross-process visibility comes from the atomic write primitive; counters
// are only ever advanced by the team runtime process.
type Store struct {
	layout store.Layout
	mu     sync.Mutex
}

// NewStore returns a manifest store for one team layout.
func NewStore(layout store.Layout) *Store {
	return &Store{layout: layout}
}

// Layout exposes the underlying team layout.
func (s *Store) Layout() store.Layout { return s.layout }

// Load reads the manifest from disk. Missing or unreadable manifests yield a
// not_found team error.
func (s *Store) Load() (*Manifest, error) {
	var m Manifest
	found, err := store.ReadJSON(s.layout.Manifest(), &m)
	if err != nil {
		return nil, errors.E(errors.KindIOError, "manifest.load", err).WithTeam(s.layout.Team())
	}
	if !found {
		return nil, errors.E(errors.KindNotFound, "manifest.load", errors.ErrNotFound).WithTeam(s.layout.Team())
	}
	return &m, nil
}

// Save writes the manifest atomically.
func (s *Store) Save(m *Manifest) error {
	if err := store.WriteJSON(s.layout.Manifest(), m); err != nil {
		return errors.E(errors.KindIOError, "manifest.save", err).WithTeam(s.layout.Team())
	}
	return nil
}

// Mutate loads the manifest, applies fn, and persists the result in one
// locked cycle. fn returning an error aborts without writing.
func (s *Store) Mutate(fn func(*Manifest) error) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	if err := s.Save(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Exists reports whether the team has a manifest on disk.
func (s *Store) Exists() bool {
	return store.Exists(s.layout.Manifest())
}
