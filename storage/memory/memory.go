// Package memory provides an in-memory implementation of the
// timecredit.DurableStore interface. Primarily intended for testing and
// development; nothing survives a process restart.
package memory

import (
	"context"
	"sync"

	"github.com/offscreenlabs/timecredit/pkg/timecredit"
)

// Store implements timecredit.DurableStore using an in-memory map.
type Store struct {
	mu   sync.RWMutex
	data map[string]string

	// failWrites makes every write fail; tests use it to exercise the
	// engine's persistence-failure path.
	failWrites bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Read implements timecredit.DurableStore.
func (s *Store) Read(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return "", timecredit.ErrKeyNotFound
	}
	return v, nil
}

// WriteAtomic implements timecredit.DurableStore. Both write modes behave
// identically: a map update is as durable as this store ever gets.
func (s *Store) WriteAtomic(ctx context.Context, pairs []timecredit.Pair, mode timecredit.WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrites {
		return timecredit.ErrStoreUnavailable
	}
	for _, p := range pairs {
		s.data[p.Key] = p.Value
	}
	return nil
}

// Delete implements timecredit.DurableStore.
func (s *Store) Delete(ctx context.Context, keys []string, mode timecredit.WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrites {
		return timecredit.ErrStoreUnavailable
	}
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// SetFailing toggles write failures.
func (s *Store) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

// Snapshot returns a copy of all stored pairs.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string)
}
