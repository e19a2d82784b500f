// Package memstore is the event store's in-memory driver: no durability
// beyond the process lifetime, used for testing and ephemeral runs.
package memstore

import (
	"context"
	"sync"

	"github.com/toka-systems/toka/internal/store"
	"github.com/toka-systems/toka/internal/types"
)

// Store is a non-durable, append-only in-memory event log.
type Store struct {
	mu       sync.RWMutex
	byDigest map[[32]byte]types.KernelEvent
	ordered  []types.KernelEvent
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		byDigest: make(map[[32]byte]types.KernelEvent),
	}
}

// Append records event. Duplicate digests overwrite the stored payload
// but still occupy a new sequence slot in the ordered log.
func (s *Store) Append(_ context.Context, event types.KernelEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDigest[event.Digest] = event
	s.ordered = append(s.ordered, event)
	return nil
}

// Load returns the event stored under digest, or types.ErrNotFound.
func (s *Store) Load(_ context.Context, digest [32]byte) (types.KernelEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.byDigest[digest]
	if !ok {
		return types.KernelEvent{}, types.ErrNotFound
	}
	return event, nil
}

// Iterate returns events with Sequence > sinceSequence, in ascending
// order.
func (s *Store) Iterate(_ context.Context, sinceSequence uint64) ([]types.KernelEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.KernelEvent, 0, len(s.ordered))
	for _, e := range s.ordered {
		if e.Sequence > sinceSequence {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stats reports the current count and last sequence number.
func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last uint64
	if n := len(s.ordered); n > 0 {
		last = s.ordered[n-1].Sequence
	}
	return store.Stats{Count: len(s.ordered), LastSequence: last}, nil
}

// Close is a no-op: there is nothing to release.
func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
