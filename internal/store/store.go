// Package store defines the event store contract and its drivers. The
// kernel appends exactly one KernelEvent per accepted submission; drivers
// trade off durability for simplicity (memory), embedded ordering and
// dedup (kv), or full relational durability (sql).
package store

import (
	"context"

	"github.com/toka-systems/toka/internal/types"
)

// Stats summarizes a store's current contents.
type Stats struct {
	Count        int
	LastSequence uint64
}

// Store is the event store contract: append, load-by-digest, and iterate
// in causal (sequence) order. Append is durable in the sense its driver
// promises: the memory driver promises nothing beyond process lifetime,
// the kv and sql drivers promise on-disk durability subject to their own
// fsync cadence.
type Store interface {
	// Append durably records event. It returns only once the event is
	// recoverable by the driver's durability contract. Duplicate digests
	// are deduplicated on payload but still occupy a distinct sequence
	// entry.
	Append(ctx context.Context, event types.KernelEvent) error

	// Load retrieves the event previously appended with the given
	// digest. Returns types.ErrNotFound if absent.
	Load(ctx context.Context, digest [32]byte) (types.KernelEvent, error)

	// Iterate yields events in ascending sequence order starting after
	// sinceSequence, up to whatever is currently durable. The returned
	// slice is a finite snapshot; callers restart iteration by passing
	// the last sequence number they observed.
	Iterate(ctx context.Context, sinceSequence uint64) ([]types.KernelEvent, error)

	// Stats reports the current count and last sequence number.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources (file handles, connections) held by
	// the driver.
	Close() error
}
