// Package kvstore is the event store's embedded key-value driver: events
// are ordered by sequence number in one bucket, and payloads are keyed by
// digest in a second bucket for deduplication, matching the driver
// contract's "embedded key-value (ordered by sequence; payload keyed by
// digest for deduplication)" requirement.
package kvstore

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/toka-systems/toka/internal/store"
	"github.com/toka-systems/toka/internal/types"
)

var (
	bucketBySequence = []byte("events_by_sequence")
	bucketByDigest   = []byte("events_by_digest")
	bucketMeta       = []byte("meta")
	keyLastSequence  = []byte("last_sequence")
)

// Store is a bbolt-backed event store. Append fsyncs via bbolt's default
// commit behavior, so it survives process crash once Append returns.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path as the backing
// store.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBySequence, bucketByDigest, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func sequenceKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// Append writes event into both buckets within a single bbolt
// transaction, so a crash mid-append never leaves the sequence and
// digest indexes out of sync.
func (s *Store) Append(_ context.Context, event types.KernelEvent) error {
	encoded, err := store.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("kvstore: encode: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		seqBucket := tx.Bucket(bucketBySequence)
		digestBucket := tx.Bucket(bucketByDigest)
		metaBucket := tx.Bucket(bucketMeta)

		if err := seqBucket.Put(sequenceKey(event.Sequence), encoded); err != nil {
			return err
		}
		// payload is deduplicated by digest: only the first writer for a
		// given digest stores the encoded payload, later writers just
		// register the same bytes again (idempotent put).
		if err := digestBucket.Put(event.Digest[:], encoded); err != nil {
			return err
		}
		return metaBucket.Put(keyLastSequence, sequenceKey(event.Sequence))
	})
}

// Load looks the event up by digest.
func (s *Store) Load(_ context.Context, digest [32]byte) (types.KernelEvent, error) {
	var event types.KernelEvent
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketByDigest).Get(digest[:])
		if raw == nil {
			return nil
		}
		decoded, err := store.DecodeEvent(raw)
		if err != nil {
			return err
		}
		event = decoded
		found = true
		return nil
	})
	if err != nil {
		return types.KernelEvent{}, fmt.Errorf("kvstore: load: %w", err)
	}
	if !found {
		return types.KernelEvent{}, types.ErrNotFound
	}
	return event, nil
}

// Iterate scans the sequence bucket in ascending key order, which is
// bbolt's natural (and guaranteed) cursor order for a b+tree bucket,
// stopping once sequence numbers exceed nothing (there's no upper bound:
// the driver returns everything currently durable).
func (s *Store) Iterate(_ context.Context, sinceSequence uint64) ([]types.KernelEvent, error) {
	var out []types.KernelEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBySequence).Cursor()
		seek := sequenceKey(sinceSequence + 1)
		for k, v := c.Seek(seek); k != nil; k, v = c.Next() {
			decoded, err := store.DecodeEvent(v)
			if err != nil {
				return err
			}
			out = append(out, decoded)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: iterate: %w", err)
	}
	return out, nil
}

// Stats reports the number of stored events and the highest sequence
// number written so far.
func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	var stats store.Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBySequence)
		stats.Count = b.Stats().KeyN
		if raw := tx.Bucket(bucketMeta).Get(keyLastSequence); raw != nil {
			stats.LastSequence = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return store.Stats{}, fmt.Errorf("kvstore: stats: %w", err)
	}
	return stats, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
