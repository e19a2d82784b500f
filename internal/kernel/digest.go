package kernel

import (
	"lukechampine.com/blake3"

	"github.com/toka-systems/toka/internal/store"
	"github.com/toka-systems/toka/internal/types"
)

// causalDigest hashes payload concatenated with its parent digests,
// binding the event to its logical predecessors. For this kernel's linear
// stream, there is exactly one parent: the previous event's digest.
func causalDigest(payload []byte, parents ...[32]byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write(payload)
	for _, p := range parents {
		h.Write(p[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// digestPayload builds the byte payload a digest is computed over: the
// event with its digest field still zero, encoded the same way it will be
// persisted, so load-by-digest and digest computation stay consistent.
func digestPayload(event types.KernelEvent) ([]byte, error) {
	event.Digest = [32]byte{}
	return store.EncodeEvent(event)
}
