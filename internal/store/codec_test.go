package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/internal/types"
)

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	event := types.KernelEvent{
		Kind:      types.EventAgentSpawned,
		Sequence:  7,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		AgentSpawned: &types.AgentSpawnedEvent{
			ID:     42,
			Parent: 1,
			Spec:   types.AgentSpec{Name: "file-ops-agent", Priority: types.PriorityHigh},
		},
	}
	event.Digest[0] = 0xAB

	encoded, err := EncodeEvent(event)
	require.NoError(t, err)

	decoded, err := DecodeEvent(encoded)
	require.NoError(t, err)

	assert.Equal(t, event.Kind, decoded.Kind)
	assert.Equal(t, event.Sequence, decoded.Sequence)
	assert.Equal(t, event.Digest, decoded.Digest)
	assert.Equal(t, event.Timestamp.Unix(), decoded.Timestamp.Unix())
	require.NotNil(t, decoded.AgentSpawned)
	assert.Equal(t, event.AgentSpawned.ID, decoded.AgentSpawned.ID)
	assert.Equal(t, event.AgentSpawned.Spec.Name, decoded.AgentSpawned.Spec.Name)
}
