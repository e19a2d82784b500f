package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/internal/types"
)

func TestAppendLoadRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	event := types.KernelEvent{
		Kind:               types.EventObservationEmitted,
		Sequence:           1,
		Timestamp:          time.Now(),
		ObservationEmitted: &types.ObservationEmittedEvent{Agent: 1, Size: 10},
	}
	event.Digest[0] = 1

	require.NoError(t, s.Append(ctx, event))

	got, err := s.Load(ctx, event.Digest)
	require.NoError(t, err)
	assert.Equal(t, event.Sequence, got.Sequence)
}

func TestLoadNotFound(t *testing.T) {
	s := New()
	_, err := s.Load(context.Background(), [32]byte{9, 9, 9})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestIterateReturnsAscendingAfterSequence(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		e := types.KernelEvent{Sequence: i, Timestamp: time.Now()}
		e.Digest[0] = byte(i)
		require.NoError(t, s.Append(ctx, e))
	}

	events, err := s.Iterate(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].Sequence)
	assert.Equal(t, uint64(5), events[2].Sequence)
}

func TestStatsReportsCountAndLastSequence(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		e := types.KernelEvent{Sequence: i, Timestamp: time.Now()}
		e.Digest[0] = byte(i)
		require.NoError(t, s.Append(ctx, e))
	}
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, uint64(3), stats.LastSequence)
}
