package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/toka-systems/toka/internal/types"
)

// wireEvent is the compact binary form a KernelEvent is persisted as; the
// tagged payload fields are flattened to avoid encoding three mutually
// exclusive pointers.
type wireEvent struct {
	Kind      string `msgpack:"kind"`
	Sequence  uint64 `msgpack:"seq"`
	Digest    []byte `msgpack:"digest"`
	Timestamp int64  `msgpack:"ts"`
	Payload   []byte `msgpack:"payload"`
}

// EncodeEvent serializes event to the compact binary form used by every
// durable driver. The digest itself is recomputed by the kernel, not
// derived here; Encode is a pure marshaling step.
func EncodeEvent(event types.KernelEvent) ([]byte, error) {
	payload, err := encodePayload(event)
	if err != nil {
		return nil, fmt.Errorf("store: encode payload: %w", err)
	}
	w := wireEvent{
		Kind:      string(event.Kind),
		Sequence:  event.Sequence,
		Digest:    event.Digest[:],
		Timestamp: event.Timestamp.UnixNano(),
		Payload:   payload,
	}
	b, err := msgpack.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("store: marshal event: %w", err)
	}
	return b, nil
}

// DecodeEvent reverses EncodeEvent.
func DecodeEvent(b []byte) (types.KernelEvent, error) {
	var w wireEvent
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return types.KernelEvent{}, fmt.Errorf("store: unmarshal event: %w", err)
	}
	event := types.KernelEvent{
		Kind:     types.KernelEventKind(w.Kind),
		Sequence: w.Sequence,
	}
	copy(event.Digest[:], w.Digest)
	event.Timestamp = timeFromUnixNano(w.Timestamp)
	if err := decodePayload(&event, w.Payload); err != nil {
		return types.KernelEvent{}, fmt.Errorf("store: decode payload: %w", err)
	}
	return event, nil
}

type payloadSpawned struct {
	ID     uint64         `msgpack:"id"`
	Parent uint64         `msgpack:"parent"`
	Spec   types.AgentSpec `msgpack:"spec"`
}

type payloadScheduled struct {
	Agent uint64        `msgpack:"agent"`
	Task  types.TaskSpec `msgpack:"task"`
}

type payloadObservation struct {
	Agent uint64 `msgpack:"agent"`
	Size  int    `msgpack:"size"`
}

func encodePayload(event types.KernelEvent) ([]byte, error) {
	switch event.Kind {
	case types.EventAgentSpawned:
		if event.AgentSpawned == nil {
			return nil, fmt.Errorf("nil AgentSpawned payload")
		}
		return msgpack.Marshal(payloadSpawned{
			ID:     uint64(event.AgentSpawned.ID),
			Parent: uint64(event.AgentSpawned.Parent),
			Spec:   event.AgentSpawned.Spec,
		})
	case types.EventTaskScheduled:
		if event.TaskScheduled == nil {
			return nil, fmt.Errorf("nil TaskScheduled payload")
		}
		return msgpack.Marshal(payloadScheduled{
			Agent: uint64(event.TaskScheduled.Agent),
			Task:  event.TaskScheduled.Task,
		})
	case types.EventObservationEmitted:
		if event.ObservationEmitted == nil {
			return nil, fmt.Errorf("nil ObservationEmitted payload")
		}
		return msgpack.Marshal(payloadObservation{
			Agent: uint64(event.ObservationEmitted.Agent),
			Size:  event.ObservationEmitted.Size,
		})
	default:
		return nil, fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

func decodePayload(event *types.KernelEvent, payload []byte) error {
	switch event.Kind {
	case types.EventAgentSpawned:
		var p payloadSpawned
		if err := msgpack.Unmarshal(payload, &p); err != nil {
			return err
		}
		event.AgentSpawned = &types.AgentSpawnedEvent{ID: types.EntityId(p.ID), Parent: types.EntityId(p.Parent), Spec: p.Spec}
	case types.EventTaskScheduled:
		var p payloadScheduled
		if err := msgpack.Unmarshal(payload, &p); err != nil {
			return err
		}
		event.TaskScheduled = &types.TaskScheduledEvent{Agent: types.EntityId(p.Agent), Task: p.Task}
	case types.EventObservationEmitted:
		var p payloadObservation
		if err := msgpack.Unmarshal(payload, &p); err != nil {
			return err
		}
		event.ObservationEmitted = &types.ObservationEmittedEvent{Agent: types.EntityId(p.Agent), Size: p.Size}
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
	return nil
}
