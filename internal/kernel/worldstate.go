package kernel

import "github.com/toka-systems/toka/internal/types"

// worldState is the kernel's private, in-memory state. It is mutated only
// from inside the kernel's critical section — nothing outside this
// package ever sees a pointer to it.
type worldState struct {
	agentTasks    map[types.EntityId][]types.TaskSpec
	agentInboxes  map[types.EntityId][][]byte
	agentsSpawned map[types.EntityId]struct{}
	agentNames    map[string]types.EntityId
	nextEntityID  *types.EntityIdSequence
}

func newWorldState() *worldState {
	return &worldState{
		agentTasks:    make(map[types.EntityId][]types.TaskSpec),
		agentInboxes:  make(map[types.EntityId][][]byte),
		agentsSpawned: make(map[types.EntityId]struct{}),
		agentNames:    make(map[string]types.EntityId),
		nextEntityID:  types.NewEntityIdSequence(),
	}
}

func (w *worldState) isSpawned(id types.EntityId) bool {
	_, ok := w.agentsSpawned[id]
	return ok
}

func (w *worldState) isNameTaken(name string) bool {
	_, ok := w.agentNames[name]
	return ok
}

func (w *worldState) spawn(id types.EntityId, name string) {
	w.agentsSpawned[id] = struct{}{}
	w.agentNames[name] = id
	w.agentTasks[id] = nil
	w.agentInboxes[id] = nil
}

func (w *worldState) scheduleTask(agent types.EntityId, task types.TaskSpec) {
	w.agentTasks[agent] = append(w.agentTasks[agent], task)
}

func (w *worldState) recordObservation(agent types.EntityId, data []byte) {
	w.agentInboxes[agent] = append(w.agentInboxes[agent], data)
}
