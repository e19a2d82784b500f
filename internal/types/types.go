// Package types holds the value types shared across the kernel, bus, store,
// gateway, agent runtime, and orchestration packages. It is a leaf package:
// it imports nothing from the rest of this module, which is what lets
// orchestration depend on agent runtime without a cycle back the other way.
package types

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EntityId is an opaque identifier for any addressable entity (user, agent,
// system). The kernel is the only allocator; IDs are never reused within a
// process lifetime.
type EntityId uint64

func (id EntityId) String() string {
	return fmt.Sprintf("entity-%d", uint64(id))
}

// EntityIdSequence hands out strictly increasing EntityId values.
type EntityIdSequence struct {
	next atomic.Uint64
}

// NewEntityIdSequence starts a sequence at 1 (0 is reserved as "no entity").
func NewEntityIdSequence() *EntityIdSequence {
	seq := &EntityIdSequence{}
	seq.next.Store(1)
	return seq
}

// Next returns the next EntityId and advances the counter.
func (s *EntityIdSequence) Next() EntityId {
	return EntityId(s.next.Add(1) - 1)
}

// Priority orders agents and tasks within a dependency layer.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank gives a total order for priority comparisons, higher sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether p is one of the four known priority levels.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ValidationLevel controls how strictly the kernel enforces capability
// checks for an agent's operations.
type ValidationLevel string

const (
	ValidationStrict    ValidationLevel = "strict"
	ValidationModerate  ValidationLevel = "moderate"
	ValidationPermissive ValidationLevel = "permissive"
)

// ResourceLimits bounds an agent's consumption.
type ResourceLimits struct {
	MemoryBytes   int64
	CPUShare      float64
	WallClockTimeout time.Duration
}

// SecurityProfile configures sandboxing and capability-check strictness for
// an agent.
type SecurityProfile struct {
	SandboxEnabled  bool
	ValidationLevel ValidationLevel
}

// Objective is one declared goal an agent pursues; it is considered
// satisfied when its ValidationCriterion is reported met.
type Objective struct {
	Description        string
	Deliverable         string
	ValidationCriterion string
}

// TaskSpec is a unit of work an agent schedules against the kernel.
type TaskSpec struct {
	Description string
	Priority    Priority
	DependsOn   map[string]struct{}
	Cooldown    time.Duration
}

// Capabilities lists the permission strings an agent is granted, split into
// the set it primarily relies on and a secondary fallback set.
type Capabilities struct {
	Primary   []string
	Secondary []string
}

// AgentSpec is the declarative, configuration-loaded description of an
// agent: what it is, what it must accomplish, and under what limits.
type AgentSpec struct {
	Name            string
	Version         string
	Domain          string
	Priority        Priority
	Workstream      string
	Capabilities    Capabilities
	Objectives      []Objective
	Tasks           map[string]TaskSpec
	ResourceLimits  ResourceLimits
	ReportingCadence time.Duration
	Security        SecurityProfile
	Guardrails      Guardrails
}

// AutonomyLevel bounds how much an agent may act without a human in the
// loop; it supplements the spec's security profile with the teacher's
// richer guardrails shape.
type AutonomyLevel string

const (
	AutonomyObserveOnly AutonomyLevel = "observe_only"
	AutonomySupervised  AutonomyLevel = "supervised"
	AutonomyAutonomous  AutonomyLevel = "autonomous"
)

// Guardrails constrains what an agent may do without escalating, grounded
// on the teacher's GuardrailsSpec shape (autonomy level, allow/deny
// patterns, escalation target).
type Guardrails struct {
	AutonomyLevel   AutonomyLevel
	AllowedActions  []string
	DeniedActions   []string
	EscalationAgent string
}

// Operation is the kernel's closed vocabulary of things a message may ask
// it to do. Implementations are the three variant structs below; the
// OperationKind tag distinguishes them at dispatch time.
type OperationKind string

const (
	OpSpawnSubAgent     OperationKind = "SpawnSubAgent"
	OpScheduleAgentTask OperationKind = "ScheduleAgentTask"
	OpEmitObservation   OperationKind = "EmitObservation"
)

// Operation carries exactly one of its payload fields, selected by Kind.
// Using one struct with a kind tag (rather than an interface) keeps
// dispatch a closed switch, matching the "small closed set" decision.
type Operation struct {
	Kind OperationKind

	SpawnSubAgent     *SpawnSubAgentOp
	ScheduleAgentTask *ScheduleAgentTaskOp
	EmitObservation   *EmitObservationOp
}

// SpawnSubAgentOp requests that a new agent be spawned under parent.
type SpawnSubAgentOp struct {
	Parent EntityId
	Spec   AgentSpec
}

// ScheduleAgentTaskOp requests that task be scheduled for agent.
type ScheduleAgentTaskOp struct {
	Agent EntityId
	Task  TaskSpec
}

// EmitObservationOp records an observation blob from agent.
type EmitObservationOp struct {
	Agent EntityId
	Data  []byte
}

// NewSpawnSubAgent builds an Operation wrapping a SpawnSubAgentOp.
func NewSpawnSubAgent(parent EntityId, spec AgentSpec) Operation {
	return Operation{Kind: OpSpawnSubAgent, SpawnSubAgent: &SpawnSubAgentOp{Parent: parent, Spec: spec}}
}

// NewScheduleAgentTask builds an Operation wrapping a ScheduleAgentTaskOp.
func NewScheduleAgentTask(agent EntityId, task TaskSpec) Operation {
	return Operation{Kind: OpScheduleAgentTask, ScheduleAgentTask: &ScheduleAgentTaskOp{Agent: agent, Task: task}}
}

// NewEmitObservation builds an Operation wrapping an EmitObservationOp.
func NewEmitObservation(agent EntityId, data []byte) Operation {
	return Operation{Kind: OpEmitObservation, EmitObservation: &EmitObservationOp{Agent: agent, Data: data}}
}

// Claims describes who a capability token speaks for and what it permits.
// Immutable once minted.
type Claims struct {
	Subject     EntityId
	Vault       string
	Permissions map[string]struct{}
	ExpiresAt   time.Time
	JTI         string
}

// HasPermission reports whether perm is among the claim's granted
// permissions.
func (c Claims) HasPermission(perm string) bool {
	_, ok := c.Permissions[perm]
	return ok
}

// Message is the only thing the kernel accepts at its submission entry
// point.
type Message struct {
	Origin     EntityId
	Capability string
	Op         Operation
}

// KernelEventKind tags the variant carried by a KernelEvent.
type KernelEventKind string

const (
	EventAgentSpawned      KernelEventKind = "AgentSpawned"
	EventTaskScheduled     KernelEventKind = "TaskScheduled"
	EventObservationEmitted KernelEventKind = "ObservationEmitted"
)

// KernelEvent is an immutable record produced by a successful submission.
type KernelEvent struct {
	Kind KernelEventKind

	Sequence  uint64
	Digest    [32]byte
	Timestamp time.Time

	AgentSpawned      *AgentSpawnedEvent
	TaskScheduled     *TaskScheduledEvent
	ObservationEmitted *ObservationEmittedEvent
}

// AgentSpawnedEvent records that id was spawned under parent with spec.
type AgentSpawnedEvent struct {
	ID     EntityId
	Parent EntityId
	Spec   AgentSpec
}

// TaskScheduledEvent records that task was scheduled for agent.
type TaskScheduledEvent struct {
	Agent EntityId
	Task  TaskSpec
}

// ObservationEmittedEvent records that agent emitted an observation of
// Size bytes; the payload itself is not retained on the event (only in the
// store, if the driver chooses to).
type ObservationEmittedEvent struct {
	Agent EntityId
	Size  int
}

// OrchestrationPhase is the lifecycle stage of an OrchestrationSession.
type OrchestrationPhase string

const (
	PhasePending   OrchestrationPhase = "pending"
	PhaseRunning   OrchestrationPhase = "running"
	PhaseCompleted OrchestrationPhase = "completed"
	PhaseFailed    OrchestrationPhase = "failed"
)

// OrchestrationSession is the orchestration-owned snapshot of a single run.
type OrchestrationSession struct {
	SessionID          string
	Phase               OrchestrationPhase
	Progress             float64
	Spawned              map[EntityId]struct{}
	PendingPhaseAgents   map[string]struct{}
	StartedAt            time.Time
	LastError            error
}
