// Package kernel implements the deterministic, capability-checked
// dispatch of Operations against an in-memory WorldState, emitting one
// KernelEvent per accepted submission. All dispatch serializes through a
// single critical section: given an initial state and a sequence of
// (message, now) pairs, the produced event sequence is a pure function of
// those inputs.
package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/toka-systems/toka/internal/auth"
	"github.com/toka-systems/toka/internal/bus"
	"github.com/toka-systems/toka/internal/store"
	"github.com/toka-systems/toka/internal/telemetry"
	"github.com/toka-systems/toka/internal/types"
)

// Clock supplies the timestamp stamped onto each emitted event. Tests
// substitute a fixed clock to keep digests and timestamps reproducible.
type Clock func() time.Time

// Handler implements one Operation kind's precondition check and the
// WorldState mutation it licenses, split into two steps so the kernel can
// defer the mutation until the event it produces is durably committed.
//
// Check must be pure: it validates preconditions against the current
// WorldState and returns the event to emit (allocating any new EntityId
// the event needs), but must not write to WorldState. Apply performs the
// write licensed by a successful Check, and is only ever called after the
// kernel has appended and published that exact event — so a failed
// Submit never leaves WorldState holding a mutation with no corresponding
// observable event, and a caller retrying after a transient store failure
// sees the same preconditions it saw the first time.
type Handler struct {
	Check func(w *worldState, op types.Operation) (types.KernelEvent, error)
	Apply func(w *worldState, op types.Operation, event types.KernelEvent)
}

// Kernel is the single entry point for capability-checked operation
// dispatch. Construct with New; all exported methods are safe for
// concurrent use.
type Kernel struct {
	log   logr.Logger
	auth  auth.Provider
	bus   *bus.Bus
	store store.Store
	clock Clock

	lock *ticketLock

	state    *worldState
	sequence uint64
	lastDigest [32]byte

	handlers map[types.OperationKind]Handler
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithClock overrides the default time.Now clock; used by tests needing
// deterministic timestamps.
func WithClock(clock Clock) Option {
	return func(k *Kernel) { k.clock = clock }
}

// WithLogger attaches a structured logger.
func WithLogger(log logr.Logger) Option {
	return func(k *Kernel) { k.log = log }
}

// New constructs a Kernel wired to the given capability provider, event
// bus, and event store, with the three built-in opcode handlers
// pre-registered.
func New(provider auth.Provider, b *bus.Bus, s store.Store, opts ...Option) *Kernel {
	k := &Kernel{
		log:      logr.Discard(),
		auth:     provider,
		bus:      b,
		store:    s,
		clock:    time.Now,
		lock:     newTicketLock(),
		state:    newWorldState(),
		handlers: make(map[types.OperationKind]Handler),
	}
	for _, opt := range opts {
		opt(k)
	}

	k.mustRegister(types.OpSpawnSubAgent, Handler{Check: checkSpawnSubAgent, Apply: applySpawnSubAgent})
	k.mustRegister(types.OpScheduleAgentTask, Handler{Check: checkScheduleAgentTask, Apply: applyScheduleAgentTask})
	k.mustRegister(types.OpEmitObservation, Handler{Check: checkEmitObservation, Apply: applyEmitObservation})

	return k
}

// RegisterHandler adds an out-of-tree opcode handler. Registration is
// process-wide and expected to occur during initialization; registering
// the same kind twice is a fatal configuration error, matching the
// "duplicate registration is a fatal configuration error" contract.
func (k *Kernel) RegisterHandler(kind types.OperationKind, h Handler) error {
	if _, exists := k.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", types.ErrDuplicateHandler, kind)
	}
	k.handlers[kind] = h
	return nil
}

func (k *Kernel) mustRegister(kind types.OperationKind, h Handler) {
	if err := k.RegisterHandler(kind, h); err != nil {
		panic(err)
	}
}

// Submit validates msg's capability token, dispatches its Operation
// against WorldState, and — on success — publishes and durably appends
// exactly one KernelEvent before returning it. Submissions are serialized
// in FIFO arrival order by the kernel's internal lock; no partial state
// change is ever observable.
func (k *Kernel) Submit(ctx context.Context, msg types.Message) (types.KernelEvent, error) {
	_, span := telemetry.StartKernelOpSpan(ctx, string(msg.Op.Kind), int64(msg.Origin))
	var dispatchErr error
	defer func() { telemetry.EndKernelOpSpan(span, dispatchErr) }()

	claims, err := k.auth.Validate(msg.Capability)
	if err != nil {
		k.log.V(1).Info("capability denied", "error", err)
		dispatchErr = fmt.Errorf("capability denied: %w", err)
		return types.KernelEvent{}, dispatchErr
	}

	handler, ok := k.handlers[msg.Op.Kind]
	if !ok {
		dispatchErr = fmt.Errorf("%w: no handler for %s", types.ErrPreconditionFailed, msg.Op.Kind)
		return types.KernelEvent{}, dispatchErr
	}

	release := k.lock.acquire()
	defer release()

	if err := k.checkPermission(claims, msg.Op); err != nil {
		dispatchErr = err
		return types.KernelEvent{}, dispatchErr
	}

	event, err := handler.Check(k.state, msg.Op)
	if err != nil {
		dispatchErr = err
		return types.KernelEvent{}, dispatchErr
	}

	event.Sequence = k.sequence + 1
	event.Timestamp = k.clock()

	payload, err := digestPayload(event)
	if err != nil {
		dispatchErr = fmt.Errorf("kernel: digest payload: %w", err)
		return types.KernelEvent{}, dispatchErr
	}
	event.Digest = causalDigest(payload, k.lastDigest)

	// WorldState is only mutated once the event is durably appended and
	// published; a failed Append below returns with WorldState untouched,
	// so the caller's retry sees the same preconditions Check just saw.
	if err := k.store.Append(ctx, event); err != nil {
		dispatchErr = fmt.Errorf("%w: %v", types.ErrStoreAppendFailed, err)
		return types.KernelEvent{}, dispatchErr
	}
	k.bus.Publish(event)
	handler.Apply(k.state, msg.Op, event)

	k.sequence = event.Sequence
	k.lastDigest = event.Digest

	k.log.V(1).Info("submitted", "kind", event.Kind, "sequence", event.Sequence)
	return event, nil
}

// checkPermission enforces the operation-specific permission string
// against claims, in addition to the handler's own precondition checks.
func (k *Kernel) checkPermission(claims types.Claims, op types.Operation) error {
	var required string
	switch op.Kind {
	case types.OpSpawnSubAgent:
		required = "agent:spawn"
	case types.OpScheduleAgentTask:
		required = "agent:schedule_task"
	case types.OpEmitObservation:
		required = "agent:emit_observation"
	default:
		return nil
	}
	if !claims.HasPermission(required) {
		return fmt.Errorf("%w: requires %q", types.ErrInsufficientPermission, required)
	}
	return nil
}

// checkSpawnSubAgent validates that the requested name is free and
// allocates the new entity's ID, but does not record the agent as spawned
// — that happens in applySpawnSubAgent, once the AgentSpawned event this
// returns has actually been committed. Allocating the ID here can leave a
// gap in the sequence if Submit later fails to append, but never causes
// an EntityId to be reused, so it does not threaten determinism.
func checkSpawnSubAgent(w *worldState, op types.Operation) (types.KernelEvent, error) {
	in := op.SpawnSubAgent
	if in == nil {
		return types.KernelEvent{}, fmt.Errorf("%w: nil SpawnSubAgentOp", types.ErrPreconditionFailed)
	}
	if w.isNameTaken(in.Spec.Name) {
		return types.KernelEvent{}, fmt.Errorf("%w: %s", types.ErrDuplicateName, in.Spec.Name)
	}
	id := w.nextEntityID.Next()

	return types.KernelEvent{
		Kind: types.EventAgentSpawned,
		AgentSpawned: &types.AgentSpawnedEvent{
			ID:     id,
			Parent: in.Parent,
			Spec:   in.Spec,
		},
	}, nil
}

func applySpawnSubAgent(w *worldState, op types.Operation, event types.KernelEvent) {
	w.spawn(event.AgentSpawned.ID, op.SpawnSubAgent.Spec.Name)
}

func checkScheduleAgentTask(w *worldState, op types.Operation) (types.KernelEvent, error) {
	in := op.ScheduleAgentTask
	if in == nil {
		return types.KernelEvent{}, fmt.Errorf("%w: nil ScheduleAgentTaskOp", types.ErrPreconditionFailed)
	}
	if !w.isSpawned(in.Agent) {
		return types.KernelEvent{}, fmt.Errorf("%w: %s", types.ErrUnknownAgent, in.Agent)
	}

	return types.KernelEvent{
		Kind: types.EventTaskScheduled,
		TaskScheduled: &types.TaskScheduledEvent{
			Agent: in.Agent,
			Task:  in.Task,
		},
	}, nil
}

func applyScheduleAgentTask(w *worldState, op types.Operation, event types.KernelEvent) {
	w.scheduleTask(op.ScheduleAgentTask.Agent, op.ScheduleAgentTask.Task)
}

func checkEmitObservation(w *worldState, op types.Operation) (types.KernelEvent, error) {
	in := op.EmitObservation
	if in == nil {
		return types.KernelEvent{}, fmt.Errorf("%w: nil EmitObservationOp", types.ErrPreconditionFailed)
	}
	if !w.isSpawned(in.Agent) {
		return types.KernelEvent{}, fmt.Errorf("%w: %s", types.ErrUnknownAgent, in.Agent)
	}

	return types.KernelEvent{
		Kind: types.EventObservationEmitted,
		ObservationEmitted: &types.ObservationEmittedEvent{
			Agent: in.Agent,
			Size:  len(in.Data),
		},
	}, nil
}

func applyEmitObservation(w *worldState, op types.Operation, event types.KernelEvent) {
	w.recordObservation(op.EmitObservation.Agent, op.EmitObservation.Data)
}
