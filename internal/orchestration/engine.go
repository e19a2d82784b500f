// Package orchestration runs a set of declarative agent specs to
// completion: it builds the dependency graph between them, rejects cycles
// up front, layers the graph into phases, and spawns each phase's agents
// through the kernel with a bounded concurrency limit, grounded on the
// tick/evaluate/trigger shape of a polling scheduler but driven by
// dependency-graph phases instead of cron schedules.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/toka-systems/toka/internal/agentruntime"
	"github.com/toka-systems/toka/internal/auth"
	"github.com/toka-systems/toka/internal/gateway"
	"github.com/toka-systems/toka/internal/metrics"
	"github.com/toka-systems/toka/internal/telemetry"
	"github.com/toka-systems/toka/internal/tools"
	"github.com/toka-systems/toka/internal/types"
)

// rootEntity is the synthetic parent used for top-level SpawnSubAgent
// submissions; the kernel never validates that a Parent was itself
// spawned, so 0 ("no entity") is a safe placeholder for session roots.
const rootEntity = types.EntityId(0)

const (
	defaultMaxConcurrentAgents = 5
	defaultPhaseTimeout        = 15 * time.Minute
	defaultCapabilityTTL       = time.Hour
)

// KernelSubmitter is the narrow surface orchestration needs from the
// kernel; it is the same shape agentruntime.KernelSubmitter requires, so a
// *kernel.Kernel satisfies both without either package importing the
// other's concrete type.
type KernelSubmitter interface {
	Submit(ctx context.Context, msg types.Message) (types.KernelEvent, error)
}

// CriticalFailurePolicy decides whether a failed agent aborts its whole
// session. The default treats only types.PriorityCritical as abort-worthy;
// non-critical failures are logged and the phase proceeds.
type CriticalFailurePolicy func(types.Priority) bool

func defaultCriticalFailurePolicy(p types.Priority) bool {
	return p == types.PriorityCritical
}

// Engine runs orchestration sessions.
type Engine struct {
	log    logr.Logger
	kernel KernelSubmitter
	auth   auth.Provider
	gw     *gateway.Gateway
	tools  *tools.Registry

	systemCapability string

	maxConcurrentAgents int
	phaseTimeout         time.Duration
	capabilityTTL        time.Duration
	criticalAborts       CriticalFailurePolicy
	clock                func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log logr.Logger) Option { return func(e *Engine) { e.log = log } }

func WithMaxConcurrentAgents(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrentAgents = n
		}
	}
}

func WithPhaseTimeout(d time.Duration) Option { return func(e *Engine) { e.phaseTimeout = d } }

func WithCapabilityTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.capabilityTTL = d
		}
	}
}

func WithCriticalFailurePolicy(p CriticalFailurePolicy) Option {
	return func(e *Engine) { e.criticalAborts = p }
}

func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

// NewEngine constructs an Engine and mints the system-level capability it
// uses to submit SpawnSubAgent operations on behalf of a session root.
func NewEngine(kernel KernelSubmitter, authProvider auth.Provider, gw *gateway.Gateway, toolRegistry *tools.Registry, opts ...Option) (*Engine, error) {
	e := &Engine{
		log:                  logr.Discard(),
		kernel:               kernel,
		auth:                 authProvider,
		gw:                   gw,
		tools:                toolRegistry,
		maxConcurrentAgents:  defaultMaxConcurrentAgents,
		phaseTimeout:         defaultPhaseTimeout,
		capabilityTTL:        defaultCapabilityTTL,
		criticalAborts:       defaultCriticalFailurePolicy,
		clock:                time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	token, err := e.auth.Mint(types.Claims{
		Subject:     rootEntity,
		Vault:       "orchestration",
		Permissions: map[string]struct{}{"agent:spawn": {}},
		ExpiresAt:   e.clock().Add(100 * 365 * 24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestration: mint system capability: %w", err)
	}
	e.systemCapability = token
	return e, nil
}

// sessionTracker implements agentruntime.DependencyTracker over a
// session's agent names, marked complete as each one finishes.
type sessionTracker struct {
	mu        sync.RWMutex
	completed map[string]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{completed: make(map[string]struct{})}
}

func (t *sessionTracker) IsComplete(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.completed[name]
	return ok
}

func (t *sessionTracker) markCompleted(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[name] = struct{}{}
}

func (t *sessionTracker) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.completed)
}

// RunSession drives specs to completion and returns the final session
// snapshot. The session aborts before any agent is spawned if the specs
// contain a duplicate name, a dangling dependency, or a dependency cycle.
func (e *Engine) RunSession(ctx context.Context, specs []types.AgentSpec) (*types.OrchestrationSession, error) {
	session := &types.OrchestrationSession{
		SessionID:          uuid.NewString(),
		Phase:              types.PhasePending,
		Spawned:            make(map[types.EntityId]struct{}),
		PendingPhaseAgents: make(map[string]struct{}),
		StartedAt:          e.clock(),
	}

	ctx, sessionSpan := telemetry.StartSessionSpan(ctx, session.SessionID, len(specs))
	defer sessionSpan.End()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	g, err := buildGraph(specs)
	if err != nil {
		session.Phase = types.PhaseFailed
		session.LastError = err
		metrics.RecordSessionComplete("failed")
		return session, err
	}
	if err := g.detectCycle(); err != nil {
		session.Phase = types.PhaseFailed
		session.LastError = err
		metrics.RecordSessionComplete("failed")
		return session, err
	}

	specsByName := make(map[string]types.AgentSpec, len(specs))
	for _, spec := range specs {
		specsByName[spec.Name] = spec
	}

	layers := g.layers()
	tracker := newSessionTracker()
	session.Phase = types.PhaseRunning

	for _, layer := range layers {
		session.PendingPhaseAgents = toSet(layer)
		if err := e.runPhase(ctx, session, layer, specsByName, tracker, len(specs)); err != nil {
			session.Phase = types.PhaseFailed
			session.LastError = err
			metrics.RecordSessionComplete("failed")
			return session, err
		}
	}

	session.Phase = types.PhaseCompleted
	session.Progress = 1.0
	metrics.RecordSessionComplete("completed")
	return session, nil
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// runPhase spawns every agent in layer, bounded by maxConcurrentAgents and
// a per-phase wall-clock deadline. A critical-priority failure sets the
// phase's error and causes RunSession to abort the session; a
// non-critical failure is logged and the phase still advances.
func (e *Engine) runPhase(ctx context.Context, session *types.OrchestrationSession, layer []string, specsByName map[string]types.AgentSpec, tracker *sessionTracker, totalAgents int) error {
	phaseCtx := ctx
	if e.phaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, e.phaseTimeout)
		defer cancel()
	}

	sem := make(chan struct{}, e.maxConcurrentAgents)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstCriticalErr error

	for _, name := range layer {
		spec := specsByName[name]

		select {
		case sem <- struct{}{}:
		case <-phaseCtx.Done():
			mu.Lock()
			if firstCriticalErr == nil {
				firstCriticalErr = fmt.Errorf("phase deadline exceeded before spawning %q: %w", name, phaseCtx.Err())
			}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string, spec types.AgentSpec) {
			defer wg.Done()
			defer func() { <-sem }()

			err := e.spawnAndRun(phaseCtx, session, spec, tracker)

			mu.Lock()
			defer mu.Unlock()
			delete(session.PendingPhaseAgents, name)
			if err != nil {
				e.log.Error(err, "agent run failed", "agent", name, "priority", spec.Priority)
				if e.criticalAborts(spec.Priority) && firstCriticalErr == nil {
					firstCriticalErr = fmt.Errorf("agent %q failed: %w", name, err)
				}
				return
			}
			tracker.markCompleted(name)
			session.Progress = float64(tracker.count()) / float64(maxInt(totalAgents, 1))
		}(name, spec)
	}

	wg.Wait()
	return firstCriticalErr
}

func (e *Engine) spawnAndRun(ctx context.Context, session *types.OrchestrationSession, spec types.AgentSpec, tracker *sessionTracker) error {
	event, err := e.kernel.Submit(ctx, types.Message{
		Origin:     rootEntity,
		Capability: e.systemCapability,
		Op:         types.NewSpawnSubAgent(rootEntity, spec),
	})
	if err != nil {
		return fmt.Errorf("spawn %q: %w", spec.Name, err)
	}
	if event.AgentSpawned == nil {
		return fmt.Errorf("%w: spawn of %q produced no AgentSpawned payload", types.ErrPreconditionFailed, spec.Name)
	}
	id := event.AgentSpawned.ID

	func() {
		// session.Spawned is only ever written here and read by callers
		// after RunSession returns, but multiple layers run sequentially
		// while agents within a layer run concurrently, so guard the map.
		spawnMu.Lock()
		defer spawnMu.Unlock()
		session.Spawned[id] = struct{}{}
	}()

	token, err := e.mintAgentCapability(id, spec)
	if err != nil {
		return fmt.Errorf("mint capability for %q: %w", spec.Name, err)
	}

	rt := agentruntime.New(id, token, spec, e.kernel, e.gw, e.tools,
		agentruntime.WithLogger(e.log.WithValues("agent", spec.Name, "entity", id)),
		agentruntime.WithDependencyTracker(tracker),
	)

	metrics.ActiveAgentRuns.Inc()
	defer metrics.ActiveAgentRuns.Dec()
	return rt.Run(ctx)
}

// spawnMu guards concurrent writes to an in-flight session's Spawned set;
// package-level since spawnAndRun has no receiver access to a per-session
// lock without growing OrchestrationSession beyond its plain-snapshot
// shape in the shared types package.
var spawnMu sync.Mutex

func (e *Engine) mintAgentCapability(id types.EntityId, spec types.AgentSpec) (string, error) {
	perms := map[string]struct{}{
		"agent:schedule_task":    {},
		"agent:emit_observation": {},
	}
	for _, p := range spec.Capabilities.Primary {
		perms[p] = struct{}{}
	}
	for _, p := range spec.Capabilities.Secondary {
		perms[p] = struct{}{}
	}
	return e.auth.Mint(types.Claims{
		Subject:     id,
		Vault:       spec.Domain,
		Permissions: perms,
		ExpiresAt:   e.clock().Add(e.capabilityTTL),
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
