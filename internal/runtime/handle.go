// Package runtime wires the kernel, event bus, event store, LLM gateway,
// tool registry, and orchestration engine into a single Handle: the
// process-level entry point that owns the kernel's lock scope and
// coordinates graceful shutdown of whatever orchestration sessions are
// in flight when a drain is requested.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/toka-systems/toka/internal/auth"
	"github.com/toka-systems/toka/internal/bus"
	"github.com/toka-systems/toka/internal/gateway"
	"github.com/toka-systems/toka/internal/kernel"
	"github.com/toka-systems/toka/internal/orchestration"
	"github.com/toka-systems/toka/internal/store"
	"github.com/toka-systems/toka/internal/tools"
	"github.com/toka-systems/toka/internal/types"
)

// DefaultDrainTimeout bounds how long Shutdown waits for in-flight
// orchestration sessions before forcibly cancelling them.
const DefaultDrainTimeout = 30 * time.Second

// Config wires a Handle's dependencies. Auth, Bus, Store, and Gateway are
// required; Tools and OrchestrationOpts are optional.
type Config struct {
	Auth              auth.Provider
	Bus               *bus.Bus
	Store             store.Store
	Gateway           *gateway.Gateway
	Tools             *tools.Registry
	DrainTimeout      time.Duration
	Logger            logr.Logger
	OrchestrationOpts []orchestration.Option
}

// Handle is the process-level entry point: every agent run, orchestration
// session, and kernel submission in the process flows through one Handle.
type Handle struct {
	log          logr.Logger
	kernel       *kernel.Kernel
	bus          *bus.Bus
	store        store.Store
	orchestrator *orchestration.Engine
	drainTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Handle from cfg.
func New(cfg Config) (*Handle, error) {
	if cfg.Auth == nil || cfg.Bus == nil || cfg.Store == nil || cfg.Gateway == nil {
		return nil, fmt.Errorf("runtime: Auth, Bus, Store, and Gateway are required")
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	toolRegistry := cfg.Tools
	if toolRegistry == nil {
		toolRegistry = tools.NewRegistry()
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	k := kernel.New(cfg.Auth, cfg.Bus, cfg.Store, kernel.WithLogger(log.WithName("kernel")))

	engine, err := orchestration.NewEngine(k, cfg.Auth, cfg.Gateway, toolRegistry,
		append([]orchestration.Option{orchestration.WithLogger(log.WithName("orchestration"))}, cfg.OrchestrationOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("runtime: construct orchestration engine: %w", err)
	}

	return &Handle{
		log:          log.WithName("runtime"),
		kernel:       k,
		bus:          cfg.Bus,
		store:        cfg.Store,
		orchestrator: engine,
		drainTimeout: drainTimeout,
		cancels:      make(map[string]context.CancelFunc),
	}, nil
}

// Submit forwards msg to the kernel directly, for callers (admin tooling,
// tests) that need low-level access without going through an agent
// runtime or orchestration session.
func (h *Handle) Submit(ctx context.Context, msg types.Message) (types.KernelEvent, error) {
	return h.kernel.Submit(ctx, msg)
}

// RunSession runs specs as one orchestration session. The session's
// context is tracked so Shutdown can cancel it if the drain deadline
// expires before it finishes on its own.
func (h *Handle) RunSession(ctx context.Context, specs []types.AgentSpec) (*types.OrchestrationSession, error) {
	key := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	h.registerRun(key, cancel)
	defer h.deregisterRun(key)

	return h.orchestrator.RunSession(runCtx, specs)
}

// Subscribe registers a new bus subscriber and returns its envelope
// channel.
func (h *Handle) Subscribe(id string) <-chan bus.Envelope {
	return h.bus.Subscribe(id)
}

// Unsubscribe removes a bus subscriber.
func (h *Handle) Unsubscribe(id string) {
	h.bus.Unsubscribe(id)
}

func (h *Handle) registerRun(key string, cancel context.CancelFunc) {
	h.mu.Lock()
	h.cancels[key] = cancel
	h.mu.Unlock()
}

func (h *Handle) deregisterRun(key string) {
	h.mu.Lock()
	delete(h.cancels, key)
	h.mu.Unlock()
}

// ActiveSessions reports how many orchestration sessions are currently
// in flight.
func (h *Handle) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cancels)
}

// Shutdown waits for in-flight orchestration sessions to finish on their
// own, up to the configured drain timeout or ctx's deadline, whichever
// comes first; any sessions still running past that point are forcibly
// cancelled. The bus and store are always closed before returning, even
// if the drain timed out.
func (h *Handle) Shutdown(ctx context.Context) error {
	deadline := time.NewTimer(h.drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	if h.ActiveSessions() == 0 {
		h.log.Info("no in-flight sessions, shutting down immediately")
		return h.closeResources()
	}

	h.log.Info("draining in-flight sessions", "inflight", h.ActiveSessions(), "timeout", h.drainTimeout)
	for {
		select {
		case <-ctx.Done():
			h.cancelAll()
			return h.closeResources()
		case <-deadline.C:
			remaining := h.ActiveSessions()
			if remaining > 0 {
				h.log.Info("drain timeout reached, cancelling remaining sessions", "remaining", remaining)
				h.cancelAll()
			}
			return h.closeResources()
		case <-ticker.C:
			if h.ActiveSessions() == 0 {
				h.log.Info("all in-flight sessions completed cleanly")
				return h.closeResources()
			}
		}
	}
}

func (h *Handle) cancelAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, cancel := range h.cancels {
		h.log.Info("cancelling in-flight session", "session", key)
		cancel()
	}
	h.cancels = make(map[string]context.CancelFunc)
}

func (h *Handle) closeResources() error {
	h.bus.Close()
	return h.store.Close()
}
