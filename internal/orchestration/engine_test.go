package orchestration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/internal/auth"
	"github.com/toka-systems/toka/internal/gateway"
	gwprovider "github.com/toka-systems/toka/internal/gateway/provider"
	"github.com/toka-systems/toka/internal/gateway/ratelimit"
	"github.com/toka-systems/toka/internal/tools"
	"github.com/toka-systems/toka/internal/types"
)

// fakeKernel hands out incrementing EntityIds for SpawnSubAgent and
// answers every other operation with a generic success event. It can be
// told to fail every task a named agent schedules, simulating an agent
// whose work always errors out.
type fakeKernel struct {
	mu       sync.Mutex
	nextID   types.EntityId
	failTask map[string]bool
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{failTask: map[string]bool{}}
}

func (k *fakeKernel) Submit(_ context.Context, msg types.Message) (types.KernelEvent, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch msg.Op.Kind {
	case types.OpSpawnSubAgent:
		id := k.nextID
		k.nextID++
		return types.KernelEvent{
			Kind:         types.EventAgentSpawned,
			AgentSpawned: &types.AgentSpawnedEvent{ID: id, Parent: msg.Op.SpawnSubAgent.Parent, Spec: msg.Op.SpawnSubAgent.Spec},
		}, nil
	default:
		return types.KernelEvent{Kind: types.EventObservationEmitted}, nil
	}
}

func stubGateway(content string, err error) *gateway.Gateway {
	return gateway.NewWithProvider(gateway.Config{
		Secrets:   gateway.SecretConfig{ProviderType: "stub"},
		RateLimit: ratelimit.Config{RequestsPerMinute: 600, Burst: 100},
	}, &stubCompleter{content: content, err: err})
}

type stubCompleter struct {
	content string
	err     error
}

func (s *stubCompleter) Name() string { return "stub" }
func (s *stubCompleter) Complete(_ context.Context, _ *gwprovider.Request) (*gwprovider.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &gwprovider.Response{Content: s.content}, nil
}

func newTestEngine(t *testing.T, kernel KernelSubmitter, gw *gateway.Gateway, opts ...Option) *Engine {
	t.Helper()
	authProvider := auth.NewHMACProvider([]byte("orchestration-test-key-orchestration-test-key"))
	e, err := NewEngine(kernel, authProvider, gw, tools.NewRegistry(), opts...)
	require.NoError(t, err)
	return e
}

func agentSpec(name string, priority types.Priority, deps ...string) types.AgentSpec {
	depSet := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		depSet[d] = struct{}{}
	}
	return types.AgentSpec{
		Name:     name,
		Domain:   "test",
		Priority: priority,
		Tasks: map[string]types.TaskSpec{
			"only": {Description: "do the thing", Priority: priority, DependsOn: depSet},
		},
		Capabilities: types.Capabilities{Primary: []string{"tool:echo"}},
	}
}

func TestRunSessionHappyPathCompletesInDependencyOrder(t *testing.T) {
	kernel := newFakeKernel()
	gw := stubGateway("ok", nil)
	e := newTestEngine(t, kernel, gw)

	specs := []types.AgentSpec{
		agentSpec("upstream", types.PriorityHigh),
		agentSpec("downstream", types.PriorityHigh, "upstream"),
	}

	session, err := e.RunSession(context.Background(), specs)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCompleted, session.Phase)
	assert.Equal(t, 1.0, session.Progress)
	assert.Len(t, session.Spawned, 2)
	assert.Empty(t, session.PendingPhaseAgents)
}

func TestRunSessionAbortsBeforeSpawningOnCycle(t *testing.T) {
	kernel := newFakeKernel()
	gw := stubGateway("ok", nil)
	e := newTestEngine(t, kernel, gw)

	specs := []types.AgentSpec{
		agentSpec("a", types.PriorityHigh, "b"),
		agentSpec("b", types.PriorityHigh, "a"),
	}

	session, err := e.RunSession(context.Background(), specs)
	require.Error(t, err)
	assert.Equal(t, types.PhaseFailed, session.Phase)
	assert.Empty(t, session.Spawned)
}

func TestRunSessionCriticalFailureAbortsSession(t *testing.T) {
	kernel := newFakeKernel()
	gw := stubGateway("", types.ErrSensitiveContent)
	e := newTestEngine(t, kernel, gw)

	specs := []types.AgentSpec{agentSpec("critical-agent", types.PriorityCritical)}

	session, err := e.RunSession(context.Background(), specs)
	require.Error(t, err)
	assert.Equal(t, types.PhaseFailed, session.Phase)
	assert.Contains(t, err.Error(), "critical-agent")
}

func TestRunSessionNonCriticalFailureStillCompletesSession(t *testing.T) {
	kernel := newFakeKernel()
	gw := stubGateway("", types.ErrSensitiveContent)
	e := newTestEngine(t, kernel, gw)

	specs := []types.AgentSpec{agentSpec("best-effort-agent", types.PriorityLow)}

	session, err := e.RunSession(context.Background(), specs)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCompleted, session.Phase)
}

func TestRunSessionRespectsMaxConcurrentAgents(t *testing.T) {
	kernel := newFakeKernel()
	gw := stubGateway("ok", nil)

	var mu sync.Mutex
	var peak, inFlight int
	gw = gateway.NewWithProvider(gateway.Config{
		Secrets:   gateway.SecretConfig{ProviderType: "stub"},
		RateLimit: ratelimit.Config{RequestsPerMinute: 6000, Burst: 1000},
	}, &trackingCompleter{mu: &mu, inFlight: &inFlight, peak: &peak})

	e := newTestEngine(t, kernel, gw, WithMaxConcurrentAgents(2))

	specs := make([]types.AgentSpec, 0, 6)
	for i := 0; i < 6; i++ {
		specs = append(specs, agentSpec(fmt.Sprintf("agent-%d", i), types.PriorityMedium))
	}

	session, err := e.RunSession(context.Background(), specs)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCompleted, session.Phase)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

type trackingCompleter struct {
	mu       *sync.Mutex
	inFlight *int
	peak     *int
}

func (c *trackingCompleter) Name() string { return "stub" }
func (c *trackingCompleter) Complete(_ context.Context, _ *gwprovider.Request) (*gwprovider.Response, error) {
	c.mu.Lock()
	*c.inFlight++
	if *c.inFlight > *c.peak {
		*c.peak = *c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	*c.inFlight--
	c.mu.Unlock()
	return &gwprovider.Response{Content: "ok"}, nil
}

func TestRunSessionPhaseTimeoutFailsSlowAgent(t *testing.T) {
	kernel := newFakeKernel()
	gw := gateway.NewWithProvider(gateway.Config{
		Secrets:   gateway.SecretConfig{ProviderType: "stub"},
		RateLimit: ratelimit.Config{RequestsPerMinute: 6000, Burst: 1000},
	}, &hangingCompleter{})

	e := newTestEngine(t, kernel, gw, WithPhaseTimeout(20*time.Millisecond), WithMaxConcurrentAgents(1))

	specs := []types.AgentSpec{agentSpec("slow-agent", types.PriorityCritical)}
	session, err := e.RunSession(context.Background(), specs)
	require.Error(t, err)
	assert.Equal(t, types.PhaseFailed, session.Phase)
}

type hangingCompleter struct{}

func (c *hangingCompleter) Name() string { return "stub" }
func (c *hangingCompleter) Complete(ctx context.Context, _ *gwprovider.Request) (*gwprovider.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
