package agentruntime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/internal/gateway"
	"github.com/toka-systems/toka/internal/gateway/provider"
	"github.com/toka-systems/toka/internal/gateway/ratelimit"
	"github.com/toka-systems/toka/internal/tools"
	"github.com/toka-systems/toka/internal/types"
)

type stubProvider struct {
	responses []*provider.Response
	errs      []error
	calls     int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, _ *provider.Request) (*provider.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &provider.Response{Content: "done"}, nil
}

func newTestGateway(stub *stubProvider) *gateway.Gateway {
	return gateway.NewWithProvider(gateway.Config{
		Secrets:   gateway.SecretConfig{ProviderType: "stub"},
		RateLimit: ratelimit.Config{RequestsPerMinute: 600, Burst: 100},
	}, stub)
}

type recordingKernel struct {
	events []types.Operation
	err    error
	nextID types.EntityId
}

func (k *recordingKernel) Submit(_ context.Context, msg types.Message) (types.KernelEvent, error) {
	k.events = append(k.events, msg.Op)
	if k.err != nil {
		return types.KernelEvent{}, k.err
	}
	return types.KernelEvent{Kind: types.EventObservationEmitted, Sequence: uint64(len(k.events))}, nil
}

func testSpec(name string) types.AgentSpec {
	return types.AgentSpec{
		Name:     name,
		Domain:   "test",
		Priority: types.PriorityHigh,
		Tasks: map[string]types.TaskSpec{
			"read-file": {Description: "read input.txt", Priority: types.PriorityHigh},
		},
		Capabilities: types.Capabilities{Primary: []string{"tool:echo"}},
	}
}

func TestRunHappyPathReachesCompleted(t *testing.T) {
	stub := &stubProvider{responses: []*provider.Response{{Content: "file contents"}}}
	kernel := &recordingKernel{}
	rt := New(1, "cap-token", testSpec("file-ops-agent"), kernel, newTestGateway(stub), tools.NewRegistry())

	err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rt.State())
	assert.Equal(t, 1, stub.calls)

	var kinds []types.OperationKind
	for _, op := range kernel.events {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []types.OperationKind{
		types.OpEmitObservation,     // agent_ready
		types.OpScheduleAgentTask,   // read-file scheduled
		types.OpEmitObservation,     // task_result
		types.OpEmitObservation,     // progress
		types.OpEmitObservation,     // completed
	}, kinds)
}

func TestRunRetriesTransientErrorThenSucceeds(t *testing.T) {
	stub := &stubProvider{
		errs:      []error{types.ErrRateLimited},
		responses: []*provider.Response{nil, {Content: "ok"}},
	}
	kernel := &recordingKernel{}
	rt := New(1, "cap-token", testSpec("retry-agent"), kernel, newTestGateway(stub), tools.NewRegistry())
	rt.sleep = func(context.Context, time.Duration) error { return nil }

	err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rt.State())
	assert.Equal(t, 2, stub.calls)
}

func TestRunFailsImmediatelyOnLogicError(t *testing.T) {
	stub := &stubProvider{errs: []error{types.ErrSensitiveContent}}
	kernel := &recordingKernel{}
	rt := New(1, "cap-token", testSpec("blocked-agent"), kernel, newTestGateway(stub), tools.NewRegistry())

	err := rt.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, rt.State())
	assert.Equal(t, 1, stub.calls)
}

func TestRunExhaustsRetryBudgetAndFails(t *testing.T) {
	stub := &stubProvider{errs: []error{
		types.ErrRateLimited, types.ErrRateLimited, types.ErrRateLimited, types.ErrRateLimited,
	}}
	kernel := &recordingKernel{}
	rt := New(1, "cap-token", testSpec("exhausted-agent"), kernel, newTestGateway(stub), tools.NewRegistry())
	rt.sleep = func(context.Context, time.Duration) error { return nil }

	err := rt.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, rt.State())
	assert.Equal(t, defaultRetryBudget+1, stub.calls)
}

func TestAwaitingDependencyReturnsToPlanningOnceResolved(t *testing.T) {
	spec := testSpec("dependent-agent")
	spec.Tasks["read-file"] = types.TaskSpec{
		Description: "read",
		Priority:    types.PriorityHigh,
		DependsOn:   map[string]struct{}{"upstream-agent": {}},
	}

	deps := &mutableDeps{complete: map[string]bool{}}
	stub := &stubProvider{responses: []*provider.Response{{Content: "ok"}}}
	kernel := &recordingKernel{}
	rt := New(1, "cap-token", spec, kernel, newTestGateway(stub), tools.NewRegistry(), WithDependencyTracker(deps))
	rt.sleep = func(context.Context, time.Duration) error {
		deps.complete["upstream-agent"] = true
		return nil
	}

	err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rt.State())
}

type mutableDeps struct{ complete map[string]bool }

func (m *mutableDeps) IsComplete(name string) bool { return m.complete[name] }

func TestRunRespectsContextCancellation(t *testing.T) {
	stub := &stubProvider{}
	kernel := &recordingKernel{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := New(1, "cap-token", testSpec("cancelled-agent"), kernel, newTestGateway(stub), tools.NewRegistry())
	err := rt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateTerminated, rt.State())
}

func TestInvokeToolDeniesMissingCapability(t *testing.T) {
	stub := &stubProvider{}
	kernel := &recordingKernel{}
	rt := New(1, "cap-token", testSpec("tool-agent"), kernel, newTestGateway(stub), tools.NewRegistry())

	_, err := rt.InvokeTool(context.Background(), "missing-tool", nil)
	assert.True(t, errors.Is(err, types.ErrToolNotFound))
}
