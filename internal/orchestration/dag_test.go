package orchestration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/internal/types"
)

func specWithDeps(name string, priority types.Priority, deps ...string) types.AgentSpec {
	depSet := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		depSet[d] = struct{}{}
	}
	return types.AgentSpec{
		Name:     name,
		Priority: priority,
		Tasks: map[string]types.TaskSpec{
			"only": {Description: "work", Priority: priority, DependsOn: depSet},
		},
	}
}

func TestBuildGraphRejectsDuplicateNames(t *testing.T) {
	_, err := buildGraph([]types.AgentSpec{
		specWithDeps("a", types.PriorityHigh),
		specWithDeps("a", types.PriorityHigh),
	})
	assert.ErrorIs(t, err, types.ErrDuplicateAgent)
}

func TestDetectCycleFindsDirectCycle(t *testing.T) {
	g, err := buildGraph([]types.AgentSpec{
		specWithDeps("a", types.PriorityHigh, "b"),
		specWithDeps("b", types.PriorityHigh, "a"),
	})
	require.NoError(t, err)

	err = g.detectCycle()
	require.Error(t, err)
	var cycleErr *types.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ErrorIs(t, err, types.ErrDependencyCycle)
}

func TestDetectCycleAcceptsDAG(t *testing.T) {
	g, err := buildGraph([]types.AgentSpec{
		specWithDeps("c", types.PriorityHigh, "a", "b"),
		specWithDeps("b", types.PriorityHigh, "a"),
		specWithDeps("a", types.PriorityHigh),
	})
	require.NoError(t, err)
	assert.NoError(t, g.detectCycle())
}

func TestDetectCycleRejectsUnknownDependency(t *testing.T) {
	g, err := buildGraph([]types.AgentSpec{
		specWithDeps("a", types.PriorityHigh, "ghost"),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, g.detectCycle(), types.ErrPreconditionFailed)
}

func TestLayersOrdersByPriorityWithinLayer(t *testing.T) {
	g, err := buildGraph([]types.AgentSpec{
		specWithDeps("low-first", types.PriorityLow),
		specWithDeps("critical-first", types.PriorityCritical),
		specWithDeps("dependent", types.PriorityHigh, "low-first", "critical-first"),
	})
	require.NoError(t, err)
	require.NoError(t, g.detectCycle())

	layers := g.layers()
	require.Len(t, layers, 2)
	assert.Equal(t, []string{"critical-first", "low-first"}, layers[0])
	assert.Equal(t, []string{"dependent"}, layers[1])
}
