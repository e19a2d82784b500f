package orchestration

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/toka-systems/toka/internal/auth"
	"github.com/toka-systems/toka/internal/tools"
	"github.com/toka-systems/toka/internal/types"
)

var _ = Describe("Engine.RunSession", func() {
	var kernel *fakeKernel
	var authProvider auth.Provider

	BeforeEach(func() {
		kernel = newFakeKernel()
		authProvider = auth.NewHMACProvider([]byte("orchestration-behavior-key-orchestration-behavior-key"))
	})

	newEngine := func(gwContent string, gwErr error, opts ...Option) *Engine {
		gw := stubGateway(gwContent, gwErr)
		e, err := NewEngine(kernel, authProvider, gw, tools.NewRegistry(), opts...)
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	When("a phase has agents of mixed priority", func() {
		It("spawns every agent whose dependencies are already satisfied", func() {
			e := newEngine("ok", nil)
			specs := []types.AgentSpec{
				agentSpec("base-a", types.PriorityLow),
				agentSpec("base-b", types.PriorityMedium),
				agentSpec("derived", types.PriorityHigh, "base-a", "base-b"),
			}

			session, err := e.RunSession(context.Background(), specs)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Phase).To(Equal(types.PhaseCompleted))
			Expect(session.Spawned).To(HaveLen(3))
		})
	})

	When("the spec graph has no dependents at all", func() {
		It("runs every agent in a single phase", func() {
			e := newEngine("ok", nil, WithMaxConcurrentAgents(10))
			specs := []types.AgentSpec{
				agentSpec("solo-a", types.PriorityHigh),
				agentSpec("solo-b", types.PriorityHigh),
				agentSpec("solo-c", types.PriorityHigh),
			}

			session, err := e.RunSession(context.Background(), specs)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Progress).To(Equal(1.0))
			Expect(session.PendingPhaseAgents).To(BeEmpty())
		})
	})

	When("an unknown dependency is declared", func() {
		It("fails before spawning any agent", func() {
			e := newEngine("ok", nil)
			specs := []types.AgentSpec{
				agentSpec("lonely", types.PriorityHigh, "ghost"),
			}

			session, err := e.RunSession(context.Background(), specs)
			Expect(err).To(HaveOccurred())
			Expect(session.Phase).To(Equal(types.PhaseFailed))
			Expect(session.Spawned).To(BeEmpty())
		})
	})
})
