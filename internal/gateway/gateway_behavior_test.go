package gateway

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/toka-systems/toka/internal/gateway/provider"
	"github.com/toka-systems/toka/internal/gateway/ratelimit"
	"github.com/toka-systems/toka/internal/types"
)

var errProviderUnavailable = errors.New("provider unavailable")

var _ = Describe("Gateway.Complete", func() {
	var stub *stubProvider
	var g *Gateway

	newGateway := func(rl ratelimit.Config) *Gateway {
		return NewWithProvider(Config{
			Secrets:   SecretConfig{ProviderType: "stub"},
			RateLimit: rl,
		}, stub)
	}

	BeforeEach(func() {
		stub = &stubProvider{response: &provider.Response{Content: "hello"}}
		g = newGateway(ratelimit.Config{RequestsPerMinute: 600, Burst: 10})
	})

	When("the provider answers normally", func() {
		It("returns the provider's response untouched", func() {
			resp, err := g.Complete(context.Background(), &Request{
				ModelHint: "test-model",
				Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Content).To(Equal("hello"))
			Expect(stub.calls).To(Equal(1))
		})
	})

	When("a message carries what looks like a live credential", func() {
		It("rejects the call before it reaches the provider", func() {
			_, err := g.Complete(context.Background(), &Request{
				ModelHint: "test-model",
				Messages:  []provider.Message{{Role: provider.RoleUser, Content: "my key is sk-proj-abcdefghijklmnopqrstuvwxyz"}},
			})
			Expect(err).To(MatchError(types.ErrSensitiveContent))
			Expect(stub.calls).To(Equal(0))
		})
	})

	When("the circuit breaker is open", func() {
		It("fails every call without reaching the provider", func() {
			stub.err = errProviderUnavailable
			for i := 0; i < 5; i++ {
				_, _ = g.Complete(context.Background(), &Request{
					ModelHint: "test-model",
					Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
				})
			}
			callsBeforeTrip := stub.calls

			_, err := g.Complete(context.Background(), &Request{
				ModelHint: "test-model",
				Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
			})
			Expect(err).To(HaveOccurred())
			Expect(stub.calls).To(Equal(callsBeforeTrip), "breaker should short-circuit without calling the provider again")
		})
	})

	When("a burst of calls exceeds the fail-fast rate limit", func() {
		It("rejects the call that exceeds the burst", func() {
			g = newGateway(ratelimit.Config{RequestsPerMinute: 60, Burst: 1})

			_, err := g.Complete(context.Background(), &Request{
				ModelHint:     "test-model",
				Messages:      []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
				RateLimitMode: ratelimit.ModeFailFast,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = g.Complete(context.Background(), &Request{
				ModelHint:     "test-model",
				Messages:      []provider.Message{{Role: provider.RoleUser, Content: "hi again"}},
				RateLimitMode: ratelimit.ModeFailFast,
			})
			Expect(err).To(MatchError(types.ErrRateLimited))
		})
	})
})
