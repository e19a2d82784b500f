package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/internal/gateway/provider"
	"github.com/toka-systems/toka/internal/gateway/ratelimit"
	"github.com/toka-systems/toka/internal/types"
)

type stubProvider struct {
	response *provider.Response
	err      error
	calls    int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, _ *provider.Request) (*provider.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func newTestGateway(stub *stubProvider, rl ratelimit.Config) *Gateway {
	return NewWithProvider(Config{
		Secrets:   SecretConfig{ProviderType: "stub"},
		RateLimit: rl,
	}, stub)
}

func TestCompleteHappyPath(t *testing.T) {
	stub := &stubProvider{response: &provider.Response{Content: "hello"}}
	g := newTestGateway(stub, ratelimit.Config{RequestsPerMinute: 600, Burst: 10})

	resp, err := g.Complete(context.Background(), &Request{
		ModelHint: "test-model",
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, stub.calls)
}

func TestCompleteRejectsSensitiveUserContent(t *testing.T) {
	stub := &stubProvider{response: &provider.Response{Content: "ok"}}
	g := newTestGateway(stub, ratelimit.Config{RequestsPerMinute: 600, Burst: 10})

	_, err := g.Complete(context.Background(), &Request{
		ModelHint: "test-model",
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "my key is sk-proj-abcdefghijklmnopqrstuvwxyz"}},
	})
	assert.ErrorIs(t, err, types.ErrSensitiveContent)
	assert.Equal(t, 0, stub.calls)
}

func TestCompleteFailFastRateLimited(t *testing.T) {
	stub := &stubProvider{response: &provider.Response{Content: "ok"}}
	g := newTestGateway(stub, ratelimit.Config{RequestsPerMinute: 60, Burst: 1})

	ctx := context.Background()
	_, err := g.Complete(ctx, &Request{
		ModelHint:     "test-model",
		Messages:      []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		RateLimitMode: ratelimit.ModeFailFast,
	})
	require.NoError(t, err)

	_, err = g.Complete(ctx, &Request{
		ModelHint:     "test-model",
		Messages:      []provider.Message{{Role: provider.RoleUser, Content: "hi again"}},
		RateLimitMode: ratelimit.ModeFailFast,
	})
	assert.ErrorIs(t, err, types.ErrRateLimited)
}

func TestCompleteRejectsOversizedResponse(t *testing.T) {
	huge := make([]byte, maxResponseLen+1)
	for i := range huge {
		huge[i] = 'a'
	}
	stub := &stubProvider{response: &provider.Response{Content: string(huge)}}
	g := newTestGateway(stub, ratelimit.Config{RequestsPerMinute: 600, Burst: 10})

	_, err := g.Complete(context.Background(), &Request{
		ModelHint: "test-model",
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, types.ErrMalformedResponse)
}
