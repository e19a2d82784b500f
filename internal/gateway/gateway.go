// Package gateway implements the single completion API shared by every
// agent, regardless of provider: sanitize input, rate-limit, dispatch
// through a circuit breaker, validate the response, and return.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	"github.com/toka-systems/toka/internal/gateway/provider"
	"github.com/toka-systems/toka/internal/gateway/ratelimit"
	"github.com/toka-systems/toka/internal/gateway/sanitize"
	"github.com/toka-systems/toka/internal/gateway/secret"
	"github.com/toka-systems/toka/internal/types"
)

// Request is the gateway-level completion request, before provider
// translation.
type Request struct {
	ModelHint   string
	Messages    []provider.Message
	MaxTokens   int32
	Temperature float64
	Stop        []string

	// RateLimitMode selects fail-fast vs bounded-wait behavior for this
	// call specifically.
	RateLimitMode ratelimit.Mode
	// WaitDeadline bounds how long ModeWait will wait before giving up,
	// if non-zero; zero means "wait as long as ctx allows."
	WaitDeadline time.Duration
}

// Response is the gateway-level completion response.
type Response = provider.Response

// maxResponseLen caps accepted response content length; oversized
// responses are rejected as malformed rather than silently truncated,
// since truncation here would hide a misbehaving provider.
const maxResponseLen = 1 << 20 // 1 MiB

// SecretConfig is the gateway's secret-bearing configuration; APIKey is
// wrapped in the zeroizing holder so no code path can Debug/Display the
// plaintext. Loading the value from the environment is the config
// layer's job — the gateway only ever consumes the holder.
type SecretConfig struct {
	ProviderType string
	Endpoint     string
	Region       string
	APIKey       *secret.String
	MaxRetries   int
	Timeout      time.Duration
}

// Config configures a Gateway.
type Config struct {
	Secrets    SecretConfig
	RateLimit  ratelimit.Config
	Logger     logr.Logger
}

// Gateway mediates every LLM call made by any agent in the process.
type Gateway struct {
	log     logr.Logger
	prov    provider.Provider
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Gateway from cfg. The provider's credentials are
// revealed exactly once, at construction, when building the concrete
// provider client; the gateway itself never stores the plaintext.
func New(cfg Config) (*Gateway, error) {
	reveal := func() string { return "" }
	if cfg.Secrets.APIKey != nil {
		reveal = cfg.Secrets.APIKey.Reveal
	}

	prov, err := provider.New(provider.Config{
		Type:           cfg.Secrets.ProviderType,
		Endpoint:       cfg.Secrets.Endpoint,
		Region:         cfg.Secrets.Region,
		RevealAPIKey:   reveal,
		MaxRetries:     cfg.Secrets.MaxRetries,
		TimeoutSeconds: int(cfg.Secrets.Timeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: construct provider: %w", err)
	}
	return NewWithProvider(cfg, prov), nil
}

// NewWithProvider builds a Gateway around an already-constructed provider,
// letting callers substitute a custom or stub provider without dialing a
// real backend through New's construction path.
func NewWithProvider(cfg Config, prov provider.Provider) *Gateway {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-gateway-" + cfg.Secrets.ProviderType,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &Gateway{
		log:     log,
		prov:    prov,
		limiter: ratelimit.New(cfg.RateLimit),
		breaker: breaker,
	}
}

// Complete runs the sanitize -> rate-limit -> dispatch -> validate
// pipeline for req.
func (g *Gateway) Complete(ctx context.Context, req *Request) (*Response, error) {
	sanitizedMessages, err := g.sanitizeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	if err := g.applyRateLimit(ctx, req); err != nil {
		return nil, err
	}

	providerReq := &provider.Request{
		ModelHint:   req.ModelHint,
		Messages:    sanitizedMessages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.prov.Complete(ctx, providerReq)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrGatewayTimeout
		}
		return nil, fmt.Errorf("gateway: dispatch: %w", err)
	}
	resp := result.(*provider.Response)

	if err := validateResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) sanitizeMessages(messages []provider.Message) ([]provider.Message, error) {
	out := make([]provider.Message, len(messages))
	for i, m := range messages {
		role := sanitize.Role(m.Role)
		sanitized, err := sanitize.Sanitize(role, m.Content)
		if err != nil {
			return nil, fmt.Errorf("%w", types.ErrSensitiveContent)
		}
		out[i] = provider.Message{Role: m.Role, Content: sanitized}
	}
	return out, nil
}

func (g *Gateway) applyRateLimit(ctx context.Context, req *Request) error {
	if req.RateLimitMode == ratelimit.ModeFailFast {
		return g.limiter.Allow(ctx, g.prov.Name(), req.ModelHint, ratelimit.ModeFailFast)
	}
	if req.WaitDeadline > 0 {
		return g.limiter.WaitBounded(ctx, g.prov.Name(), req.ModelHint, req.WaitDeadline)
	}
	return g.limiter.Allow(ctx, g.prov.Name(), req.ModelHint, ratelimit.ModeWait)
}

func validateResponse(resp *provider.Response) error {
	if len(resp.Content) > maxResponseLen {
		return fmt.Errorf("%w: content exceeds %d bytes", types.ErrMalformedResponse, maxResponseLen)
	}
	for _, b := range []byte(resp.Content) {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			return fmt.Errorf("%w: control byte in content", types.ErrMalformedResponse)
		}
	}
	return nil
}
