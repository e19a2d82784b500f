// Package provider abstracts over concrete LLM backends behind one
// interface, so the gateway's pipeline (sanitize, rate-limit, validate)
// is identical regardless of which backend dispatch actually hits.
package provider

import "context"

// Message is one turn in a completion request.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the gateway's provider-agnostic completion request.
type Request struct {
	ModelHint   string
	Messages    []Message
	MaxTokens   int32
	Temperature float64
	Stop        []string
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Response is the gateway's provider-agnostic completion response.
type Response struct {
	Content          string
	FinishReason     string
	Usage            Usage
	ProviderRequestID string
}

// Provider dispatches one completion request to a concrete LLM backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// Config selects and configures a concrete Provider. APIKey is wrapped by
// the caller in a secret.String before being threaded through to the
// concrete constructor — Config itself only carries the already-wrapped
// reveal function, never a plain string, so the config type can't leak a
// credential through Debug/Display.
type Config struct {
	Type           string
	Endpoint       string
	RevealAPIKey   func() string
	Region         string
	MaxRetries     int
	TimeoutSeconds int
}

// New constructs the concrete Provider named by cfg.Type.
func New(cfg Config) (Provider, error) {
	switch cfg.Type {
	case "anthropic":
		return newAnthropic(cfg), nil
	case "bedrock":
		return newBedrock(cfg), nil
	case "openai":
		return newOpenAI(cfg), nil
	default:
		return nil, &UnknownProviderError{Type: cfg.Type}
	}
}

// UnknownProviderError is returned by New for an unrecognized cfg.Type.
type UnknownProviderError struct {
	Type string
}

func (e *UnknownProviderError) Error() string {
	return "provider: unknown type " + e.Type
}
