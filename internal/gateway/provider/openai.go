package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/toka-systems/toka/internal/types"
)

// openAIProvider dispatches completions via raw HTTP against an
// OpenAI-compatible chat completions endpoint. No first-party OpenAI SDK
// appears anywhere in the retrieval pack, so this keeps the teacher's
// hand-rolled-HTTP-client idiom rather than introducing an unsourced
// dependency; retries use a real backoff library instead of a hand-rolled
// exponential sleep.
type openAIProvider struct {
	httpClient *http.Client
	cfg        Config
	endpoint   string
}

func newOpenAI(cfg Config) *openAIProvider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &openAIProvider{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		endpoint:   endpoint,
	}
}

func (p *openAIProvider) Name() string { return "openai" }

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	MaxTokens   int32               `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

type openAIChoice struct {
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *openAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	wire := openAIRequest{
		Model:       req.ModelHint,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, openAIChatMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	var parsed openAIResponse
	if err := p.doWithRetry(ctx, body, &parsed); err != nil {
		return nil, err
	}

	var content, finishReason string
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
		finishReason = parsed.Choices[0].FinishReason
	}

	return &Response{
		Content:      content,
		FinishReason: finishReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
		ProviderRequestID: parsed.ID,
	}, nil
}

// doWithRetry POSTs body and retries on 429/5xx with a capped exponential
// backoff, respecting ctx cancellation between attempts.
func (p *openAIProvider) doWithRetry(ctx context.Context, body []byte, out *openAIResponse) error {
	maxRetries := p.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	bounded := backoff.WithMaxRetries(policy, uint64(maxRetries))
	bounded.Reset()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("openai: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.RevealAPIKey())

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
		} else {
			respBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = readErr
			} else if resp.StatusCode == http.StatusOK {
				return json.Unmarshal(respBody, out)
			} else if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				var errBody openAIErrorBody
				_ = json.Unmarshal(respBody, &errBody)
				lastErr = &types.ProviderError{Status: resp.StatusCode, BodySnippet: snippet(errBody.Error.Message, 256)}
			} else {
				var errBody openAIErrorBody
				_ = json.Unmarshal(respBody, &errBody)
				return &types.ProviderError{Status: resp.StatusCode, BodySnippet: snippet(errBody.Error.Message, 256)}
			}
		}

		if attempt == maxRetries {
			break
		}
		wait := bounded.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
