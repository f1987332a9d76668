// Package anthropic adapts the canonical conversation model to the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"dev.lowire/agentloop/agent/httpfetch"
	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
)

const defaultEndpoint = "https://api.anthropic.com/v1/messages"

// rateLimitRetryDelay is the pause before Complete's single automatic retry
// on a 429 response. A var, not a const, so tests can shorten it.
var rateLimitRetryDelay = 2 * time.Second

// MessagesClient is the subset of the Anthropic SDK's Messages service this
// adapter depends on, narrowed for testability.
type MessagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures a Client.
type Options struct {
	Client       MessagesClient
	DefaultModel string
	MaxTokens    int64
}

// Client implements provider.Client against the Anthropic Messages API.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int64
}

// New constructs a Client from Options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("anthropic: Client option is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: DefaultModel option is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{msg: opts.Client, defaultModel: opts.DefaultModel, maxTokens: maxTok}, nil
}

// NewFromAPIKey constructs a Client backed by the official Anthropic SDK
// client, authenticated with apiKey.
func NewFromAPIKey(apiKey, defaultModel string, endpoint string) (*Client, error) {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	gateway := httpfetch.New(nil, nil)
	sdkClient := sdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(endpoint),
		option.WithHTTPClient(gateway.HTTPClient()),
	)
	return New(Options{Client: &sdkClient.Messages, DefaultModel: defaultModel})
}

// Complete implements provider.Client.
func (c *Client) Complete(ctx context.Context, conv message.Conversation, opts provider.CompletionOptions) (message.AssistantMessage, message.Usage, error) {
	params, err := c.prepareRequest(conv, opts)
	if err != nil {
		return provider.AssistantMessageFromError(err), message.Usage{}, nil
	}

	if opts.Timeout > 0 {
		ctx = httpfetch.WithTimeout(ctx, opts.Timeout)
	}

	resp, err := c.msg.New(ctx, params)
	if err != nil && isRateLimited(err) {
		select {
		case <-ctx.Done():
			return provider.AssistantMessageFromError(fmt.Errorf("anthropic: %w", ctx.Err())), message.Usage{}, nil
		case <-time.After(rateLimitRetryDelay):
		}
		resp, err = c.msg.New(ctx, params)
	}
	if err != nil {
		return provider.AssistantMessageFromError(fmt.Errorf("anthropic: %w", err)), message.Usage{}, nil
	}

	return translateResponse(resp)
}

func (c *Client) prepareRequest(conv message.Conversation, opts provider.CompletionOptions) (sdk.MessageNewParams, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	msgs, err := encodeMessages(conv.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
		System: []sdk.TextBlockParam{
			{Text: conv.SystemPrompt + provider.SystemPromptAddendum},
		},
	}

	if len(conv.Tools) > 0 {
		tools, err := encodeTools(conv.Tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if opts.Temperature != nil {
		params.Temperature = sdk.Float(*opts.Temperature)
	}

	return params, nil
}

func encodeMessages(msgs []message.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case message.UserMessage:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(v.Text)))
		case message.AssistantMessage:
			blocks, err := encodeAssistantBlocks(v)
			if err != nil {
				return nil, err
			}
			if len(blocks) > 0 {
				out = append(out, sdk.MessageParam{Role: sdk.MessageParamRoleAssistant, Content: blocks})
			}

			toolResultBlocks := encodeToolResultBlocks(v)
			if len(toolResultBlocks) > 0 {
				out = append(out, sdk.MessageParam{Role: sdk.MessageParamRoleUser, Content: toolResultBlocks})
			}
			if v.ToolError != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(v.ToolError)))
			}
		default:
			return nil, fmt.Errorf("anthropic: unknown message type %T", m)
		}
	}
	return out, nil
}

func encodeAssistantBlocks(am message.AssistantMessage) ([]sdk.ContentBlockParamUnion, error) {
	var blocks []sdk.ContentBlockParamUnion
	for _, p := range am.Parts {
		switch v := p.(type) {
		case message.TextPart:
			blocks = append(blocks, sdk.NewTextBlock(v.Text))
		case message.ToolCallPart:
			var input any = map[string]any{}
			if len(v.Arguments) > 0 {
				if err := json.Unmarshal(v.Arguments, &input); err != nil {
					input = map[string]any{"raw": string(v.Arguments)}
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
		default:
			return nil, fmt.Errorf("anthropic: unknown part type %T", p)
		}
	}
	return blocks, nil
}

// encodeToolResultBlocks packs every ToolCallPart.Result on am into a single
// user-message's worth of tool_result blocks: consecutive tool results for
// adjacent calls are merged into one user message (spec §4.2).
func encodeToolResultBlocks(am message.AssistantMessage) []sdk.ContentBlockParamUnion {
	var blocks []sdk.ContentBlockParamUnion
	for _, p := range am.Parts {
		tc, ok := p.(message.ToolCallPart)
		if !ok || tc.Result == nil {
			continue
		}
		blocks = append(blocks, encodeToolResultBlock(tc.ID, tc.Result))
	}
	return blocks
}

func encodeToolResultBlock(toolUseID string, r *message.ToolResult) sdk.ContentBlockParamUnion {
	var content []sdk.ToolResultBlockParamContentUnion
	for _, c := range r.Content {
		switch v := c.(type) {
		case message.TextPart:
			content = append(content, sdk.ToolResultBlockParamContentUnion{OfText: &sdk.TextBlockParam{Text: v.Text}})
		case message.ImagePart:
			content = append(content, sdk.ToolResultBlockParamContentUnion{
				OfImage: &sdk.ImageBlockParam{
					Source: sdk.ImageBlockParamSourceUnion{
						OfBase64: &sdk.Base64ImageSourceParam{MediaType: sdk.Base64ImageSourceMediaType(v.MimeType), Data: string(v.Data)},
					},
				},
			})
		}
	}
	block := sdk.NewToolResultBlock(toolUseID)
	block.OfToolResult.Content = content
	block.OfToolResult.IsError = sdk.Bool(r.IsError)
	return block
}

func encodeTools(tools []message.Tool) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, err := toInputSchema(t.InputSchema)
		if err != nil {
			return nil, err
		}
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out, nil
}

// toInputSchema maps schema onto the SDK's minimal InputSchema shape: only
// "properties" and "required" are carried over; every other keyword,
// including $schema, is dropped.
func toInputSchema(schema map[string]any) (sdk.ToolInputSchemaParam, error) {
	properties, _ := schema["properties"].(map[string]any)
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return sdk.ToolInputSchemaParam{
		Properties: properties,
		Required:   required,
	}, nil
}

func translateResponse(resp *sdk.Message) (message.AssistantMessage, message.Usage, error) {
	am := message.AssistantMessage{}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			am.Parts = append(am.Parts, message.TextPart{Text: block.Text})
		case "tool_use":
			am.Parts = append(am.Parts, message.ToolCallPart{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}

	usage := message.Usage{
		Input:  int(resp.Usage.InputTokens),
		Output: int(resp.Usage.OutputTokens),
	}

	am.StopReason = stopReasonFor(string(resp.StopReason))

	return am, usage, nil
}

func stopReasonFor(anthropicStop string) *message.StopReason {
	switch anthropicStop {
	case "max_tokens":
		return &message.StopReason{Code: message.StopMaxTokens}
	default:
		return &message.StopReason{Code: message.StopOK}
	}
}

// isRateLimited reports whether err represents a provider rate-limit
// response, used by Complete to decide on its single automatic retry.
func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
