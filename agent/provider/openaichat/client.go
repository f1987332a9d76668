// Package openaichat adapts the canonical conversation model to the OpenAI
// Chat Completions API.
package openaichat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"dev.lowire/agentloop/agent/httpfetch"
	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

// ChatClient is the subset of the OpenAI SDK's Chat Completions service
// this adapter depends on.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures a Client.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements provider.Client against the OpenAI Chat Completions API.
type Client struct {
	chat         ChatClient
	defaultModel string
}

// New constructs a Client from Options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openaichat: Client option is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openaichat: DefaultModel option is required")
	}
	return &Client{chat: opts.Client, defaultModel: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a Client backed by the official OpenAI SDK client.
func NewFromAPIKey(apiKey, defaultModel, endpoint string) (*Client, error) {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	gateway := httpfetch.New(nil, nil)
	sdkClient := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(endpoint),
		option.WithHTTPClient(gateway.HTTPClient()),
	)
	return New(Options{Client: &sdkClient.Chat.Completions, DefaultModel: defaultModel})
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

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return provider.AssistantMessageFromError(fmt.Errorf("openaichat: %w", err)), message.Usage{}, nil
	}
	if len(resp.Choices) == 0 {
		return provider.AssistantMessageFromError(errors.New("openaichat: empty choices")), message.Usage{}, nil
	}

	return translateResponse(resp)
}

func (c *Client) prepareRequest(conv message.Conversation, opts provider.CompletionOptions) (openai.ChatCompletionNewParams, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	msgs, err := encodeMessages(conv)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:             shared.ChatModel(model),
		Messages:           msgs,
		ParallelToolCalls: openai.Bool(false),
	}
	if len(conv.Tools) > 0 {
		params.Tools = encodeTools(conv.Tools)
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	return params, nil
}

func encodeMessages(conv message.Conversation) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv.Messages)+1)
	out = append(out, openai.SystemMessage(conv.SystemPrompt+provider.SystemPromptAddendum))

	for _, m := range conv.Messages {
		switch v := m.(type) {
		case message.UserMessage:
			out = append(out, openai.UserMessage(v.Text))
		case message.AssistantMessage:
			assistantMsg, toolResults, err := encodeAssistantMessage(v)
			if err != nil {
				return nil, err
			}
			out = append(out, assistantMsg)
			out = append(out, toolResults...)
			if v.ToolError != "" {
				out = append(out, openai.UserMessage(v.ToolError))
			}
		default:
			return nil, fmt.Errorf("openaichat: unknown message type %T", m)
		}
	}
	return out, nil
}

func encodeAssistantMessage(am message.AssistantMessage) (openai.ChatCompletionMessageParamUnion, []openai.ChatCompletionMessageParamUnion, error) {
	var text string
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	var results []openai.ChatCompletionMessageParamUnion

	for _, p := range am.Parts {
		switch v := p.(type) {
		case message.TextPart:
			text += v.Text
		case message.ToolCallPart:
			argsJSON := "{}"
			if len(v.Arguments) > 0 {
				argsJSON = string(v.Arguments)
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: v.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      v.Name,
					Arguments: argsJSON,
				},
			})
			if v.Result != nil {
				results = append(results, openai.ToolMessage(flattenResultText(v.Result), v.ID))
			}
		}
	}

	assistantParam := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)},
	}
	if len(toolCalls) > 0 {
		assistantParam.ToolCalls = toolCalls
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantParam}, results, nil
}

func flattenResultText(r *message.ToolResult) string {
	var out string
	for _, c := range r.Content {
		if tp, ok := c.(message.TextPart); ok {
			out += tp.Text
		}
	}
	if r.IsError && out == "" {
		out = "error"
	}
	return out
}

func encodeTools(tools []message.Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(sanitizeSchema(t.InputSchema)),
			},
		})
	}
	return out
}

// sanitizeSchema returns a shallow copy of schema; OpenAI's Chat Completions
// function-calling schema accepts the full JSON Schema surface the loop
// produces, so no fields need stripping here (unlike Google/Anthropic).
func sanitizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	return out
}

func translateResponse(resp *openai.ChatCompletion) (message.AssistantMessage, message.Usage, error) {
	choice := resp.Choices[0]
	am := message.AssistantMessage{}

	if choice.Message.Content != "" {
		am.Parts = append(am.Parts, message.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		am.Parts = append(am.Parts, message.ToolCallPart{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	am.StopReason = stopReasonFor(string(choice.FinishReason))

	usage := message.Usage{
		Input:  int(resp.Usage.PromptTokens),
		Output: int(resp.Usage.CompletionTokens),
	}

	return am, usage, nil
}

func stopReasonFor(finishReason string) *message.StopReason {
	if finishReason == "length" {
		return &message.StopReason{Code: message.StopMaxTokens}
	}
	return &message.StopReason{Code: message.StopOK}
}
