// Package openairesponses adapts the canonical conversation model to the
// OpenAI Responses API. Unlike Chat Completions, assistant output messages,
// function_call items, and function_call_output items are all top-level
// items keyed by call_id, and the adapter must preserve the openaiId /
// openaiStatus echo fields on replayed items or the provider rejects the
// request.
package openairesponses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"dev.lowire/agentloop/agent/httpfetch"
	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
)

const defaultEndpoint = "https://api.openai.com/v1/responses"

// ResponsesClient is the subset of the OpenAI SDK's Responses service this
// adapter depends on.
type ResponsesClient interface {
	New(ctx context.Context, params responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// Options configures a Client.
type Options struct {
	Client       ResponsesClient
	DefaultModel string
}

// Client implements provider.Client against the OpenAI Responses API.
type Client struct {
	resp         ResponsesClient
	defaultModel string
}

// New constructs a Client from Options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openairesponses: Client option is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openairesponses: DefaultModel option is required")
	}
	return &Client{resp: opts.Client, defaultModel: opts.DefaultModel}, nil
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
	return New(Options{Client: &sdkClient.Responses, DefaultModel: defaultModel})
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

	resp, err := c.resp.New(ctx, params)
	if err != nil {
		return provider.AssistantMessageFromError(fmt.Errorf("openairesponses: %w", err)), message.Usage{}, nil
	}

	return translateResponse(resp)
}

func (c *Client) prepareRequest(conv message.Conversation, opts provider.CompletionOptions) (responses.ResponseNewParams, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	items, err := encodeItems(conv.Messages)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}

	params := responses.ResponseNewParams{
		Model:        shared.ResponsesModel(model),
		Instructions: openai.String(conv.SystemPrompt + provider.SystemPromptAddendum),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if len(conv.Tools) > 0 {
		params.Tools = encodeTools(conv.Tools)
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(opts.MaxTokens))
	}
	if effort := reasoningEffort(opts.Reasoning); effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: shared.ReasoningEffort(effort)}
	}
	return params, nil
}

func reasoningEffort(r provider.Reasoning) string {
	switch r {
	case provider.ReasoningMedium:
		return "medium"
	case provider.ReasoningHigh:
		return "high"
	default:
		return ""
	}
}

func encodeItems(msgs []message.Message) (responses.ResponseInputParam, error) {
	var items responses.ResponseInputParam
	for _, m := range msgs {
		switch v := m.(type) {
		case message.UserMessage:
			items = append(items, responses.ResponseInputItemParamOfMessage(v.Text, responses.EasyInputMessageRoleUser))
		case message.AssistantMessage:
			if text := assistantText(v); text != "" {
				msgItem := responses.ResponseInputItemParamOfOutputMessage(text, v.OpenAIID)
				if v.OpenAIStatus != "" {
					msgItem.OfOutputMessage.Status = responses.ResponseOutputMessageStatus(v.OpenAIStatus)
				}
				items = append(items, msgItem)
			}
			for _, p := range v.Parts {
				tc, ok := p.(message.ToolCallPart)
				if !ok {
					continue
				}
				argsJSON := "{}"
				if len(tc.Arguments) > 0 {
					argsJSON = string(tc.Arguments)
				}
				callItem := responses.ResponseInputItemParamOfFunctionCall(argsJSON, tc.ID, tc.Name)
				if tc.OpenAIStatus != "" {
					callItem.OfFunctionCall.Status = responses.ResponseFunctionToolCallStatus(tc.OpenAIStatus)
				}
				items = append(items, callItem)
				if tc.Result != nil {
					items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(tc.ID, flattenResultText(tc.Result)))
				}
			}
			if v.ToolError != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(v.ToolError, responses.EasyInputMessageRoleUser))
			}
		default:
			return nil, fmt.Errorf("openairesponses: unknown message type %T", m)
		}
	}
	return items, nil
}

func assistantText(am message.AssistantMessage) string {
	var out string
	for _, p := range am.Parts {
		if tp, ok := p.(message.TextPart); ok {
			out += tp.Text
		}
	}
	return out
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

func encodeTools(tools []message.Tool) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func translateResponse(resp *responses.Response) (message.AssistantMessage, message.Usage, error) {
	am := message.AssistantMessage{}

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			msg := item.AsMessage()
			am.OpenAIID = msg.ID
			am.OpenAIStatus = string(msg.Status)
			for _, c := range msg.Content {
				if c.Type == "output_text" {
					am.Parts = append(am.Parts, message.TextPart{Text: c.AsOutputText().Text})
				}
			}
		case "function_call":
			call := item.AsFunctionCall()
			am.Parts = append(am.Parts, message.ToolCallPart{
				ID:           call.CallID,
				Name:         call.Name,
				Arguments:    json.RawMessage(call.Arguments),
				OpenAIID:     call.ID,
				OpenAIStatus: string(call.Status),
			})
		}
	}

	am.StopReason = stopReasonFor(resp)

	usage := message.Usage{
		Input:  int(resp.Usage.InputTokens),
		Output: int(resp.Usage.OutputTokens),
	}

	return am, usage, nil
}

func stopReasonFor(resp *responses.Response) *message.StopReason {
	if resp.IncompleteDetails.Reason == "max_output_tokens" {
		return &message.StopReason{Code: message.StopMaxTokens}
	}
	if resp.Status == "failed" || resp.Status == "incomplete" {
		msg := resp.Error.Message
		if msg == "" {
			msg = string(resp.Status)
		}
		return &message.StopReason{Code: message.StopError, Message: msg}
	}
	return &message.StopReason{Code: message.StopOK}
}
