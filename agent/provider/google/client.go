// Package google adapts the canonical conversation model to the Google
// Gemini generateContent API. It is grounded on a sibling adapter from the
// wider example pack rather than the chosen teacher, which carries no
// Google provider of its own.
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"dev.lowire/agentloop/agent/httpfetch"
	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
)

// Models is the subset of the genai SDK this adapter depends on.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options configures a Client.
type Options struct {
	Models       Models
	DefaultModel string
}

// Client implements provider.Client against the Google Gemini API.
type Client struct {
	models       Models
	defaultModel string
}

// New constructs a Client from Options.
func New(opts Options) (*Client, error) {
	if opts.Models == nil {
		return nil, errors.New("google: Models option is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("google: DefaultModel option is required")
	}
	return &Client{models: opts.Models, defaultModel: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a Client backed by the official genai SDK client.
func NewFromAPIKey(ctx context.Context, apiKey, defaultModel string) (*Client, error) {
	gateway := httpfetch.New(nil, nil)
	sdkClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: gateway.HTTPClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}
	return New(Options{Models: sdkClient.Models, DefaultModel: defaultModel})
}

// Complete implements provider.Client.
func (c *Client) Complete(ctx context.Context, conv message.Conversation, opts provider.CompletionOptions) (message.AssistantMessage, message.Usage, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	contents, err := toContents(conv.Messages)
	if err != nil {
		return provider.AssistantMessageFromError(err), message.Usage{}, nil
	}

	config := buildContentConfig(conv, opts)

	if opts.Timeout > 0 {
		ctx = httpfetch.WithTimeout(ctx, opts.Timeout)
	}

	resp, err := c.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return provider.AssistantMessageFromError(fmt.Errorf("google: %w", err)), message.Usage{}, nil
	}

	return messageFromResponse(resp)
}

func buildContentConfig(conv message.Conversation, opts provider.CompletionOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(conv.SystemPrompt+provider.SystemPromptAddendum, genai.RoleUser),
	}
	if len(conv.Tools) > 0 {
		config.Tools = adaptTools(conv.Tools)
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		config.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		n := int32(opts.MaxTokens)
		config.MaxOutputTokens = n
	}
	return config
}

func adaptTools(tools []message.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: sanitizeSchema(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// sanitizeSchema strips the $schema and additionalProperties keywords the
// Gemini API rejects from a function declaration's parameter schema.
func sanitizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "$schema" || k == "additionalProperties" {
			continue
		}
		out[k] = v
	}
	return out
}

func toContents(msgs []message.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	lastFuncName := map[string]string{} // call ID -> function name, for correlating results

	for _, m := range msgs {
		switch v := m.(type) {
		case message.UserMessage:
			contents = append(contents, genai.NewContentFromText(v.Text, genai.RoleUser))
		case message.AssistantMessage:
			parts, err := assistantParts(v, lastFuncName)
			if err != nil {
				return nil, err
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}

			resultParts := resultParts(v, lastFuncName)
			if len(resultParts) > 0 {
				contents = append(contents, &genai.Content{Role: "function", Parts: resultParts})
			}
			if v.ToolError != "" {
				contents = append(contents, genai.NewContentFromText(v.ToolError, genai.RoleUser))
			}
		default:
			return nil, fmt.Errorf("google: unknown message type %T", m)
		}
	}
	return contents, nil
}

func assistantParts(am message.AssistantMessage, lastFuncName map[string]string) ([]*genai.Part, error) {
	var parts []*genai.Part
	for _, p := range am.Parts {
		switch v := p.(type) {
		case message.TextPart:
			tp := genai.NewPartFromText(v.Text)
			if sig, ok := decodeThoughtSignature(v.GoogleThoughtSignature); ok {
				tp.ThoughtSignature = sig
			}
			parts = append(parts, tp)
		case message.ToolCallPart:
			var args map[string]any
			if len(v.Arguments) > 0 {
				if err := json.Unmarshal(v.Arguments, &args); err != nil {
					args = map[string]any{"raw": string(v.Arguments)}
				}
			}
			fp := genai.NewPartFromFunctionCall(v.Name, args)
			if sig, ok := decodeThoughtSignature(v.GoogleThoughtSignature); ok {
				fp.ThoughtSignature = sig
			}
			parts = append(parts, fp)
			lastFuncName[v.ID] = v.Name
		default:
			return nil, fmt.Errorf("google: unknown part type %T", p)
		}
	}
	return parts, nil
}

func resultParts(am message.AssistantMessage, lastFuncName map[string]string) []*genai.Part {
	var parts []*genai.Part
	for _, p := range am.Parts {
		tc, ok := p.(message.ToolCallPart)
		if !ok || tc.Result == nil {
			continue
		}
		name := lastFuncName[tc.ID]
		respMap := map[string]any{"result": flattenResultText(tc.Result)}
		if tc.Result.IsError {
			respMap = map[string]any{"error": flattenResultText(tc.Result)}
		}
		// Do NOT attach a ThoughtSignature to a function response part: doing
		// so has been observed to trigger 5xx errors from the API.
		parts = append(parts, genai.NewPartFromFunctionResponse(name, respMap))
	}
	return parts
}

func flattenResultText(r *message.ToolResult) string {
	var out string
	for _, c := range r.Content {
		if tp, ok := c.(message.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// decodeThoughtSignature trims sig, rejects values containing the Unicode
// replacement character (a sign of prior corruption), and tries base64
// decoding before falling back to the raw bytes.
func decodeThoughtSignature(sig string) ([]byte, bool) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, false
	}
	if strings.ContainsRune(sig, utf8.RuneError) {
		return nil, false
	}
	if decoded, err := base64.StdEncoding.DecodeString(sig); err == nil {
		return decoded, true
	}
	return []byte(sig), true
}

// encodeThoughtSignature is the inverse of decodeThoughtSignature, used when
// echoing a signature the provider returned back into the canonical form.
func encodeThoughtSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

func messageFromResponse(resp *genai.GenerateContentResponse) (message.AssistantMessage, message.Usage, error) {
	am := message.AssistantMessage{}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		am.StopReason = &message.StopReason{Code: message.StopError, Message: string(resp.PromptFeedback.BlockReason)}
		return am, message.Usage{}, nil
	}
	if len(resp.Candidates) == 0 {
		am.StopReason = &message.StopReason{Code: message.StopError, Message: "google: empty candidates"}
		return am, message.Usage{}, nil
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Thought {
				continue
			}
			switch {
			case part.Text != "":
				sig := ""
				if len(part.ThoughtSignature) > 0 {
					sig = encodeThoughtSignature(part.ThoughtSignature)
				}
				am.Parts = append(am.Parts, message.TextPart{Text: part.Text, GoogleThoughtSignature: sig})
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					// Gemini does not always assign a call ID; synthesize one so
					// the canonical ToolCallPart.ID is never empty.
					id = uuid.NewString()
				}
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				sig := ""
				if len(part.ThoughtSignature) > 0 {
					sig = encodeThoughtSignature(part.ThoughtSignature)
				}
				am.Parts = append(am.Parts, message.ToolCallPart{
					ID:                     id,
					Name:                   part.FunctionCall.Name,
					Arguments:              argsJSON,
					GoogleThoughtSignature: sig,
				})
			}
		}
	}

	am.StopReason = stopReasonFor(candidate.FinishReason)

	usage := message.Usage{}
	if resp.UsageMetadata != nil {
		usage.Input = int(resp.UsageMetadata.PromptTokenCount)
		usage.Output = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return am, usage, nil
}

func stopReasonFor(finishReason genai.FinishReason) *message.StopReason {
	switch finishReason {
	case genai.FinishReasonMaxTokens:
		return &message.StopReason{Code: message.StopMaxTokens}
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return &message.StopReason{Code: message.StopError, Message: string(finishReason)}
	case "", genai.FinishReasonStop:
		return &message.StopReason{Code: message.StopOK}
	default:
		return &message.StopReason{Code: message.StopError, Message: string(finishReason)}
	}
}
