package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Conversation, Message and Part are interfaces or contain interface-typed
// fields, so they need a Kind discriminator to round-trip through JSON. The
// wire shape below is deliberately stable: the replay cache fingerprints the
// serialized bytes (see replaycache.Fingerprint), so changing field order or
// naming here changes every recorded cache key.

type messageAlias struct {
	Role Role            `json:"role"`
	Text string          `json:"text,omitempty"`
	Parts []json.RawMessage `json:"parts,omitempty"`
	StopReason *StopReason `json:"stopReason,omitempty"`
	ToolError    string `json:"toolError,omitempty"`
	OpenAIID     string `json:"openaiId,omitempty"`
	OpenAIStatus string `json:"openaiStatus,omitempty"`
}

// MarshalMessage encodes a Message into its tagged-union wire form.
func MarshalMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case UserMessage:
		return json.Marshal(messageAlias{Role: RoleUser, Text: v.Text})
	case AssistantMessage:
		parts := make([]json.RawMessage, 0, len(v.Parts))
		for _, p := range v.Parts {
			raw, err := marshalPart(p)
			if err != nil {
				return nil, err
			}
			parts = append(parts, raw)
		}
		return json.Marshal(messageAlias{
			Role:         RoleAssistant,
			Parts:        parts,
			StopReason:   v.StopReason,
			ToolError:    v.ToolError,
			OpenAIID:     v.OpenAIID,
			OpenAIStatus: v.OpenAIStatus,
		})
	default:
		return nil, fmt.Errorf("message: unknown Message type %T", m)
	}
}

// UnmarshalMessage decodes the tagged-union wire form produced by
// MarshalMessage back into a concrete Message.
func UnmarshalMessage(data []byte) (Message, error) {
	var alias messageAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return nil, fmt.Errorf("message: decode message: %w", err)
	}
	switch alias.Role {
	case RoleUser:
		return UserMessage{Text: alias.Text}, nil
	case RoleAssistant:
		parts := make([]Part, 0, len(alias.Parts))
		for _, raw := range alias.Parts {
			p, err := unmarshalPart(raw)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		return AssistantMessage{
			Parts:        parts,
			StopReason:   alias.StopReason,
			ToolError:    alias.ToolError,
			OpenAIID:     alias.OpenAIID,
			OpenAIStatus: alias.OpenAIStatus,
		}, nil
	default:
		return nil, fmt.Errorf("message: unknown role %q", alias.Role)
	}
}

type partAlias struct {
	Kind                   string          `json:"kind"`
	Text                   string          `json:"text,omitempty"`
	GoogleThoughtSignature string          `json:"googleThoughtSignature,omitempty"`
	ID                     string          `json:"id,omitempty"`
	Name                   string          `json:"name,omitempty"`
	Arguments              json.RawMessage `json:"arguments,omitempty"`
	Result                 *toolResultAlias `json:"result,omitempty"`
	OpenAIID               string          `json:"openaiId,omitempty"`
	OpenAIStatus           string          `json:"openaiStatus,omitempty"`
}

func marshalPart(p Part) (json.RawMessage, error) {
	switch v := p.(type) {
	case TextPart:
		return json.Marshal(partAlias{Kind: "text", Text: v.Text, GoogleThoughtSignature: v.GoogleThoughtSignature})
	case ToolCallPart:
		var result *toolResultAlias
		if v.Result != nil {
			ra, err := encodeToolResult(v.Result)
			if err != nil {
				return nil, err
			}
			result = ra
		}
		return json.Marshal(partAlias{
			Kind:                   "tool_call",
			ID:                     v.ID,
			Name:                   v.Name,
			Arguments:              v.Arguments,
			Result:                 result,
			OpenAIID:               v.OpenAIID,
			OpenAIStatus:           v.OpenAIStatus,
			GoogleThoughtSignature: v.GoogleThoughtSignature,
		})
	default:
		return nil, fmt.Errorf("message: unknown Part type %T", p)
	}
}

func unmarshalPart(data []byte) (Part, error) {
	var alias partAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return nil, fmt.Errorf("message: decode part: %w", err)
	}
	switch alias.Kind {
	case "text", "":
		// A missing Kind falls back to a text part — defensive handling for
		// hand-written fixtures that omit the discriminator.
		return TextPart{Text: alias.Text, GoogleThoughtSignature: alias.GoogleThoughtSignature}, nil
	case "tool_call":
		var result *ToolResult
		if alias.Result != nil {
			r, err := decodeToolResult(alias.Result)
			if err != nil {
				return nil, err
			}
			result = r
		}
		return ToolCallPart{
			ID:                     alias.ID,
			Name:                   alias.Name,
			Arguments:              alias.Arguments,
			Result:                 result,
			OpenAIID:               alias.OpenAIID,
			OpenAIStatus:           alias.OpenAIStatus,
			GoogleThoughtSignature: alias.GoogleThoughtSignature,
		}, nil
	default:
		return nil, fmt.Errorf("message: unknown part kind %q", alias.Kind)
	}
}

type resultContentAlias struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type toolResultAlias struct {
	Content []resultContentAlias `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
	Meta    map[string]any       `json:"_meta,omitempty"`
}

func encodeToolResult(r *ToolResult) (*toolResultAlias, error) {
	content := make([]resultContentAlias, 0, len(r.Content))
	for _, c := range r.Content {
		switch v := c.(type) {
		case TextPart:
			content = append(content, resultContentAlias{Kind: "text", Text: v.Text})
		case ImagePart:
			content = append(content, resultContentAlias{
				Kind:     "image",
				MimeType: v.MimeType,
				Data:     base64.StdEncoding.EncodeToString(v.Data),
			})
		default:
			return nil, fmt.Errorf("message: unknown ResultContent type %T", c)
		}
	}
	return &toolResultAlias{Content: content, IsError: r.IsError, Meta: r.Meta}, nil
}

func decodeToolResult(a *toolResultAlias) (*ToolResult, error) {
	content := make([]ResultContent, 0, len(a.Content))
	for _, c := range a.Content {
		switch c.Kind {
		case "text", "":
			content = append(content, TextPart{Text: c.Text})
		case "image":
			data, err := base64.StdEncoding.DecodeString(c.Data)
			if err != nil {
				return nil, fmt.Errorf("message: decode image data: %w", err)
			}
			content = append(content, ImagePart{MimeType: c.MimeType, Data: data})
		default:
			return nil, fmt.Errorf("message: unknown result content kind %q", c.Kind)
		}
	}
	return &ToolResult{Content: content, IsError: a.IsError, Meta: a.Meta}, nil
}

// conversationAlias mirrors Conversation with Messages flattened to raw JSON
// so the Message interface slice can round-trip.
type conversationAlias struct {
	SystemPrompt string            `json:"systemPrompt,omitempty"`
	Messages     []json.RawMessage `json:"messages"`
	Tools        []Tool            `json:"tools,omitempty"`
}

// MarshalJSON implements json.Marshaler for Conversation.
func (c Conversation) MarshalJSON() ([]byte, error) {
	msgs := make([]json.RawMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		raw, err := MarshalMessage(m)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, raw)
	}
	return json.Marshal(conversationAlias{SystemPrompt: c.SystemPrompt, Messages: msgs, Tools: c.Tools})
}

// UnmarshalJSON implements json.Unmarshaler for Conversation.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var alias conversationAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("message: decode conversation: %w", err)
	}
	msgs := make([]Message, 0, len(alias.Messages))
	for _, raw := range alias.Messages {
		m, err := UnmarshalMessage(raw)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	c.SystemPrompt = alias.SystemPrompt
	c.Messages = msgs
	c.Tools = alias.Tools
	return nil
}
