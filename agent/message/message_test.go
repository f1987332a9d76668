package message_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.lowire/agentloop/agent/message"
)

func TestConversationRoundTrip(t *testing.T) {
	conv := message.Conversation{
		SystemPrompt: "be terse",
		Tools: []message.Tool{
			{Name: "push", Description: "push a number", InputSchema: map[string]any{"type": "object"}},
		},
		Messages: []message.Message{
			message.UserMessage{Text: "run numbers 1,2,3"},
			message.AssistantMessage{
				StopReason: &message.StopReason{Code: message.StopOK},
				OpenAIID:   "resp_123",
				Parts: []message.Part{
					message.TextPart{Text: "on it"},
					message.ToolCallPart{
						ID:        "call_1",
						Name:      "push",
						Arguments: json.RawMessage(`{"n":1}`),
						Result: &message.ToolResult{
							Content: []message.ResultContent{message.TextPart{Text: "ok"}},
						},
					},
				},
			},
		},
	}

	raw, err := json.Marshal(conv)
	require.NoError(t, err)

	var decoded message.Conversation
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, message.RoleUser, decoded.Messages[0].Role())
	assistant, ok := decoded.Messages[1].(message.AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "resp_123", assistant.OpenAIID)
	require.Len(t, assistant.Parts, 2)
	toolCall, ok := assistant.Parts[1].(message.ToolCallPart)
	require.True(t, ok)
	require.NotNil(t, toolCall.Result)
	assert.False(t, toolCall.Result.IsError)
}

func TestUsageAdd(t *testing.T) {
	total := message.Usage{Input: 10, Output: 5}.Add(message.Usage{Input: 3, Output: 2})
	assert.Equal(t, message.Usage{Input: 13, Output: 7}, total)
}
