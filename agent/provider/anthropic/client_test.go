package anthropic_test

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
	"dev.lowire/agentloop/agent/provider/anthropic"
)

type fakeMessagesClient struct {
	resp *sdk.Message
	err  error
}

func (f *fakeMessagesClient) New(context.Context, sdk.MessageNewParams, ...option.RequestOption) (*sdk.Message, error) {
	return f.resp, f.err
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
			StopReason: "end_turn",
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	client, err := anthropic.New(anthropic.Options{Client: fake, DefaultModel: "claude-x"})
	require.NoError(t, err)

	conv := message.Conversation{
		SystemPrompt: "be terse",
		Messages:     []message.Message{message.UserMessage{Text: "hi"}},
	}

	am, usage, err := client.Complete(context.Background(), conv, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopOK, am.StopReason.Code)
	assert.Equal(t, message.Usage{Input: 10, Output: 5}, usage)
	require.Len(t, am.Parts, 1)
	assert.Equal(t, "hello there", am.Parts[0].(message.TextPart).Text)
}

func TestCompleteMapsTransportFailureToErrorEnvelope(t *testing.T) {
	fake := &fakeMessagesClient{err: assertErr{}}
	client, err := anthropic.New(anthropic.Options{Client: fake, DefaultModel: "claude-x"})
	require.NoError(t, err)

	am, usage, err := client.Complete(context.Background(), message.Conversation{}, provider.CompletionOptions{})
	require.NoError(t, err) // adapters never throw; failures become a StopError envelope
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopError, am.StopReason.Code)
	assert.Equal(t, message.Usage{}, usage)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
