package openaichat_test

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
	"dev.lowire/agentloop/agent/provider/openaichat"
)

type fakeChatClient struct {
	resp *openai.ChatCompletion
	err  error
}

func (f *fakeChatClient) New(context.Context, openai.ChatCompletionNewParams, ...option.RequestOption) (*openai.ChatCompletion, error) {
	return f.resp, f.err
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	fake := &fakeChatClient{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{
				Message:      openai.ChatCompletionMessage{Content: "hello there"},
				FinishReason: "stop",
			},
		},
		Usage: openai.CompletionUsage{PromptTokens: 12, CompletionTokens: 8},
	}}
	client, err := openaichat.New(openaichat.Options{Client: fake, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	conv := message.Conversation{Messages: []message.Message{message.UserMessage{Text: "hi"}}}
	am, usage, err := client.Complete(context.Background(), conv, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopOK, am.StopReason.Code)
	assert.Equal(t, message.Usage{Input: 12, Output: 8}, usage)
	require.Len(t, am.Parts, 1)
	assert.Equal(t, "hello there", am.Parts[0].(message.TextPart).Text)
}

func TestCompleteMapsLengthFinishReasonToMaxTokens(t *testing.T) {
	fake := &fakeChatClient{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{FinishReason: "length"}},
	}}
	client, err := openaichat.New(openaichat.Options{Client: fake, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	am, _, err := client.Complete(context.Background(), message.Conversation{}, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopMaxTokens, am.StopReason.Code)
}

func TestCompleteMapsTransportFailureToErrorEnvelope(t *testing.T) {
	fake := &fakeChatClient{err: assertErr{}}
	client, err := openaichat.New(openaichat.Options{Client: fake, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	am, usage, err := client.Complete(context.Background(), message.Conversation{}, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopError, am.StopReason.Code)
	assert.Equal(t, message.Usage{}, usage)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
