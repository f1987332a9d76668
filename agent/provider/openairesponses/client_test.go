package openairesponses_test

import (
	"context"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
	"dev.lowire/agentloop/agent/provider/openairesponses"
)

type fakeResponsesClient struct {
	resp *responses.Response
	err  error
}

func (f *fakeResponsesClient) New(context.Context, responses.ResponseNewParams, ...option.RequestOption) (*responses.Response, error) {
	return f.resp, f.err
}

func TestCompleteTranslatesTextResponseAndEchoesIDs(t *testing.T) {
	resp := &responses.Response{Status: "completed"}
	msgItem := responses.ResponseOutputItemUnion{Type: "message"}
	msgItem.ID = "msg_1"
	msgItem.Status = "completed"
	msgItem.Content = []responses.ResponseOutputMessageContentUnion{
		{Type: "output_text", Text: "hello there"},
	}
	callItem := responses.ResponseOutputItemUnion{Type: "function_call"}
	callItem.ID = "fc_1"
	callItem.CallID = "call_1"
	callItem.Name = "report_result"
	callItem.Arguments = `{"answer":"hi"}`
	callItem.Status = "completed"
	resp.Output = []responses.ResponseOutputItemUnion{msgItem, callItem}
	resp.Usage = responses.ResponseUsage{InputTokens: 7, OutputTokens: 3}

	fake := &fakeResponsesClient{resp: resp}
	client, err := openairesponses.New(openairesponses.Options{Client: fake, DefaultModel: "gpt-resp-test"})
	require.NoError(t, err)

	conv := message.Conversation{Messages: []message.Message{message.UserMessage{Text: "hi"}}}
	am, usage, err := client.Complete(context.Background(), conv, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopOK, am.StopReason.Code)
	assert.Equal(t, message.Usage{Input: 7, Output: 3}, usage)
	assert.Equal(t, "msg_1", am.OpenAIID)
	assert.Equal(t, "completed", am.OpenAIStatus)

	require.Len(t, am.Parts, 2)
	assert.Equal(t, "hello there", am.Parts[0].(message.TextPart).Text)
	tc := am.Parts[1].(message.ToolCallPart)
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "fc_1", tc.OpenAIID)
	assert.Equal(t, "completed", tc.OpenAIStatus)
	assert.Equal(t, "report_result", tc.Name)
}

func TestCompleteMapsIncompleteMaxTokensToStopMaxTokens(t *testing.T) {
	resp := &responses.Response{Status: "incomplete"}
	resp.IncompleteDetails.Reason = "max_output_tokens"
	fake := &fakeResponsesClient{resp: resp}
	client, err := openairesponses.New(openairesponses.Options{Client: fake, DefaultModel: "gpt-resp-test"})
	require.NoError(t, err)

	am, _, err := client.Complete(context.Background(), message.Conversation{}, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopMaxTokens, am.StopReason.Code)
}

func TestCompleteMapsTransportFailureToErrorEnvelope(t *testing.T) {
	fake := &fakeResponsesClient{err: transportErr{}}
	client, err := openairesponses.New(openairesponses.Options{Client: fake, DefaultModel: "gpt-resp-test"})
	require.NoError(t, err)

	am, usage, err := client.Complete(context.Background(), message.Conversation{}, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopError, am.StopReason.Code)
	assert.Equal(t, message.Usage{}, usage)
}

type transportErr struct{}

func (transportErr) Error() string { return "boom" }
