package google_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
	"dev.lowire/agentloop/agent/provider/google"
)

type fakeModels struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeModels) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return f.resp, f.err
}

func TestCompleteTranslatesTextAndFunctionCallParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						{Text: "hello there", ThoughtSignature: []byte("sig-bytes")},
						{FunctionCall: &genai.FunctionCall{Name: "report_result", Args: map[string]any{"answer": "hi"}}},
					},
				},
				FinishReason: genai.FinishReasonStop,
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     9,
			CandidatesTokenCount: 4,
		},
	}
	fake := &fakeModels{resp: resp}
	client, err := google.New(google.Options{Models: fake, DefaultModel: "gemini-test"})
	require.NoError(t, err)

	conv := message.Conversation{Messages: []message.Message{message.UserMessage{Text: "hi"}}}
	am, usage, err := client.Complete(context.Background(), conv, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopOK, am.StopReason.Code)
	assert.Equal(t, message.Usage{Input: 9, Output: 4}, usage)

	require.Len(t, am.Parts, 2)
	text := am.Parts[0].(message.TextPart)
	assert.Equal(t, "hello there", text.Text)
	assert.NotEmpty(t, text.GoogleThoughtSignature)

	call := am.Parts[1].(message.ToolCallPart)
	assert.Equal(t, "report_result", call.Name)
	assert.NotEmpty(t, call.ID, "Gemini omitted the call ID; the adapter must synthesize one")
}

func TestCompleteMapsMaxTokensFinishReason(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{}, FinishReason: genai.FinishReasonMaxTokens},
		},
	}
	fake := &fakeModels{resp: resp}
	client, err := google.New(google.Options{Models: fake, DefaultModel: "gemini-test"})
	require.NoError(t, err)

	am, _, err := client.Complete(context.Background(), message.Conversation{}, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopMaxTokens, am.StopReason.Code)
}

func TestCompleteMapsTransportFailureToErrorEnvelope(t *testing.T) {
	fake := &fakeModels{err: transportErr{}}
	client, err := google.New(google.Options{Models: fake, DefaultModel: "gemini-test"})
	require.NoError(t, err)

	am, usage, err := client.Complete(context.Background(), message.Conversation{}, provider.CompletionOptions{})
	require.NoError(t, err)
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopError, am.StopReason.Code)
	assert.Equal(t, message.Usage{}, usage)
}

type transportErr struct{}

func (transportErr) Error() string { return "boom" }
