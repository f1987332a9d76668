package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
)

type stubClient struct{}

func (stubClient) Complete(context.Context, message.Conversation, provider.CompletionOptions) (message.AssistantMessage, message.Usage, error) {
	return message.AssistantMessage{}, message.Usage{}, nil
}

func TestRegistryResolve(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(provider.APIAnthropic, stubClient{})

	c, err := reg.Resolve(provider.APIAnthropic)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestRegistryResolveMissing(t *testing.T) {
	reg := provider.NewRegistry()
	_, err := reg.Resolve(provider.APIGoogle)
	assert.Error(t, err)
}

func TestAssistantMessageFromError(t *testing.T) {
	am := provider.AssistantMessageFromError(assertErr{})
	require.NotNil(t, am.StopReason)
	assert.Equal(t, message.StopError, am.StopReason.Code)
	assert.Equal(t, "boom", am.StopReason.Message)
	assert.Empty(t, am.Parts)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
