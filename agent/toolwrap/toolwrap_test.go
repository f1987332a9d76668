package toolwrap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/toolwrap"
)

func pushTool() message.Tool {
	return message.Tool{
		Name:        "push",
		Description: "push a number onto the stack",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"n": map[string]any{"type": "integer"},
			},
			"required": []string{"n"},
		},
	}
}

func TestWrapInjectsIsDone(t *testing.T) {
	wrapped, err := toolwrap.Wrap([]message.Tool{pushTool()})
	require.NoError(t, err)
	require.Len(t, wrapped, 1)

	props := wrapped[0].InputSchema["properties"].(map[string]any)
	_, ok := props[toolwrap.IsDoneProperty]
	assert.True(t, ok)

	required := wrapped[0].InputSchema["required"].([]string)
	assert.Contains(t, required, toolwrap.IsDoneProperty)
	assert.Contains(t, required, "n")
}

func TestWrapDoesNotMutateOriginal(t *testing.T) {
	original := pushTool()
	_, err := toolwrap.Wrap([]message.Tool{original})
	require.NoError(t, err)

	_, hasIsDone := original.InputSchema["properties"].(map[string]any)[toolwrap.IsDoneProperty]
	assert.False(t, hasIsDone)
}

func TestWrapIsIdempotent(t *testing.T) {
	once, err := toolwrap.Wrap([]message.Tool{pushTool()})
	require.NoError(t, err)

	twice, err := toolwrap.Wrap(once)
	require.NoError(t, err)

	assert.Equal(t, once[0].InputSchema, twice[0].InputSchema)
}
