package toolwrap_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/toolwrap"
)

// Property 5: wrapping a wrapped tool yields the same schema.
func TestWrapIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("wrapping twice equals wrapping once", prop.ForAll(
		func(names []string) bool {
			tools := make([]message.Tool, len(names))
			for i, n := range names {
				tools[i] = message.Tool{
					Name: n,
					InputSchema: map[string]any{
						"type":       "object",
						"properties": map[string]any{},
						"required":   []string{},
					},
				}
			}
			once, err := toolwrap.Wrap(tools)
			if err != nil {
				return false
			}
			twice, err := toolwrap.Wrap(once)
			if err != nil {
				return false
			}
			if len(once) != len(twice) {
				return false
			}
			for i := range once {
				onceProps := once[i].InputSchema["properties"].(map[string]any)
				twiceProps := twice[i].InputSchema["properties"].(map[string]any)
				if len(onceProps) != len(twiceProps) {
					return false
				}
				onceReq := once[i].InputSchema["required"].([]string)
				twiceReq := twice[i].InputSchema["required"].([]string)
				if len(onceReq) != len(twiceReq) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
