// Package toolwrap injects the "_is_done" completion signal into every tool
// schema the loop offers a provider, so the scheduler can recognize task
// completion without a dedicated "report_result" tool.
package toolwrap

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"dev.lowire/agentloop/agent/message"
)

// IsDoneProperty is the name of the boolean property injected into every
// tool's input schema.
const IsDoneProperty = "_is_done"

var isDoneSchema = map[string]any{
	"type":        "boolean",
	"description": "Whether the task is complete. If false, agentic loop will continue to perform the task.",
}

// Wrap returns a shallow copy of tools with IsDoneProperty added to each
// tool's inputSchema properties and required list. The original tools and
// their schemas are never mutated. Wrapping an already-wrapped tool is a
// no-op for that tool (idempotent), matching spec property 5.
func Wrap(tools []message.Tool) ([]message.Tool, error) {
	wrapped := make([]message.Tool, len(tools))
	for i, t := range tools {
		w, err := wrapOne(t)
		if err != nil {
			return nil, fmt.Errorf("toolwrap: tool %q: %w", t.Name, err)
		}
		wrapped[i] = w
	}
	return wrapped, nil
}

func wrapOne(t message.Tool) (message.Tool, error) {
	schema := shallowCopySchema(t.InputSchema)

	properties, _ := schema["properties"].(map[string]any)
	properties = shallowCopyMap(properties)
	if _, exists := properties[IsDoneProperty]; !exists {
		properties[IsDoneProperty] = isDoneSchema
	}
	schema["properties"] = properties

	required := requiredStrings(schema["required"])
	if !containsString(required, IsDoneProperty) {
		required = append(required, IsDoneProperty)
	}
	schema["required"] = required

	if err := compile(schema); err != nil {
		return message.Tool{}, err
	}

	return message.Tool{Name: t.Name, Description: t.Description, InputSchema: schema}, nil
}

// compile validates that schema is well-formed JSON Schema, failing fast at
// loop start rather than on the first malformed provider call.
func compile(schema map[string]any) error {
	compiler := jsonschema.NewCompiler()
	const resourceName = "inline://toolwrap"
	if err := compiler.AddResource(resourceName, schema); err != nil {
		return fmt.Errorf("toolwrap: invalid input schema: %w", err)
	}
	if _, err := compiler.Compile(resourceName); err != nil {
		return fmt.Errorf("toolwrap: invalid input schema: %w", err)
	}
	return nil
}

func shallowCopySchema(schema map[string]any) map[string]any {
	return shallowCopyMap(schema)
}

func shallowCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// requiredStrings normalizes a schema's "required" field, which is a
// []string when built in Go and a []any when decoded from JSON.
func requiredStrings(v any) []string {
	switch r := v.(type) {
	case []string:
		return append([]string(nil), r...)
	case []any:
		out := make([]string, 0, len(r))
		for _, e := range r {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
