package replaycache

import (
	"context"
	"fmt"

	"dev.lowire/agentloop/agent/message"
)

// Load hydrates a Cache from store, decoding each persisted entry into an
// AssistantMessage and seeding it as Input. A Store with nothing persisted
// yet yields an empty, usable Cache (spec §6: "a missing or unparseable
// file is treated as {}").
func Load(ctx context.Context, store Store) (*Cache, error) {
	raw, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("replaycache: load: %w", err)
	}
	input := make(map[string]message.AssistantMessage, len(raw))
	for k, v := range raw {
		m, err := message.UnmarshalMessage(v)
		if err != nil {
			return nil, fmt.Errorf("replaycache: decode entry %q: %w", k, err)
		}
		am, ok := m.(message.AssistantMessage)
		if !ok {
			return nil, fmt.Errorf("replaycache: entry %q is not an assistant message", k)
		}
		input[k] = am
	}
	return New(input), nil
}

// Save persists c's current Output map to store, but only when it differs
// from the original Input contents, matching the harness contract in spec
// §6 ("the harness writes the file only if the serialized output differs
// from the original input contents").
func Save(ctx context.Context, store Store, c *Cache) error {
	output := c.Snapshot()
	if sameContents(c.Input, output) {
		return nil
	}
	raw := make(map[string]rawAssistantMessage, len(output))
	for k, v := range output {
		encoded, err := message.MarshalMessage(v)
		if err != nil {
			return fmt.Errorf("replaycache: encode entry %q: %w", k, err)
		}
		raw[k] = encoded
	}
	if err := store.Save(ctx, raw); err != nil {
		return fmt.Errorf("replaycache: save: %w", err)
	}
	return nil
}

func sameContents(input, output map[string]message.AssistantMessage) bool {
	if len(input) != len(output) {
		return false
	}
	for k, v := range output {
		in, ok := input[k]
		if !ok {
			return false
		}
		inRaw, err1 := message.MarshalMessage(in)
		outRaw, err2 := message.MarshalMessage(v)
		if err1 != nil || err2 != nil || string(inRaw) != string(outRaw) {
			return false
		}
	}
	return true
}
