package replaycache

import (
	"context"
	"encoding/json"
)

// Store hydrates and persists a Cache's Output map across process
// boundaries. The file-backed implementation (filestore) is the default the
// test harness uses; redisstore is a domain-stack supplement for callers
// who want cache entries shared across processes.
type Store interface {
	// Load returns the persisted fingerprint -> AssistantMessage mapping, or
	// an empty map if nothing has been persisted yet.
	Load(ctx context.Context) (map[string]rawAssistantMessage, error)
	// Save persists the given mapping, replacing whatever was there before.
	Save(ctx context.Context, entries map[string]rawAssistantMessage) error
}

// rawAssistantMessage is the wire representation Stores exchange: the
// canonical JSON encoding produced by message.MarshalMessage for an
// AssistantMessage. Stores never need to inspect the content, only persist
// it verbatim, so they operate on raw bytes rather than decoded messages.
type rawAssistantMessage = json.RawMessage
