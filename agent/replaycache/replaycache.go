// Package replaycache implements the content-addressed memoization layer
// that lets tests and deterministic reruns short-circuit provider
// completion calls.
package replaycache

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"dev.lowire/agentloop/agent/message"
)

// Cache is a content-addressed mapping from conversation fingerprint to the
// AssistantMessage recorded or replayed for it. Input is read-only and
// assumed immutable for the duration of a run; Output is append-only and
// owned exclusively by the Loop that created it.
type Cache struct {
	mu     sync.Mutex
	Input  map[string]message.AssistantMessage
	Output map[string]message.AssistantMessage
}

// New constructs a Cache seeded with input (which may be nil, treated as
// empty) and an empty output map.
func New(input map[string]message.AssistantMessage) *Cache {
	if input == nil {
		input = map[string]message.AssistantMessage{}
	}
	return &Cache{Input: input, Output: map[string]message.AssistantMessage{}}
}

var localhostPort = regexp.MustCompile(`localhost:\d+`)

// Fingerprint computes the cache key for a conversation: the SHA-1 of its
// canonical JSON serialization, after normalizing ephemeral localhost port
// numbers so they do not invalidate recorded cache entries between test
// runs (spec property 4: cache-key stability).
func Fingerprint(conv message.Conversation) (string, error) {
	raw, err := json.Marshal(conv)
	if err != nil {
		return "", fmt.Errorf("replaycache: marshal conversation: %w", err)
	}
	normalized := localhostPort.ReplaceAll(raw, []byte("localhost:PORT"))
	sum := sha1.Sum(normalized) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// Lookup implements the C5 protocol for a single completion call: if the
// fingerprint is present in Input, it is copied into Output and returned
// (this is the primary replay path); otherwise, if it is already present in
// Output (covering within-run duplication), it is returned directly.
// The zero value, false is returned when live completion is required.
func (c *Cache) Lookup(fingerprint string) (message.AssistantMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.Input[fingerprint]; ok {
		c.Output[fingerprint] = m
		return m, true
	}
	if m, ok := c.Output[fingerprint]; ok {
		return m, true
	}
	return message.AssistantMessage{}, false
}

// Store records a live completion result under fingerprint in Output.
func (c *Cache) Store(fingerprint string, m message.AssistantMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Output[fingerprint] = m
}

// Snapshot returns a copy of the current Output map, safe to serialize
// without holding the Cache's lock.
func (c *Cache) Snapshot() map[string]message.AssistantMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]message.AssistantMessage, len(c.Output))
	for k, v := range c.Output {
		out[k] = v
	}
	return out
}
