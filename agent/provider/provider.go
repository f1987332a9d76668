// Package provider defines the shared adapter contract (C2/C3): a single
// completion interface behind which the four wire dialects (OpenAI
// Responses, OpenAI Chat Completions, Anthropic, Google) are normalized,
// plus the registry that selects an adapter by API tag.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dev.lowire/agentloop/agent/message"
)

// API names one of the four supported wire dialects.
type API string

const (
	APIOpenAIResponses API = "openai-responses"
	APIOpenAIChat       API = "openai-chat"
	APIAnthropic        API = "anthropic"
	APIGoogle           API = "google"
)

// Reasoning selects the provider's reasoning effort, where supported.
type Reasoning string

const (
	ReasoningNone   Reasoning = "none"
	ReasoningMedium Reasoning = "medium"
	ReasoningHigh   Reasoning = "high"
)

// CompletionOptions carries the per-turn knobs the loop scheduler passes to
// whichever adapter it resolved from the Registry.
type CompletionOptions struct {
	Model       string
	Temperature *float64
	Reasoning   Reasoning
	// MaxTokens is the remaining token budget computed by the scheduler for
	// this turn (budget.tokens - input estimate), not a fixed cap.
	MaxTokens int
	// Endpoint overrides the provider's default URL when non-empty.
	Endpoint string
	APIKey   string
	// Timeout bounds the underlying HTTP round trip for this completion
	// call alone (spec §4.1's apiTimeout). Zero means the gateway applies
	// no local deadline beyond the caller's context.
	Timeout time.Duration
}

// Client is the normalized completion contract every adapter implements.
// Implementations never return an error for provider-side failures (HTTP
// non-2xx, empty candidates, parse failures) — those are folded into the
// returned AssistantMessage's StopReason per spec §4.2. The four adapters
// fold request-encoding failures into the envelope as well and always
// return a nil error; the error return is left for failures outside the
// provider exchange, such as harness.ReplayProvider failing to fingerprint
// a conversation.
type Client interface {
	Complete(ctx context.Context, conv message.Conversation, opts CompletionOptions) (message.AssistantMessage, message.Usage, error)
}

// Registry selects an adapter by API tag (C3).
type Registry struct {
	mu      sync.RWMutex
	clients map[API]Client
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[API]Client{}}
}

// Register associates api with client, overwriting any previous
// registration for the same tag.
func (r *Registry) Register(api API, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[api] = client
}

// Resolve returns the Client registered for api.
func (r *Registry) Resolve(api API) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[api]
	if !ok {
		return nil, fmt.Errorf("provider: no client registered for api %q", api)
	}
	return c, nil
}

// SystemPromptAddendum is appended by every adapter to conversation.SystemPrompt
// before it is sent to the provider: it requires a tool call in every
// assistant reply and forbids splitting intent from the tool call into a
// separate message (spec §6).
const SystemPromptAddendum = "\n\nEvery reply must include a tool call. Do not split your intent and the tool call across separate messages — issue the tool call in the same reply where you state your intent."

// AssistantMessageFromError builds the zero-usage, empty-content error
// envelope every adapter returns instead of propagating a transport or
// parse failure (spec §4.2, §7 Transport taxonomy).
func AssistantMessageFromError(err error) message.AssistantMessage {
	return message.AssistantMessage{
		StopReason: &message.StopReason{Code: message.StopError, Message: err.Error()},
	}
}
