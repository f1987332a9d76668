// Package harness implements the deterministic test-fixture contract (C9):
// loading and saving replay-cache files, and wrapping a live provider.Client
// so recorded fixtures can replace live API calls in tests.
package harness

import (
	"context"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
	"dev.lowire/agentloop/agent/replaycache"
	"dev.lowire/agentloop/agent/replaycache/filestore"
)

// LoadCache reads the replay-cache file at path (treating a missing or
// unparseable file as empty, per §6) and returns a Cache ready to pass as
// loop.RunOptions.Cache.
func LoadCache(ctx context.Context, path string) (*replaycache.Cache, error) {
	return replaycache.Load(ctx, filestore.New(path))
}

// SaveCache writes cache's recorded output back to path, but only if it
// differs from what was loaded — mirroring the harness's write-only-if-
// changed contract so unrelated test runs do not generate fixture diffs.
func SaveCache(ctx context.Context, path string, cache *replaycache.Cache) error {
	return replaycache.Save(ctx, filestore.New(path), cache)
}

// ReplayProvider wraps an underlying provider.Client with a replaycache.Cache,
// so a test can record a fixture once against a live provider and replay it
// deterministically on every subsequent run without touching the network.
type ReplayProvider struct {
	Live  provider.Client
	Cache *replaycache.Cache
}

// NewReplayProvider constructs a ReplayProvider. live may be nil if the test
// only ever expects cache hits; a cache miss against a nil live client
// returns a provider-stop error envelope rather than panicking.
func NewReplayProvider(live provider.Client, cache *replaycache.Cache) *ReplayProvider {
	return &ReplayProvider{Live: live, Cache: cache}
}

// Complete implements provider.Client by consulting the cache first, falling
// back to Live only on a miss.
func (p *ReplayProvider) Complete(ctx context.Context, conv message.Conversation, opts provider.CompletionOptions) (message.AssistantMessage, message.Usage, error) {
	fp, err := replaycache.Fingerprint(conv)
	if err != nil {
		return message.AssistantMessage{}, message.Usage{}, err
	}
	if am, ok := p.Cache.Lookup(fp); ok {
		return am, message.Usage{}, nil
	}
	if p.Live == nil {
		return provider.AssistantMessageFromError(errNoFixture{fingerprint: fp}), message.Usage{}, nil
	}
	am, usage, err := p.Live.Complete(ctx, conv, opts)
	if err != nil {
		return message.AssistantMessage{}, message.Usage{}, err
	}
	p.Cache.Store(fp, am)
	return am, usage, nil
}

type errNoFixture struct{ fingerprint string }

func (e errNoFixture) Error() string {
	return "harness: no recorded fixture for conversation fingerprint " + e.fingerprint + " and no live provider configured"
}
