package replaycache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/replaycache"
)

func convWithPort(port string) message.Conversation {
	return message.Conversation{
		Messages: []message.Message{
			message.UserMessage{Text: "call http://localhost:" + port + "/ping"},
		},
	}
}

func TestFingerprintStableAcrossLocalhostPorts(t *testing.T) {
	a, err := replaycache.Fingerprint(convWithPort("54321"))
	require.NoError(t, err)
	b, err := replaycache.Fingerprint(convWithPort("8080"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLookupCopiesInputIntoOutput(t *testing.T) {
	am := message.AssistantMessage{Parts: []message.Part{message.TextPart{Text: "hi"}}}
	fp, err := replaycache.Fingerprint(message.Conversation{})
	require.NoError(t, err)

	c := replaycache.New(map[string]message.AssistantMessage{fp: am})
	got, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, am, got)

	snap := c.Snapshot()
	assert.Contains(t, snap, fp)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	c := replaycache.New(nil)
	_, ok := c.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestStoreThenLookupCoversWithinRunDuplication(t *testing.T) {
	c := replaycache.New(nil)
	am := message.AssistantMessage{Parts: []message.Part{message.TextPart{Text: "hi"}}}
	c.Store("k", am)

	got, ok := c.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, am, got)
}
