package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.lowire/agentloop/agent/config"
	"dev.lowire/agentloop/agent/provider"
)

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("AGENTLOOP_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("AGENTLOOP_MAX_TURNS", "7")

	cfg, err := config.Load("/nonexistent/path.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Providers[provider.APIAnthropic].APIKey)
	assert.Equal(t, 7, cfg.MaxTurns)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("providers:\n  anthropic:\n    apiKey: from-file\nmaxTurns: 3\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("AGENTLOOP_ANTHROPIC_API_KEY", "from-env")

	cfg, err := config.Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Providers[provider.APIAnthropic].APIKey)
	assert.Equal(t, 3, cfg.MaxTurns)
}
