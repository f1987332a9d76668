// Package config loads provider credentials and loop defaults from the
// environment and, optionally, a YAML file for the demo CLI. It is
// intentionally outside the loop scheduler's scope — the scheduler only
// ever sees a fully populated loop.RunOptions.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"dev.lowire/agentloop/agent/provider"
)

// ProviderConfig carries one provider's credentials and default model.
type ProviderConfig struct {
	APIKey   string `yaml:"apiKey"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// Config is the demo CLI's top-level configuration shape.
type Config struct {
	Providers map[provider.API]ProviderConfig `yaml:"providers"`

	MaxTurns           int  `yaml:"maxTurns,omitempty"`
	MaxToolCalls       int  `yaml:"maxToolCalls,omitempty"`
	MaxToolCallRetries int  `yaml:"maxToolCallRetries,omitempty"`
	MaxTokens          int  `yaml:"maxTokens,omitempty"`
	Summarize          bool `yaml:"summarize,omitempty"`

	ReplayCachePath string `yaml:"replayCachePath,omitempty"`
}

// Load reads path (if non-empty and it exists) and overlays environment
// variables on top, so an operator can override any field at the shell
// without editing the file. Environment variables take precedence:
//
//	AGENTLOOP_<API>_API_KEY, AGENTLOOP_<API>_ENDPOINT, AGENTLOOP_<API>_MODEL
//	AGENTLOOP_MAX_TURNS, AGENTLOOP_MAX_TOOL_CALLS, AGENTLOOP_MAX_TOOL_CALL_RETRIES
//	AGENTLOOP_MAX_TOKENS, AGENTLOOP_SUMMARIZE, AGENTLOOP_REPLAY_CACHE_PATH
func Load(path string) (Config, error) {
	cfg := Config{Providers: map[provider.API]ProviderConfig{}}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Missing config file is not an error; env vars may supply everything.
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if cfg.Providers == nil {
		cfg.Providers = map[provider.API]ProviderConfig{}
	}

	for _, api := range []provider.API{provider.APIOpenAIResponses, provider.APIOpenAIChat, provider.APIAnthropic, provider.APIGoogle} {
		applyProviderEnv(cfg.Providers, api)
	}

	if v := os.Getenv("AGENTLOOP_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTurns = n
		}
	}
	if v := os.Getenv("AGENTLOOP_MAX_TOOL_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxToolCalls = n
		}
	}
	if v := os.Getenv("AGENTLOOP_MAX_TOOL_CALL_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxToolCallRetries = n
		}
	}
	if v := os.Getenv("AGENTLOOP_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTokens = n
		}
	}
	if v := os.Getenv("AGENTLOOP_SUMMARIZE"); v != "" {
		cfg.Summarize = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("AGENTLOOP_REPLAY_CACHE_PATH"); v != "" {
		cfg.ReplayCachePath = v
	}

	return cfg, nil
}

func applyProviderEnv(providers map[provider.API]ProviderConfig, api provider.API) {
	prefix := "AGENTLOOP_" + envSegment(api)
	pc := providers[api]
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		pc.APIKey = v
	}
	if v := os.Getenv(prefix + "_ENDPOINT"); v != "" {
		pc.Endpoint = v
	}
	if v := os.Getenv(prefix + "_MODEL"); v != "" {
		pc.Model = v
	}
	providers[api] = pc
}

func envSegment(api provider.API) string {
	return strings.ToUpper(strings.ReplaceAll(string(api), "-", "_"))
}
