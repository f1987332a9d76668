// Command agentloopdemo wires one provider adapter, one toy report_result
// tool, and the loop scheduler together, mirroring the teacher's cmd/demo.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"dev.lowire/agentloop/agent/config"
	"dev.lowire/agentloop/agent/harness"
	"dev.lowire/agentloop/agent/loop"
	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
	"dev.lowire/agentloop/agent/provider/anthropic"
	"dev.lowire/agentloop/agent/replaycache"
	"dev.lowire/agentloop/agent/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("AGENTLOOP_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentloopdemo: load config:", err)
		os.Exit(1)
	}

	pc := cfg.Providers[provider.APIAnthropic]
	if pc.APIKey == "" {
		fmt.Fprintln(os.Stderr, "agentloopdemo: AGENTLOOP_ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	model := pc.Model
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}

	client, err := anthropic.NewFromAPIKey(pc.APIKey, model, pc.Endpoint)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentloopdemo: construct anthropic client:", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry()
	registry.Register(provider.APIAnthropic, client)

	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync() //nolint:errcheck

	l := loop.New(registry, loop.WithLogger(telemetry.NewZapLogger(zapLogger)))

	report := message.Tool{
		Name:        "report_result",
		Description: "Report the final answer to the user.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"answer": map[string]any{"type": "string"}},
			"required":   []string{"answer"},
		},
	}

	callTool := func(_ context.Context, req loop.ToolCallRequest) (*message.ToolResult, error) {
		answer, _ := req.Arguments["answer"].(string)
		return &message.ToolResult{Content: []message.ResultContent{message.TextPart{Text: answer}}}, nil
	}

	var cache *replaycache.Cache
	if cfg.ReplayCachePath != "" {
		cache, err = harness.LoadCache(ctx, cfg.ReplayCachePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "agentloopdemo: load replay cache:", err)
			os.Exit(1)
		}
	}

	result, err := l.Run(ctx, "Say hello and call report_result with a short greeting.", loop.RunOptions{
		API:                provider.APIAnthropic,
		Model:              model,
		Tools:              []message.Tool{report},
		CallTool:           callTool,
		MaxTurns:           cfg.MaxTurns,
		MaxToolCalls:       cfg.MaxToolCalls,
		MaxToolCallRetries: cfg.MaxToolCallRetries,
		MaxTokens:          cfg.MaxTokens,
		Summarize:          cfg.Summarize,
		Cache:              cache,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentloopdemo: run failed with a hook error:", err)
		os.Exit(1)
	}

	if cfg.ReplayCachePath != "" {
		if err := harness.SaveCache(ctx, cfg.ReplayCachePath, cache); err != nil {
			fmt.Fprintln(os.Stderr, "agentloopdemo: save replay cache:", err)
			os.Exit(1)
		}
	}

	fmt.Println("status:", result.Status)
	if result.Err != nil {
		fmt.Println("error:", result.Err)
	}
	if result.Result != nil {
		for _, c := range result.Result.Content {
			if t, ok := c.(message.TextPart); ok {
				fmt.Println("result:", t.Text)
			}
		}
	}
	fmt.Println("turns:", result.Turns, "usage:", result.Usage)
}
