// Package loop implements the turn scheduler / state machine (C7): the
// driver that repeatedly completes a conversation against a provider,
// dispatches the resulting tool calls, and decides whether to stop, under
// budgets for turns, tokens, tool calls, and tool-call retries.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/provider"
	"dev.lowire/agentloop/agent/replaycache"
	"dev.lowire/agentloop/agent/summarize"
	"dev.lowire/agentloop/agent/telemetry"
	"dev.lowire/agentloop/agent/toolwrap"
)

// Status is the terminal state a run ends in.
type Status string

const (
	StatusOK    Status = "ok"
	StatusBreak Status = "break"
	StatusError Status = "error"
)

// Decision is a hook's veto sentinel, modeled as an enum rather than a
// string per the spec's design note.
type Decision int

const (
	DecisionContinue Decision = iota
	DecisionDisallow
)

const defaultMaxTurns = 100

// TurnInfo is passed to onBeforeTurn/onAfterTurn hooks.
type TurnInfo struct {
	Turn         int
	Conversation message.Conversation
}

// ToolCallInfo is passed to onBeforeToolCall.
type ToolCallInfo struct {
	Turn      int
	Name      string
	Arguments map[string]any
}

// ToolCallResultInfo is passed to onAfterToolCall.
type ToolCallResultInfo struct {
	Turn   int
	Name   string
	Result *message.ToolResult
}

// ToolCallErrorInfo is passed to onToolCallError.
type ToolCallErrorInfo struct {
	Turn int
	Name string
	Err  error
}

// Hooks form the event-hook strategy object (spec §9). Only the two tool
// hooks may veto (return DecisionDisallow); a non-nil error from any hook
// is not caught by the loop and propagates straight out of Run.
type Hooks struct {
	OnBeforeTurn     func(ctx context.Context, info TurnInfo) (Decision, error)
	OnAfterTurn      func(ctx context.Context, info TurnInfo) (Decision, error)
	OnBeforeToolCall func(ctx context.Context, info ToolCallInfo) (Decision, error)
	OnAfterToolCall  func(ctx context.Context, info ToolCallResultInfo) (Decision, error)
	OnToolCallError  func(ctx context.Context, info ToolCallErrorInfo) error
}

// ToolCallRequest is the argument passed to a ToolCallback: the tool name
// and its arguments, already merged with the three reserved _meta keys.
type ToolCallRequest struct {
	Name      string
	Arguments map[string]any
}

// ToolCallback is the caller-supplied tool dispatcher. The loop treats MCP
// wiring, actual tool implementations, and everything upstream of this
// callback as an opaque collaborator.
type ToolCallback func(ctx context.Context, req ToolCallRequest) (*message.ToolResult, error)

// RunOptions enumerates every option the scheduler recognizes (spec §4.1).
// Fields left at their zero value take the documented default, if any.
type RunOptions struct {
	Model       string
	API         provider.API
	APIKey      string
	APIEndpoint string
	APIVersion  string
	APITimeout  int // milliseconds
	Temperature *float64
	Reasoning   provider.Reasoning
	MaxTokens   int // 0 means unbounded

	Tools    []message.Tool
	CallTool ToolCallback

	MaxTurns           int // 0 means defaultMaxTurns
	MaxToolCalls       int // 0 means unbounded
	MaxToolCallRetries int // 0 means unbounded

	Cache *replaycache.Cache

	Secrets map[string]string

	Summarize bool

	Hooks Hooks
}

// Result is the envelope Run returns for every non-hook-error termination.
type Result struct {
	Status Status
	Result *message.ToolResult
	Err    error
	Usage  message.Usage
	Turns  int
}

// Loop binds a provider registry to the scheduler. One Loop instance may
// run many sequential Run calls; concurrent Run calls on the same Loop are
// safe as long as each supplies its own Cache (the replay cache output map
// is owned exclusively by the run that produced it).
type Loop struct {
	registry *provider.Registry
	logger   telemetry.Logger
	tracer   telemetry.Tracer
	metrics  telemetry.Metrics
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithLogger overrides the ambient Logger (default: NoopLogger).
func WithLogger(l telemetry.Logger) Option { return func(lp *Loop) { lp.logger = l } }

// WithTracer overrides the ambient Tracer (default: NoopTracer).
func WithTracer(t telemetry.Tracer) Option { return func(lp *Loop) { lp.tracer = t } }

// WithMetrics overrides the ambient Metrics (default: NoopMetrics).
func WithMetrics(m telemetry.Metrics) Option { return func(lp *Loop) { lp.metrics = m } }

// New constructs a Loop bound to registry, applying opts over the Noop
// ambient-stack defaults.
func New(registry *provider.Registry, opts ...Option) *Loop {
	l := &Loop{
		registry: registry,
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		metrics:  telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// turnBudget tracks the per-run resource counters the state machine
// enforces. tokens is nil when the caller set no MaxTokens.
type turnBudget struct {
	tokens             *int
	configuredMaxTokens int
	toolCallsRemaining  int
	maxToolCalls        int
	toolCallsBounded    bool
	retriesRemaining    int
	maxToolCallRetries  int
	retriesBounded      bool
}

func newBudget(opts RunOptions) *turnBudget {
	b := &turnBudget{}
	if opts.MaxTokens > 0 {
		tokens := opts.MaxTokens
		b.tokens = &tokens
		b.configuredMaxTokens = opts.MaxTokens
	}
	if opts.MaxToolCalls > 0 {
		b.toolCallsRemaining = opts.MaxToolCalls
		b.maxToolCalls = opts.MaxToolCalls
		b.toolCallsBounded = true
	}
	if opts.MaxToolCallRetries > 0 {
		b.retriesRemaining = opts.MaxToolCallRetries
		b.maxToolCallRetries = opts.MaxToolCallRetries
		b.retriesBounded = true
	}
	return b
}

// Run drives the conversation to completion or a resource limit, per the
// state machine in spec §4.1. A non-nil error return means an event hook
// itself failed (propagated, not normalized); every other termination is
// reported through the returned Result.
func (l *Loop) Run(ctx context.Context, task string, opts RunOptions) (Result, error) {
	client, err := l.registry.Resolve(opts.API)
	if err != nil {
		return Result{Status: StatusError, Err: err}, nil
	}

	wrappedTools, err := toolwrap.Wrap(opts.Tools)
	if err != nil {
		return Result{Status: StatusError, Err: err}, nil
	}

	conv := message.Conversation{
		SystemPrompt: "", // caller-supplied system prompt, if any, is threaded via Tools/Task composition upstream
		Messages:     []message.Message{message.UserMessage{Text: task}},
		Tools:        wrappedTools,
	}

	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	budget := newBudget(opts)
	totalUsage := message.Usage{}
	completedTurns := 0

	for turnIndex := 1; turnIndex <= maxTurns; turnIndex++ {
		// BUDGET_CHECK
		if budget.tokens != nil && *budget.tokens <= 0 {
			return Result{
				Status: StatusError,
				Err:    fmt.Errorf("Budget tokens %d exhausted", budget.configuredMaxTokens), //nolint:stylecheck // fixed-format error text mandated by spec
				Usage:  totalUsage,
				Turns:  completedTurns,
			}, nil
		}

		// SUMMARIZE?
		view := conv
		if opts.Summarize {
			view = message.Conversation{SystemPrompt: conv.SystemPrompt, Messages: summarize.Summarize(conv, task), Tools: conv.Tools}
		}

		l.logger.Debug(ctx, "loop: starting turn", "turn", turnIndex, "maxTurns", maxTurns)

		// onBeforeTurn
		if opts.Hooks.OnBeforeTurn != nil {
			if _, err := opts.Hooks.OnBeforeTurn(ctx, TurnInfo{Turn: turnIndex, Conversation: view}); err != nil {
				return Result{}, err
			}
		}
		if ctx.Err() != nil {
			return Result{Status: StatusBreak, Usage: totalUsage, Turns: completedTurns}, nil
		}

		// COMPLETE (cached or live)
		estimate, err := inputTokenEstimate(view)
		if err != nil {
			return Result{Status: StatusError, Err: err, Usage: totalUsage, Turns: completedTurns}, nil
		}
		if budget.tokens != nil && estimate >= *budget.tokens {
			return Result{
				Status: StatusError,
				Err:    fmt.Errorf("Input token estimate %d exceeds budget %d", estimate, *budget.tokens), //nolint:stylecheck
				Usage:  totalUsage,
				Turns:  completedTurns,
			}, nil
		}

		completionOpts := provider.CompletionOptions{
			Model:       opts.Model,
			Temperature: opts.Temperature,
			Reasoning:   opts.Reasoning,
			Endpoint:    opts.APIEndpoint,
			APIKey:      opts.APIKey,
			Timeout:     time.Duration(opts.APITimeout) * time.Millisecond,
		}
		if budget.tokens != nil {
			completionOpts.MaxTokens = *budget.tokens - estimate
		}

		spanCtx, span := l.tracer.Start(ctx, "agentloop.complete")
		am, usage, cached, err := l.complete(spanCtx, client, opts.Cache, view, completionOpts)
		span.End()
		if err != nil {
			return Result{}, err
		}
		l.logger.Info(ctx, "loop: turn completed", "turn", turnIndex, "cached", cached, "inputTokens", usage.Input, "outputTokens", usage.Output)
		l.metrics.IncCounter("agentloop.turns", 1)
		if cached {
			l.metrics.IncCounter("agentloop.cache_hits", 1)
		}
		totalUsage = totalUsage.Add(usage)
		if budget.tokens != nil {
			remaining := *budget.tokens - usage.Input - usage.Output
			budget.tokens = &remaining
		}

		// STOPREASON
		if am.StopReason != nil {
			switch am.StopReason.Code {
			case message.StopError:
				return Result{Status: StatusError, Err: fmt.Errorf("%s", am.StopReason.Message), Usage: totalUsage, Turns: completedTurns}, nil
			case message.StopMaxTokens:
				return Result{Status: StatusError, Err: fmt.Errorf("Max tokens exhausted"), Usage: totalUsage, Turns: completedTurns}, nil //nolint:stylecheck
			}
		}

		// APPEND
		conv.Messages = append(conv.Messages, am)
		completedTurns = turnIndex

		// onAfterTurn
		if opts.Hooks.OnAfterTurn != nil {
			if _, err := opts.Hooks.OnAfterTurn(ctx, TurnInfo{Turn: turnIndex, Conversation: conv}); err != nil {
				return Result{}, err
			}
		}
		if ctx.Err() != nil {
			return Result{Status: StatusBreak, Usage: totalUsage, Turns: completedTurns}, nil
		}

		// EXTRACT_TOOLCALLS
		toolCalls := toolCallIndexes(am)
		if len(toolCalls) == 0 {
			assistantIdx := len(conv.Messages) - 1
			updated := conv.Messages[assistantIdx].(message.AssistantMessage)
			updated.ToolError = "Error: tool call is expected in every assistant message. Call the \"report_result\" tool when the task is complete."
			conv.Messages[assistantIdx] = updated
			continue
		}

		outcome, broke, dispatchResult, err := l.dispatchToolCalls(ctx, opts, budget, &conv, turnIndex, toolCalls)
		if err != nil {
			return Result{}, err
		}
		if dispatchResult != nil {
			dispatchResult.Usage = totalUsage
			dispatchResult.Turns = completedTurns
			return *dispatchResult, nil
		}
		if broke || ctx.Err() != nil {
			return Result{Status: StatusBreak, Usage: totalUsage, Turns: completedTurns}, nil
		}
		if outcome.done {
			return Result{Status: StatusOK, Result: outcome.doneResult, Usage: totalUsage, Turns: completedTurns}, nil
		}

		// RETRY_ACCOUNT: budget.toolCallRetries tracks consecutive turns
		// containing at least one errored tool result, reset on a clean turn.
		if budget.retriesBounded {
			if outcome.anyError {
				budget.retriesRemaining--
				if budget.retriesRemaining < 0 {
					return Result{
						Status: StatusError,
						Err:    fmt.Errorf("Failed to perform action after %d tool call retries", budget.maxToolCallRetries), //nolint:stylecheck
						Usage:  totalUsage,
						Turns:  completedTurns,
					}, nil
				}
			} else {
				budget.retriesRemaining = budget.maxToolCallRetries
			}
		}
	}

	return Result{
		Status: StatusError,
		Err:    fmt.Errorf("Failed to perform step, max attempts reached"), //nolint:stylecheck
		Usage:  totalUsage,
		Turns:  completedTurns,
	}, nil
}

// complete consults the replay cache before calling the live provider,
// implementing the C5 protocol.
func (l *Loop) complete(ctx context.Context, client provider.Client, cache *replaycache.Cache, conv message.Conversation, opts provider.CompletionOptions) (message.AssistantMessage, message.Usage, bool, error) {
	if cache != nil {
		fp, err := replaycache.Fingerprint(conv)
		if err != nil {
			return message.AssistantMessage{}, message.Usage{}, false, fmt.Errorf("loop: fingerprint conversation: %w", err)
		}
		if am, ok := cache.Lookup(fp); ok {
			return am, message.Usage{}, true, nil
		}
		am, usage, err := client.Complete(ctx, conv, opts)
		if err != nil {
			return message.AssistantMessage{}, message.Usage{}, false, err
		}
		cache.Store(fp, am)
		return am, usage, false, nil
	}
	am, usage, err := client.Complete(ctx, conv, opts)
	return am, usage, false, err
}

func inputTokenEstimate(conv message.Conversation) (int, error) {
	raw, err := json.Marshal(conv)
	if err != nil {
		return 0, fmt.Errorf("loop: marshal conversation for estimate: %w", err)
	}
	return len(raw) / 4, nil
}

func toolCallIndexes(am message.AssistantMessage) []int {
	var idx []int
	for i, p := range am.Parts {
		if _, ok := p.(message.ToolCallPart); ok {
			idx = append(idx, i)
		}
	}
	return idx
}
