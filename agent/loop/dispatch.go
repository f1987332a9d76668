package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dev.lowire/agentloop/agent/message"
	"dev.lowire/agentloop/agent/secretsub"
)

// dispatchOutcome summarizes one call's tool-dispatch protocol run, used by
// dispatchToolCalls to decide RETRY_ACCOUNT after all calls in the turn
// have been attempted.
type dispatchOutcome struct {
	done       bool
	doneResult *message.ToolResult
	anyError   bool
}

// dispatchToolCalls runs the sequential, in-order tool-dispatch protocol
// (spec §4.1 step 6 / §6) over the tool-call parts at the given indexes in
// the most recent assistant message. It returns:
//   - outcome.done/doneResult when a call's arguments carried
//     `_is_done: true` and its result was not an error;
//   - a non-nil *Result when the tool-call ceiling was exhausted
//     mid-dispatch, which the caller should return as the run's terminal
//     Result;
//   - a non-nil error only when a Hooks callback itself failed, which the
//     caller propagates unchanged out of Run;
//   - broke=true when cancellation was observed at a yield point.
func (l *Loop) dispatchToolCalls(ctx context.Context, opts RunOptions, budget *turnBudget, conv *message.Conversation, turn int, indexes []int) (dispatchOutcome, bool, *Result, error) {
	assistantIdx := len(conv.Messages) - 1
	am := conv.Messages[assistantIdx].(message.AssistantMessage)
	intent := assistantIntent(am)

	var outcome dispatchOutcome

	for _, i := range indexes {
		call := am.Parts[i].(message.ToolCallPart)

		// 1. Decrement budget.toolCalls; fail if exceeded.
		if budget.toolCallsBounded {
			budget.toolCallsRemaining--
			if budget.toolCallsRemaining < 0 {
				am.Parts[i] = call
				conv.Messages[assistantIdx] = am
				return outcome, false, &Result{
					Status: StatusError,
					Err:    fmt.Errorf("Failed to perform step, max tool calls (%d) reached", budget.maxToolCalls), //nolint:stylecheck
				}, nil
			}
		}

		args, decodeErr := decodeArguments(call.Arguments)
		if decodeErr != nil {
			args = map[string]any{}
		}

		// 2. onBeforeToolCall; "disallow" attaches a synthetic error result
		// and skips invocation.
		disallowed := false
		if opts.Hooks.OnBeforeToolCall != nil {
			decision, err := opts.Hooks.OnBeforeToolCall(ctx, ToolCallInfo{Turn: turn, Name: call.Name, Arguments: args})
			if err != nil {
				return outcome, false, nil, err
			}
			if decision == DecisionDisallow {
				call.Result = &message.ToolResult{
					Content: []message.ResultContent{message.TextPart{Text: "Tool call is disallowed."}},
					IsError: true,
				}
				am.Parts[i] = call
				outcome.anyError = true
				disallowed = true
			}
		}
		if ctx.Err() != nil {
			am.Parts[i] = call
			conv.Messages[assistantIdx] = am
			return outcome, true, nil, nil
		}
		if disallowed {
			continue
		}

		// 3. Invoke callTool with the reserved _meta keys merged in.
		callArgs := map[string]any{}
		for k, v := range args {
			callArgs[k] = v
		}
		callArgs["_meta"] = map[string]any{
			message.MetaIntent:  intent,
			message.MetaHistory: true,
			message.MetaState:   true,
		}
		substituted := secretsub.Substitute(callArgs, opts.Secrets)

		l.metrics.IncCounter("agentloop.tool_calls", 1, "tool", call.Name)
		spanCtx, span := l.tracer.Start(ctx, "agentloop.tool_call")
		start := time.Now()
		result, callErr := opts.CallTool(spanCtx, ToolCallRequest{Name: call.Name, Arguments: substituted})
		duration := time.Since(start)
		if callErr != nil {
			span.RecordError(callErr)
		}
		span.End()
		l.metrics.RecordTimer("agentloop.tool_call_duration", duration, "tool", call.Name)
		l.logger.Debug(ctx, "loop: tool call completed", "turn", turn, "tool", call.Name, "durationMs", duration.Milliseconds(), "error", callErr != nil)
		if ctx.Err() != nil {
			am.Parts[i] = call
			conv.Messages[assistantIdx] = am
			return outcome, true, nil, nil
		}

		if callErr != nil {
			l.logger.Warn(ctx, "loop: tool call failed", "turn", turn, "tool", call.Name, "error", callErr)
			if opts.Hooks.OnToolCallError != nil {
				if err := opts.Hooks.OnToolCallError(ctx, ToolCallErrorInfo{Turn: turn, Name: call.Name, Err: callErr}); err != nil {
					return outcome, false, nil, err
				}
			}
			if ctx.Err() != nil {
				am.Parts[i] = call
				conv.Messages[assistantIdx] = am
				return outcome, true, nil, nil
			}
			result = &message.ToolResult{
				Content: []message.ResultContent{message.TextPart{Text: fmt.Sprintf("Error while executing tool %q: %s\n\nPlease try to recover and complete the task.", call.Name, callErr.Error())}},
				IsError: true,
			}
		}

		// 4. onAfterToolCall; "disallow" overwrites the result.
		if opts.Hooks.OnAfterToolCall != nil {
			decision, err := opts.Hooks.OnAfterToolCall(ctx, ToolCallResultInfo{Turn: turn, Name: call.Name, Result: result})
			if err != nil {
				return outcome, false, nil, err
			}
			if decision == DecisionDisallow {
				result = &message.ToolResult{
					Content: []message.ResultContent{message.TextPart{Text: "Tool result is disallowed to be reported."}},
					IsError: true,
				}
			}
		}
		if ctx.Err() != nil {
			am.Parts[i] = call
			conv.Messages[assistantIdx] = am
			return outcome, true, nil, nil
		}

		call.Result = result
		am.Parts[i] = call

		if result.IsError {
			outcome.anyError = true
		}
		if isDone(args) && !result.IsError {
			outcome.done = true
			outcome.doneResult = result
		}
	}

	conv.Messages[assistantIdx] = am
	return outcome, false, nil, nil
}

// assistantIntent joins the text parts of am, for the "dev.lowire/intent"
// _meta key passed to every tool call in this turn.
func assistantIntent(am message.AssistantMessage) string {
	var parts []string
	for _, p := range am.Parts {
		if t, ok := p.(message.TextPart); ok && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += "\n"
		}
		joined += p
	}
	return joined
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func isDone(args map[string]any) bool {
	v, ok := args["_is_done"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
