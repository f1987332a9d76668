// Package summarize implements the conversation summarization strategy
// (C6): collapsing all but the most recent assistant turn into a synthetic
// recap message, preserving per-tool persistent "state" fragments and
// history entries.
package summarize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"dev.lowire/agentloop/agent/message"
)

// Summarize replaces conv's multi-turn history with a two-message view: a
// synthetic user recap built from every turn but the last, plus the single
// most recent assistant message (if any). task is the original task string
// rendered under the "## Task" heading.
//
// If conv has at most one assistant message, there is nothing to collapse
// and Summarize returns conv's messages unchanged (spec invariant: the
// summarizer degenerates to the identity transform — spec property 6).
func Summarize(conv message.Conversation, task string) []message.Message {
	assistantIdx := assistantIndexes(conv.Messages)
	if len(assistantIdx) <= 1 {
		return conv.Messages
	}

	lastAssistant := assistantIdx[len(assistantIdx)-1]

	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString(task)
	b.WriteString("\n")

	turn := 0
	for _, idx := range assistantIdx[:len(assistantIdx)-1] {
		turn++
		am := conv.Messages[idx].(message.AssistantMessage)
		fmt.Fprintf(&b, "\n### Turn %d\n", turn)
		renderTurn(&b, am)
	}

	renderStateAppendix(&b, conv.Messages[:lastAssistant])

	recap := message.UserMessage{Text: b.String()}

	return []message.Message{recap, conv.Messages[lastAssistant]}
}

func assistantIndexes(msgs []message.Message) []int {
	var idx []int
	for i, m := range msgs {
		if m.Role() == message.RoleAssistant {
			idx = append(idx, i)
		}
	}
	return idx
}

func renderTurn(b *strings.Builder, am message.AssistantMessage) {
	for _, p := range am.Parts {
		switch v := p.(type) {
		case message.TextPart:
			fmt.Fprintf(b, "[assistant] %s\n", v.Text)
		case message.ToolCallPart:
			argsJSON := "{}"
			if len(v.Arguments) > 0 {
				argsJSON = string(v.Arguments)
			}
			fmt.Fprintf(b, "[tool_call] %s(%s)\n", v.Name, argsJSON)
			fmt.Fprintf(b, "[tool_result] %s\n", flattenResult(v.Result))
		}
	}
	if am.ToolError != "" {
		fmt.Fprintf(b, "[error] %s\n", am.ToolError)
	}
}

func flattenResult(r *message.ToolResult) string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if tp, ok := c.(message.TextPart); ok {
			parts = append(parts, tp.Text)
		}
	}
	text := strings.Join(parts, " ")
	if r.IsError {
		return "[error] " + text
	}
	return text
}

// renderStateAppendix renders a combined "state" section: the union of
// result._meta["dev.lowire/state"] across every prior tool result (entries
// belonging to the final, still-live assistant message excluded by the
// caller passing only messages up to lastAssistant), plus per-call
// "dev.lowire/history" items rendered as pseudo-XML.
func renderStateAppendix(b *strings.Builder, priorMessages []message.Message) {
	state := map[string]map[string]string{}
	var stateNames []string

	var history []string

	for _, m := range priorMessages {
		am, ok := m.(message.AssistantMessage)
		if !ok {
			continue
		}
		for _, p := range am.Parts {
			tc, ok := p.(message.ToolCallPart)
			if !ok || tc.Result == nil {
				continue
			}
			if raw, ok := tc.Result.Meta[message.MetaState]; ok {
				if entries, ok := asStringMap(raw); ok {
					existing, ok := state[tc.Name]
					if !ok {
						existing = map[string]string{}
						stateNames = append(stateNames, tc.Name)
					}
					for k, v := range entries {
						existing[k] = v
					}
					state[tc.Name] = existing
				}
			}
			if raw, ok := tc.Result.Meta[message.MetaHistory]; ok {
				for _, entry := range asHistoryEntries(raw) {
					history = append(history, fmt.Sprintf("<%s>%s</%s>", entry.Category, entry.Content, entry.Category))
				}
			}
		}
	}

	sort.Strings(stateNames)
	for _, name := range stateNames {
		fmt.Fprintf(b, "\n### %s\n", name)
		entries := state[name]
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "%s: %s\n", k, entries[k])
		}
	}

	for _, h := range history {
		b.WriteString(h)
		b.WriteString("\n")
	}
}

func asStringMap(v any) (map[string]string, bool) {
	switch m := v.(type) {
	case map[string]string:
		return m, true
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func asHistoryEntries(v any) []message.HistoryEntry {
	switch entries := v.(type) {
	case []message.HistoryEntry:
		return entries
	case []any:
		out := make([]message.HistoryEntry, 0, len(entries))
		for _, e := range entries {
			raw, err := json.Marshal(e)
			if err != nil {
				continue
			}
			var he message.HistoryEntry
			if err := json.Unmarshal(raw, &he); err == nil {
				out = append(out, he)
			}
		}
		return out
	default:
		return nil
	}
}
