package realtime

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// Tool-call extraction runs a fixed set of named strategies in priority
// order. The upstream protocol has emitted tool calls in a response's output
// array, in a required_action(s) field at top level or under response, and
// inline within conversation items, with differing field names in each era.
// Keeping the strategies separate keeps the fallback order auditable.

const maxWalkDepth = 32

// ExtractToolCalls recovers every tool-call invocation present in one decoded
// event, deduplicated by call id. A nil or empty result means the event
// carried no tool calls.
func ExtractToolCalls(payload map[string]any) []types.ToolCallInvocation {
	if payload == nil {
		return nil
	}
	responseID := findResponseID(payload)

	var calls []types.ToolCallInvocation
	seen := make(map[string]struct{})
	add := func(found []types.ToolCallInvocation) {
		for _, call := range found {
			if call.ID == "" || call.Name == "" {
				continue
			}
			if _, dup := seen[call.ID]; dup {
				continue
			}
			seen[call.ID] = struct{}{}
			if call.ResponseID == "" {
				call.ResponseID = responseID
			}
			calls = append(calls, call)
		}
	}

	add(fromResponseOutput(payload))
	add(fromRequiredAction(payload))
	add(fromConversationItems(payload))
	add(fromDeepWalk(payload))
	return calls
}

// fromResponseOutput reads response.output / top-level output arrays.
func fromResponseOutput(payload map[string]any) []types.ToolCallInvocation {
	var out []types.ToolCallInvocation
	for _, container := range []any{payload["output"], childMap(payload, "response")["output"]} {
		entries, ok := container.([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if call, ok := toolCallFromMap(m); ok {
				out = append(out, call)
			}
		}
	}
	return out
}

// fromRequiredAction reads required_action/required_actions at top level or
// nested under response, in both the single-object and list shapes.
func fromRequiredAction(payload map[string]any) []types.ToolCallInvocation {
	var out []types.ToolCallInvocation
	containers := []any{
		payload["required_action"],
		payload["required_actions"],
		childMap(payload, "response")["required_action"],
		childMap(payload, "response")["required_actions"],
	}
	for _, container := range containers {
		switch v := container.(type) {
		case map[string]any:
			out = append(out, requiredActionCalls(v)...)
		case []any:
			for _, entry := range v {
				if m, ok := entry.(map[string]any); ok {
					out = append(out, requiredActionCalls(m)...)
				}
			}
		}
	}
	return out
}

func requiredActionCalls(action map[string]any) []types.ToolCallInvocation {
	// Historical shape: {submit_tool_outputs:{tool_calls:[...]}}; newer shape
	// inlines tool_calls directly.
	if inner, ok := action["submit_tool_outputs"].(map[string]any); ok {
		action = inner
	}
	list, ok := action["tool_calls"].([]any)
	if !ok {
		if call, ok := toolCallFromMap(action); ok {
			return []types.ToolCallInvocation{call}
		}
		return nil
	}
	var out []types.ToolCallInvocation
	for _, entry := range list {
		if m, ok := entry.(map[string]any); ok {
			if call, ok := toolCallFromMap(m); ok {
				out = append(out, call)
			}
		}
	}
	return out
}

// fromConversationItems reads item / items objects embedded in conversation
// events.
func fromConversationItems(payload map[string]any) []types.ToolCallInvocation {
	var out []types.ToolCallInvocation
	scan := func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		if call, ok := toolCallFromMap(m); ok {
			out = append(out, call)
		}
		if parts, ok := m["content"].([]any); ok {
			for _, part := range parts {
				if pm, ok := part.(map[string]any); ok {
					if call, ok := toolCallFromMap(pm); ok {
						out = append(out, call)
					}
				}
			}
		}
	}
	scan(payload["item"])
	if items, ok := payload["items"].([]any); ok {
		for _, item := range items {
			scan(item)
		}
	}
	return out
}

// fromDeepWalk is the last-resort strategy: walk the entire event body
// looking for anything shaped like a tool call, visited-guarded against
// re-visits.
func fromDeepWalk(payload map[string]any) []types.ToolCallInvocation {
	var out []types.ToolCallInvocation
	visited := make(map[uintptr]struct{})
	var walk func(v any, depth int)
	walk = func(v any, depth int) {
		if depth > maxWalkDepth {
			return
		}
		switch node := v.(type) {
		case map[string]any:
			ptr := reflect.ValueOf(node).Pointer()
			if _, seen := visited[ptr]; seen {
				return
			}
			visited[ptr] = struct{}{}
			if call, ok := toolCallFromMap(node); ok {
				out = append(out, call)
			}
			for _, child := range node {
				walk(child, depth+1)
			}
		case []any:
			for _, child := range node {
				walk(child, depth+1)
			}
		}
	}
	walk(payload, 0)
	return out
}

// toolCallFromMap normalizes one candidate object into an invocation. The id
// and name field aliases cover every upstream era observed so far.
func toolCallFromMap(m map[string]any) (types.ToolCallInvocation, bool) {
	typ := strings.ToLower(stringField(m, "type"))
	id := stringField(m, "tool_call_id", "call_id")
	name := stringField(m, "name", "tool_name")
	if fn, ok := m["function"].(map[string]any); ok {
		if name == "" {
			name = stringField(fn, "name")
		}
		if _, has := m["arguments"]; !has {
			if args, ok := fn["arguments"]; ok {
				m = cloneWith(m, "arguments", args)
			}
		}
	}

	isCallType := typ == "function" || typ == "function_call" || typ == "tool_call" || typ == "tool_use"
	if id == "" {
		// A bare "id" only counts when the object is explicitly call-typed;
		// otherwise any item id would look like a call.
		if isCallType {
			id = stringField(m, "id")
		}
	}
	if id == "" || name == "" {
		return types.ToolCallInvocation{}, false
	}
	if !isCallType && typ != "" {
		return types.ToolCallInvocation{}, false
	}

	args, raw := coerceArgs(firstPresent(m, "arguments", "args", "input", "parameters"))
	return types.ToolCallInvocation{
		ID:         id,
		Name:       name,
		Args:       args,
		RawArgs:    raw,
		ResponseID: stringField(m, "response_id"),
	}, true
}

// coerceArgs normalizes an argument payload that may arrive as a JSON-encoded
// string or an already-structured object. Malformed JSON yields nil args with
// the raw text preserved; the call is deferred downstream, never dropped.
func coerceArgs(v any) (map[string]any, string) {
	switch args := v.(type) {
	case nil:
		return nil, ""
	case map[string]any:
		return args, ""
	case string:
		trimmed := strings.TrimSpace(args)
		if trimmed == "" {
			return nil, ""
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return nil, args
		}
		return parsed, args
	default:
		return nil, ""
	}
}

func findResponseID(payload map[string]any) string {
	if id := stringField(payload, "response_id"); id != "" {
		return id
	}
	if id := stringField(childMap(payload, "response"), "id"); id != "" {
		return id
	}
	if typ := stringField(payload, "type"); strings.HasPrefix(typ, "response.") {
		return stringField(payload, "id")
	}
	return ""
}

func childMap(m map[string]any, key string) map[string]any {
	child, _ := m[key].(map[string]any)
	if child == nil {
		return map[string]any{}
	}
	return child
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func cloneWith(m map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}

// ExtractText recursively searches an arbitrary decoded value for speech or
// text content. It returns the first concatenation found under text,
// transcript, or nested content part arrays, or "" when nothing textual is
// present. Callers treat "" as a no-op.
func ExtractText(v any) string {
	return extractText(v, 0)
}

func extractText(v any, depth int) string {
	if depth > maxWalkDepth {
		return ""
	}
	switch node := v.(type) {
	case string:
		return node
	case map[string]any:
		for _, key := range []string{"text", "transcript"} {
			if s, ok := node[key].(string); ok && s != "" {
				return s
			}
		}
		if parts, ok := node["content"].([]any); ok {
			var b strings.Builder
			for _, part := range parts {
				b.WriteString(extractText(part, depth+1))
			}
			if b.Len() > 0 {
				return b.String()
			}
		}
		if content, ok := node["content"].(string); ok && content != "" {
			return content
		}
		for _, key := range []string{"item", "delta", "response", "message"} {
			if child, ok := node[key]; ok {
				if s := extractText(child, depth+1); s != "" {
					return s
				}
			}
		}
		return ""
	case []any:
		var b strings.Builder
		for _, child := range node {
			b.WriteString(extractText(child, depth+1))
		}
		return b.String()
	default:
		return ""
	}
}
