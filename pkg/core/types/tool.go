package types

// ToolCallInvocation is a model-initiated tool call recovered from the event
// stream. Args is nil when the arguments were absent or unparseable; RawArgs
// keeps the unparsed payload for diagnostics. ResponseID is the owning turn
// identifier and may be empty while argument deltas are still streaming.
type ToolCallInvocation struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	RawArgs    string         `json:"raw_args,omitempty"`
	ResponseID string         `json:"response_id,omitempty"`
}

// ToolDefinition is an immutable catalog entry shared across modes by
// reference. Parameters is a JSON-schema object shape.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolResult is the payload serialized into a submit_tool_outputs message and
// mirrored as a TOOL_RESULT tagged system item.
type ToolResult struct {
	Tool       string `json:"tool"`
	ToolCallID string `json:"tool_call_id"`
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}
