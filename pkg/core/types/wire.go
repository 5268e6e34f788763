package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Side-channel message types this engine produces. Inbound event types are
// matched loosely by the normalizer rather than decoded into fixed structs,
// because the upstream protocol has shipped several shapes per event family.
const (
	MsgSessionUpdate     = "session.update"
	MsgSubmitToolOutputs = "response.submit_tool_outputs"
	MsgItemCreate        = "conversation.item.create"
	MsgResponseCreate    = "response.create"
)

// Internal signaling tags carried in plain system items as "<TAG>::<json>".
const (
	TagToolResult   = "TOOL_RESULT"
	TagToolProgress = "TOOL_PROGRESS"
)

// SessionUpdate is the outbound session.update message. Session is a full
// replacement object; partial updates include only the changed fields.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig carries the mutable realtime session configuration.
type SessionConfig struct {
	Model         string           `json:"model,omitempty"`
	Audio         *AudioConfig     `json:"audio,omitempty"`
	TurnDetection *TurnConfig      `json:"turn_detection,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	Instructions  string           `json:"instructions,omitempty"`
}

// AudioConfig selects input audio processing options.
type AudioConfig struct {
	NoiseReduction string `json:"noise_reduction,omitempty"`
	Language       string `json:"language,omitempty"`
}

// TurnConfig selects the turn-detection policy.
type TurnConfig struct {
	Type string `json:"type"`
}

// SubmitToolOutputs is the structured outbound tool-result message. Output is
// a JSON-encoded ToolResult.
type SubmitToolOutputs struct {
	Type        string       `json:"type"`
	ResponseID  string       `json:"response_id"`
	ToolOutputs []ToolOutput `json:"tool_outputs"`
}

// ToolOutput is one tool result within a SubmitToolOutputs message.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ItemCreate is the outbound conversation.item.create message.
type ItemCreate struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

// Item is a conversation item payload.
type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one content part within a conversation item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseCreate asks the model to resume generation.
type ResponseCreate struct {
	Type string `json:"type"`
}

// NewSystemItem builds a plain system message item carrying text.
func NewSystemItem(text string) ItemCreate {
	return ItemCreate{
		Type: MsgItemCreate,
		Item: Item{
			Type: "message",
			Role: "system",
			Content: []ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// EncodeTagged serializes payload as "<tag>::<json>" for internal signaling
// over plain system items.
func EncodeTagged(tag string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", tag, err)
	}
	return tag + "::" + string(data), nil
}

// DecodeTagged splits "<tag>::<json>" text. Returns ok=false when the text is
// not a recognized tagged message.
func DecodeTagged(text string) (tag string, payload json.RawMessage, ok bool) {
	idx := strings.Index(text, "::")
	if idx <= 0 {
		return "", nil, false
	}
	tag = text[:idx]
	switch tag {
	case TagToolResult, TagToolProgress:
		return tag, json.RawMessage(text[idx+2:]), true
	default:
		return "", nil, false
	}
}
