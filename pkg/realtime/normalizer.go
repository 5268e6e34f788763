package realtime

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// Update is one normalized observation decoded from an inbound event.
type Update interface {
	updateKind() string
}

// TranscriptDelta is incremental speech or text for an in-flight item.
type TranscriptDelta struct {
	ItemID  string
	Speaker types.Speaker
	Text    string
}

func (TranscriptDelta) updateKind() string { return "transcript_delta" }

// TranscriptFinal is a finalized utterance ready to persist. Emitted at most
// once per derived fragment id.
type TranscriptFinal struct {
	Fragment types.TranscriptFragment
}

func (TranscriptFinal) updateKind() string { return "transcript_final" }

// SpeechToggle flips the currently-speaking flag for a speaker.
type SpeechToggle struct {
	Speaker  types.Speaker
	Speaking bool
}

func (SpeechToggle) updateKind() string { return "speech_toggle" }

// ToolCalls carries the tool-call invocations recovered from one event.
type ToolCalls struct {
	Calls []types.ToolCallInvocation
}

func (ToolCalls) updateKind() string { return "tool_calls" }

// DraftProgressUpdate is a recognized TOOL_PROGRESS system item. It routes to
// the instruction context, never to the transcript.
type DraftProgressUpdate struct {
	Progress types.DraftProgress
}

func (DraftProgressUpdate) updateKind() string { return "draft_progress" }

// Normalizer decodes the heterogeneous inbound event stream into transcript
// text and tool-call invocations. It is not safe for concurrent use; the
// session's read loop is its only caller.
type Normalizer struct {
	logger    *slog.Logger
	buffers   map[string]*strings.Builder
	finalized map[string]struct{}
	now       func() time.Time
}

// NewNormalizer creates a normalizer with empty per-item buffers.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		logger:    logger.With("component", "realtime.normalizer"),
		buffers:   make(map[string]*strings.Builder),
		finalized: make(map[string]struct{}),
		now:       time.Now,
	}
}

// Reset clears all in-flight buffers and dedup state. Called on teardown so
// nothing leaks across sessions.
func (n *Normalizer) Reset() {
	n.buffers = make(map[string]*strings.Builder)
	n.finalized = make(map[string]struct{})
}

// Normalize decodes one inbound event. Unknown event types still pass through
// tool-call extraction, because the upstream protocol has emitted tool calls
// under several historical event shapes.
func (n *Normalizer) Normalize(ev RawEvent) []Update {
	var updates []Update

	switch ev.Type {
	case "input_audio_buffer.speech_started":
		updates = append(updates, SpeechToggle{Speaker: types.SpeakerUser, Speaking: true})
	case "input_audio_buffer.speech_stopped":
		updates = append(updates, SpeechToggle{Speaker: types.SpeakerUser, Speaking: false})

	case "conversation.item.input_audio_transcription.delta":
		if u, ok := n.appendDelta(ev.Payload, types.SpeakerUser); ok {
			updates = append(updates, u)
		}
	case "conversation.item.input_audio_transcription.completed":
		if u, ok := n.flushFinal(ev.Payload, types.SpeakerUser); ok {
			updates = append(updates, u)
		}

	// response.audio.delta / response.audio.done are deliberately absent:
	// their delta is base64 PCM, and flushing it would shadow the real
	// transcript behind the shared fragment id.
	case "response.output_text.delta", "response.audio_transcript.delta":
		if u, ok := n.appendDelta(ev.Payload, types.SpeakerAssistant); ok {
			updates = append(updates, u)
		}
	case "response.output_text.done", "response.audio_transcript.done":
		if u, ok := n.flushFinal(ev.Payload, types.SpeakerAssistant); ok {
			updates = append(updates, u)
		}

	case "conversation.item.created", "conversation.item.added", "conversation.item.done":
		updates = append(updates, n.normalizeItem(ev.Payload)...)
	}

	if calls := ExtractToolCalls(ev.Payload); len(calls) > 0 {
		updates = append(updates, ToolCalls{Calls: calls})
	}
	return updates
}

func (n *Normalizer) appendDelta(payload map[string]any, speaker types.Speaker) (Update, bool) {
	itemID := stringField(payload, "item_id", "id")
	if itemID == "" {
		return nil, false
	}
	delta := stringField(payload, "delta", "text", "transcript")
	if delta == "" {
		if found := ExtractText(payload["delta"]); found != "" {
			delta = found
		}
	}
	if delta == "" {
		return nil, false
	}
	buf, ok := n.buffers[bufferKey(speaker, itemID)]
	if !ok {
		buf = &strings.Builder{}
		n.buffers[bufferKey(speaker, itemID)] = buf
	}
	buf.WriteString(delta)
	return TranscriptDelta{ItemID: itemID, Speaker: speaker, Text: delta}, true
}

func (n *Normalizer) flushFinal(payload map[string]any, speaker types.Speaker) (Update, bool) {
	itemID := stringField(payload, "item_id", "id")
	if itemID == "" {
		return nil, false
	}

	text := stringField(payload, "transcript", "text")
	if text == "" {
		text = ExtractText(payload)
	}
	key := bufferKey(speaker, itemID)
	if buffered, ok := n.buffers[key]; ok {
		if text == "" {
			text = buffered.String()
		}
		delete(n.buffers, key)
	}
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	fragmentID := types.FragmentID(speaker, itemID)
	if _, seen := n.finalized[fragmentID]; seen {
		return nil, false
	}
	n.finalized[fragmentID] = struct{}{}

	return TranscriptFinal{Fragment: types.TranscriptFragment{
		ID:        fragmentID,
		Speaker:   speaker,
		Text:      text,
		Timestamp: n.now(),
	}}, true
}

// normalizeItem handles generic conversation item events for any role,
// including the synthetic system role used for internal progress signaling.
func (n *Normalizer) normalizeItem(payload map[string]any) []Update {
	item, ok := payload["item"].(map[string]any)
	if !ok {
		return nil
	}
	itemID := stringField(item, "id", "item_id")
	role := strings.ToLower(stringField(item, "role"))
	text := ExtractText(item)
	if text == "" {
		return nil
	}

	if role == "system" {
		if tag, raw, ok := types.DecodeTagged(text); ok {
			switch tag {
			case types.TagToolProgress:
				var progress types.DraftProgress
				if err := json.Unmarshal(raw, &progress); err != nil {
					n.logger.Warn("malformed TOOL_PROGRESS payload", "error", err)
					return nil
				}
				return []Update{DraftProgressUpdate{Progress: progress}}
			case types.TagToolResult:
				// Our own echo; nothing to learn from it.
				return nil
			}
		}
		return nil
	}

	speaker := types.SpeakerUser
	if role == "assistant" {
		speaker = types.SpeakerAssistant
	}
	if itemID == "" {
		return nil
	}
	fragmentID := types.FragmentID(speaker, itemID)
	if _, seen := n.finalized[fragmentID]; seen {
		return nil
	}
	n.finalized[fragmentID] = struct{}{}
	return []Update{TranscriptFinal{Fragment: types.TranscriptFragment{
		ID:        fragmentID,
		Speaker:   speaker,
		Text:      text,
		Timestamp: n.now(),
	}}}
}

func bufferKey(speaker types.Speaker, itemID string) string {
	return string(speaker) + "|" + itemID
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
