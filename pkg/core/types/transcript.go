package types

import "time"

// Speaker identifies who produced a transcript fragment.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// TranscriptFragment is one finalized utterance. The ID derives from the
// originating side-channel item (speaker + item id) so replayed completion
// events dedupe instead of producing duplicate fragments.
type TranscriptFragment struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FragmentID builds the derived fragment identifier for an item.
func FragmentID(speaker Speaker, itemID string) string {
	return string(speaker) + "-" + itemID
}
