package types

import "time"

// SessionStatus tracks a realtime session's lifecycle.
type SessionStatus string

const (
	SessionIdle        SessionStatus = "idle"
	SessionPermissions SessionStatus = "requesting-permissions"
	SessionConnecting  SessionStatus = "connecting"
	SessionConnected   SessionStatus = "connected"
	SessionEnded       SessionStatus = "ended"
	SessionError       SessionStatus = "error"
)

// NoiseProfile selects the input noise-reduction profile.
type NoiseProfile string

const (
	NoiseNearField NoiseProfile = "near_field"
	NoiseFarField  NoiseProfile = "far_field"
	NoiseOff       NoiseProfile = "off"
)

// TurnDetection selects the server-side turn-taking policy.
type TurnDetection string

const (
	TurnServerVAD TurnDetection = "server_vad"
	TurnSemantic  TurnDetection = "semantic_vad"
	TurnManual    TurnDetection = "none"
)

// SessionRecord is one realtime conversation instance as persisted by the
// collaborator session store. ProjectID is empty until a project is assigned.
type SessionRecord struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id,omitempty"`
	RealtimeID    string        `json:"realtime_id,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Status        SessionStatus `json:"status"`
	NoiseProfile  NoiseProfile  `json:"noise_profile,omitempty"`
	TurnDetection TurnDetection `json:"turn_detection,omitempty"`
	Language      string        `json:"language,omitempty"`
}
