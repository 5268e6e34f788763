package types

import "time"

// DraftJobStatus tracks one background drafting pass.
type DraftJobStatus string

const (
	DraftQueued   DraftJobStatus = "queued"
	DraftRunning  DraftJobStatus = "running"
	DraftComplete DraftJobStatus = "complete"
	DraftError    DraftJobStatus = "error"
)

// DraftJob is one asynchronous document-rewriting pass. The coordinator
// enqueues and observes these; the workspace store owns their persistence.
type DraftJob struct {
	ID                string         `json:"id"`
	ProjectID         string         `json:"project_id"`
	SessionID         string         `json:"session_id,omitempty"`
	Status            DraftJobStatus `json:"status"`
	Summary           string         `json:"summary,omitempty"`
	Urgency           string         `json:"urgency,omitempty"`
	MessageRefs       []string       `json:"message_refs,omitempty"`
	TranscriptAnchors []string       `json:"transcript_anchors,omitempty"`
	PromptContext     map[string]any `json:"prompt_context,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// DraftProgress is the payload of a TOOL_PROGRESS tagged system item.
type DraftProgress struct {
	JobID     string         `json:"job_id"`
	Status    DraftJobStatus `json:"status"`
	Summary   string         `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DedupKey builds the composite replay-suppression key for a progress event.
// The timestamp component is worker-controlled input: a replay carrying a
// fresh timestamp is processed again. Accepted for v1.
func (p DraftProgress) DedupKey() string {
	return p.JobID + "|" + string(p.Status) + "|" + p.Summary + "|" + p.Timestamp.UTC().Format(time.RFC3339Nano)
}
