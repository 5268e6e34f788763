package types

import "time"

// Project is the collaborator-owned project metadata record.
type Project struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind,omitempty"` // book, newsletter, speech, ...
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Blueprint is the structured intake record for a project.
type Blueprint struct {
	DesiredOutcome  string   `json:"desired_outcome,omitempty"`
	Audience        string   `json:"audience,omitempty"`
	Materials       string   `json:"materials,omitempty"`
	VoiceGuardrails string   `json:"voice_guardrails,omitempty"`
	Cadence         string   `json:"cadence,omitempty"`
	SuccessMetric   string   `json:"success_metric,omitempty"`
	Committed       bool     `json:"committed"`
	BypassedFields  []string `json:"bypassed_fields,omitempty"`
}

// BlueprintStatus summarizes blueprint completeness.
type BlueprintStatus string

const (
	BlueprintIncomplete BlueprintStatus = "incomplete"
	BlueprintComplete   BlueprintStatus = "complete"
	BlueprintBypassed   BlueprintStatus = "bypassed"
)

// BlueprintSummary reports which required intake fields are still missing.
type BlueprintSummary struct {
	Status        BlueprintStatus `json:"status"`
	MissingFields []string        `json:"missing_fields"`
}

// ProjectBundle is the consistent shape returned by every project-store
// operation.
type ProjectBundle struct {
	ProjectID string           `json:"project_id"`
	Project   Project          `json:"project"`
	Blueprint Blueprint        `json:"blueprint"`
	Summary   BlueprintSummary `json:"summary"`
}

// NoteKind classifies a structured note.
type NoteKind string

const (
	NoteFact    NoteKind = "fact"
	NoteStory   NoteKind = "story"
	NoteStyle   NoteKind = "style"
	NoteVoice   NoteKind = "voice"
	NoteTodo    NoteKind = "todo"
	NoteSummary NoteKind = "summary"
)

// Note is a typed structured note captured during a conversation. Anchors
// hold durable message ids when a pointer resolved, or raw transcript anchor
// strings when it did not.
type Note struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Kind       NoteKind  `json:"kind"`
	Text       string    `json:"text"`
	Anchors    []string  `json:"anchors,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TodoStatus tracks a TODO note's progress.
type TodoStatus string

const (
	TodoOpen  TodoStatus = "open"
	TodoDoing TodoStatus = "doing"
	TodoDone  TodoStatus = "done"
)

// Todo is an actionable follow-up item for a project.
type Todo struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Text      string     `json:"text"`
	Status    TodoStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// SectionStatus tracks one draft section's progress.
type SectionStatus string

const (
	SectionEmpty    SectionStatus = "empty"
	SectionDrafting SectionStatus = "drafting"
	SectionDrafted  SectionStatus = "drafted"
	SectionFinal    SectionStatus = "final"
)

// Section is one ordered unit of the draft document.
type Section struct {
	ID     string        `json:"id"`
	Title  string        `json:"title"`
	Order  int           `json:"order"`
	Status SectionStatus `json:"status"`
}

// DocumentWorkspace is the current draft plus its outline and progress.
type DocumentWorkspace struct {
	ProjectID string    `json:"project_id"`
	Markdown  string    `json:"markdown"`
	Sections  []Section `json:"sections"`
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OutlineOp is one structural outline mutation.
type OutlineOp struct {
	Op        string `json:"op"` // add, rename, reorder, remove
	SectionID string `json:"section_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Position  int    `json:"position,omitempty"`
}
