package store

import (
	"context"
	"encoding/json"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// ProjectStore persists projects and their blueprints. Every operation
// returns the consistent project bundle shape.
type ProjectStore interface {
	// List returns projects newest-first, at most limit entries.
	List(ctx context.Context, limit int) ([]types.ProjectBundle, error)

	Get(ctx context.Context, id string) (*types.ProjectBundle, error)

	Create(ctx context.Context, title, kind string) (*types.ProjectBundle, error)

	UpdateMetadata(ctx context.Context, id, title, kind string) (*types.ProjectBundle, error)

	// SyncBlueprintField writes one intake field and recomputes the summary.
	SyncBlueprintField(ctx context.Context, id, field, value string) (*types.ProjectBundle, error)

	// CommitBlueprint marks the blueprint complete. With bypassMissing the
	// remaining required fields are recorded as bypassed instead of blocking.
	CommitBlueprint(ctx context.Context, id string, bypassMissing bool) (*types.ProjectBundle, error)
}

// SessionStore persists realtime session records.
type SessionStore interface {
	CreateSession(ctx context.Context, rec *types.SessionRecord) error
	GetSession(ctx context.Context, id string) (*types.SessionRecord, error)
	UpdateRealtimeID(ctx context.Context, id, realtimeID string) error
	AssignProject(ctx context.Context, id, projectID string) error
	SetNoiseProfile(ctx context.Context, id string, profile types.NoiseProfile) error
	SetLanguage(ctx context.Context, id, language string) error

	// Complete is the one-time session finalization. Completing an already
	// completed session is a no-op.
	Complete(ctx context.Context, id string) error
}

// TranscriptStore persists finalized messages and raw audit chunks.
type TranscriptStore interface {
	// AppendMessage persists one finalized fragment and returns its durable
	// message id. Appending the same fragment id twice returns the existing
	// durable id without writing a duplicate.
	AppendMessage(ctx context.Context, sessionID string, frag types.TranscriptFragment) (string, error)

	// RecordChunk stores one raw side-channel payload for audit/replay.
	RecordChunk(ctx context.Context, sessionID string, raw json.RawMessage) error

	// Finalize seals a project's transcript at session end.
	Finalize(ctx context.Context, projectID, sessionID string) error
}

// NoteStore persists structured notes and TODOs.
type NoteStore interface {
	CreateNote(ctx context.Context, note types.Note) (types.Note, error)
	ListNotes(ctx context.Context, projectID string, kind types.NoteKind) ([]types.Note, error)
	ListTodos(ctx context.Context, projectID string) ([]types.Todo, error)
	UpdateTodoStatus(ctx context.Context, todoID string, status types.TodoStatus) (*types.Todo, error)
}

// WorkspaceStore persists the draft document, its outline, and draft jobs.
type WorkspaceStore interface {
	GetWorkspace(ctx context.Context, projectID string) (*types.DocumentWorkspace, error)
	ApplyEdit(ctx context.Context, projectID, markdown string, sections []types.Section, summary string) (*types.DocumentWorkspace, error)
	ManageOutline(ctx context.Context, projectID string, ops []types.OutlineOp) (*types.DocumentWorkspace, error)

	EnqueueDraftJob(ctx context.Context, job types.DraftJob) (*types.DraftJob, error)
	UpdateDraftJob(ctx context.Context, job types.DraftJob) error
	GetDraftJob(ctx context.Context, id string) (*types.DraftJob, error)
}

// Stores bundles every collaborator store interface.
type Stores struct {
	Projects    ProjectStore
	Sessions    SessionStore
	Transcripts TranscriptStore
	Notes       NoteStore
	Workspace   WorkspaceStore
}

