package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// MemoryStores implements every collaborator store in process memory. It is
// the reference driver and the test double for the session engine.
type MemoryStores struct {
	mu sync.RWMutex

	projects   map[string]*types.Project
	blueprints map[string]*types.Blueprint
	sessions   map[string]*types.SessionRecord
	completed  map[string]bool

	messages   map[string]string // fragment id -> durable message id
	transcript map[string][]types.TranscriptFragment
	chunks     map[string][]json.RawMessage
	finalized  map[string]bool

	notes map[string]*types.Note
	todos map[string]*types.Todo

	workspaces map[string]*types.DocumentWorkspace
	jobs       map[string]*types.DraftJob

	now func() time.Time
}

// NewMemoryStores creates an empty in-memory store set.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		projects:   make(map[string]*types.Project),
		blueprints: make(map[string]*types.Blueprint),
		sessions:   make(map[string]*types.SessionRecord),
		completed:  make(map[string]bool),
		messages:   make(map[string]string),
		transcript: make(map[string][]types.TranscriptFragment),
		chunks:     make(map[string][]json.RawMessage),
		finalized:  make(map[string]bool),
		notes:      make(map[string]*types.Note),
		todos:      make(map[string]*types.Todo),
		workspaces: make(map[string]*types.DocumentWorkspace),
		jobs:       make(map[string]*types.DraftJob),
		now:        time.Now,
	}
}

// Stores returns the interface bundle backed by this instance.
func (m *MemoryStores) Stores() Stores {
	return Stores{
		Projects:    m,
		Sessions:    m,
		Transcripts: m,
		Notes:       m,
		Workspace:   m,
	}
}

// --- ProjectStore ---

func (m *MemoryStores) List(ctx context.Context, limit int) ([]types.ProjectBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bundles := make([]types.ProjectBundle, 0, len(m.projects))
	for id := range m.projects {
		bundles = append(bundles, m.bundleLocked(id))
	}
	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].Project.CreatedAt.After(bundles[j].Project.CreatedAt)
	})
	if limit > 0 && len(bundles) > limit {
		bundles = bundles[:limit]
	}
	return bundles, nil
}

func (m *MemoryStores) Get(ctx context.Context, id string) (*types.ProjectBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.projects[id]; !ok {
		return nil, ErrNotFound
	}
	bundle := m.bundleLocked(id)
	return &bundle, nil
}

func (m *MemoryStores) Create(ctx context.Context, title, kind string) (*types.ProjectBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	project := &types.Project{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		Kind:      strings.TrimSpace(kind),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.projects[project.ID] = project
	m.blueprints[project.ID] = &types.Blueprint{}
	bundle := m.bundleLocked(project.ID)
	return &bundle, nil
}

func (m *MemoryStores) UpdateMetadata(ctx context.Context, id, title, kind string) (*types.ProjectBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	project, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	if title = strings.TrimSpace(title); title != "" {
		project.Title = title
	}
	if kind = strings.TrimSpace(kind); kind != "" {
		project.Kind = kind
	}
	project.UpdatedAt = m.now()
	bundle := m.bundleLocked(id)
	return &bundle, nil
}

func (m *MemoryStores) SyncBlueprintField(ctx context.Context, id, field, value string) (*types.ProjectBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bp, ok := m.blueprints[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !types.SetBlueprintField(bp, field, value) {
		return nil, ErrUnknownField
	}
	if project, ok := m.projects[id]; ok {
		project.UpdatedAt = m.now()
	}
	bundle := m.bundleLocked(id)
	return &bundle, nil
}

func (m *MemoryStores) CommitBlueprint(ctx context.Context, id string, bypassMissing bool) (*types.ProjectBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bp, ok := m.blueprints[id]
	if !ok {
		return nil, ErrNotFound
	}
	if bypassMissing {
		bp.BypassedFields = append(bp.BypassedFields, types.MissingFields(*bp)...)
	}
	bp.Committed = true
	bundle := m.bundleLocked(id)
	return &bundle, nil
}

func (m *MemoryStores) bundleLocked(id string) types.ProjectBundle {
	project := m.projects[id]
	bp := m.blueprints[id]
	if bp == nil {
		bp = &types.Blueprint{}
	}
	return types.ProjectBundle{
		ProjectID: id,
		Project:   *project,
		Blueprint: *bp,
		Summary:   types.Summarize(*bp),
	}
}

// --- SessionStore ---

func (m *MemoryStores) CreateSession(ctx context.Context, rec *types.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = m.now()
	}
	clone := *rec
	m.sessions[rec.ID] = &clone
	return nil
}

func (m *MemoryStores) GetSession(ctx context.Context, id string) (*types.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *MemoryStores) UpdateRealtimeID(ctx context.Context, id, realtimeID string) error {
	return m.mutateSession(id, func(rec *types.SessionRecord) { rec.RealtimeID = realtimeID })
}

func (m *MemoryStores) AssignProject(ctx context.Context, id, projectID string) error {
	return m.mutateSession(id, func(rec *types.SessionRecord) { rec.ProjectID = projectID })
}

func (m *MemoryStores) SetNoiseProfile(ctx context.Context, id string, profile types.NoiseProfile) error {
	return m.mutateSession(id, func(rec *types.SessionRecord) { rec.NoiseProfile = profile })
}

func (m *MemoryStores) SetLanguage(ctx context.Context, id, language string) error {
	return m.mutateSession(id, func(rec *types.SessionRecord) { rec.Language = language })
}

func (m *MemoryStores) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if m.completed[id] {
		return nil
	}
	m.completed[id] = true
	rec.Status = types.SessionEnded
	return nil
}

func (m *MemoryStores) mutateSession(id string, mutate func(*types.SessionRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	mutate(rec)
	return nil
}

// --- TranscriptStore ---

func (m *MemoryStores) AppendMessage(ctx context.Context, sessionID string, frag types.TranscriptFragment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if durable, seen := m.messages[frag.ID]; seen {
		return durable, nil
	}
	durable := uuid.NewString()
	m.messages[frag.ID] = durable

	// Display order is timestamp order regardless of arrival order.
	list := append(m.transcript[sessionID], frag)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	m.transcript[sessionID] = list
	return durable, nil
}

func (m *MemoryStores) RecordChunk(ctx context.Context, sessionID string, raw json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[sessionID] = append(m.chunks[sessionID], append(json.RawMessage(nil), raw...))
	return nil
}

func (m *MemoryStores) Finalize(ctx context.Context, projectID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized[sessionID] = true
	return nil
}

// TranscriptFor returns the ordered transcript for a session. Test helper.
func (m *MemoryStores) TranscriptFor(sessionID string) []types.TranscriptFragment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.TranscriptFragment(nil), m.transcript[sessionID]...)
}

// --- NoteStore ---

func (m *MemoryStores) CreateNote(ctx context.Context, note types.Note) (types.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = m.now()
	}
	clone := note
	m.notes[note.ID] = &clone
	if note.Kind == types.NoteTodo {
		m.todos[note.ID] = &types.Todo{
			ID:        note.ID,
			ProjectID: note.ProjectID,
			Text:      note.Text,
			Status:    types.TodoOpen,
			CreatedAt: note.CreatedAt,
		}
	}
	return note, nil
}

func (m *MemoryStores) ListNotes(ctx context.Context, projectID string, kind types.NoteKind) ([]types.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Note
	for _, note := range m.notes {
		if note.ProjectID != projectID {
			continue
		}
		if kind != "" && note.Kind != kind {
			continue
		}
		out = append(out, *note)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStores) ListTodos(ctx context.Context, projectID string) ([]types.Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Todo
	for _, todo := range m.todos {
		if todo.ProjectID == projectID {
			out = append(out, *todo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStores) UpdateTodoStatus(ctx context.Context, todoID string, status types.TodoStatus) (*types.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	todo, ok := m.todos[todoID]
	if !ok {
		return nil, ErrNotFound
	}
	todo.Status = status
	clone := *todo
	return &clone, nil
}

// --- WorkspaceStore ---

func (m *MemoryStores) GetWorkspace(ctx context.Context, projectID string) (*types.DocumentWorkspace, error) {
	// Full lock: workspaceLocked lazily inserts the row on first read.
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.workspaceLocked(projectID)
	clone := *ws
	clone.Sections = append([]types.Section(nil), ws.Sections...)
	return &clone, nil
}

func (m *MemoryStores) ApplyEdit(ctx context.Context, projectID, markdown string, sections []types.Section, summary string) (*types.DocumentWorkspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.workspaceLocked(projectID)
	ws.Markdown = markdown
	ws.Sections = append([]types.Section(nil), sections...)
	ws.Summary = summary
	ws.UpdatedAt = m.now()
	clone := *ws
	return &clone, nil
}

func (m *MemoryStores) ManageOutline(ctx context.Context, projectID string, ops []types.OutlineOp) (*types.DocumentWorkspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.workspaceLocked(projectID)
	for _, op := range ops {
		applyOutlineOp(ws, op, m.now)
	}
	renumber(ws.Sections)
	ws.UpdatedAt = m.now()
	clone := *ws
	clone.Sections = append([]types.Section(nil), ws.Sections...)
	return &clone, nil
}

func (m *MemoryStores) EnqueueDraftJob(ctx context.Context, job types.DraftJob) (*types.DraftJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := m.now()
	job.Status = types.DraftQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	clone := job
	m.jobs[job.ID] = &clone
	return &job, nil
}

func (m *MemoryStores) UpdateDraftJob(ctx context.Context, job types.DraftJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	job.CreatedAt = stored.CreatedAt
	job.UpdatedAt = m.now()
	clone := job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *MemoryStores) GetDraftJob(ctx context.Context, id string) (*types.DraftJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *MemoryStores) workspaceLocked(projectID string) *types.DocumentWorkspace {
	ws, ok := m.workspaces[projectID]
	if !ok {
		ws = &types.DocumentWorkspace{ProjectID: projectID, UpdatedAt: m.now()}
		m.workspaces[projectID] = ws
	}
	return ws
}

func applyOutlineOp(ws *types.DocumentWorkspace, op types.OutlineOp, now func() time.Time) {
	switch op.Op {
	case "add":
		ws.Sections = append(ws.Sections, types.Section{
			ID:     uuid.NewString(),
			Title:  op.Title,
			Order:  len(ws.Sections),
			Status: types.SectionEmpty,
		})
	case "rename":
		for i := range ws.Sections {
			if ws.Sections[i].ID == op.SectionID {
				ws.Sections[i].Title = op.Title
			}
		}
	case "reorder":
		for i := range ws.Sections {
			if ws.Sections[i].ID == op.SectionID {
				section := ws.Sections[i]
				ws.Sections = append(ws.Sections[:i], ws.Sections[i+1:]...)
				pos := op.Position
				if pos < 0 {
					pos = 0
				}
				if pos > len(ws.Sections) {
					pos = len(ws.Sections)
				}
				ws.Sections = append(ws.Sections[:pos], append([]types.Section{section}, ws.Sections[pos:]...)...)
				break
			}
		}
	case "remove":
		for i := range ws.Sections {
			if ws.Sections[i].ID == op.SectionID {
				ws.Sections = append(ws.Sections[:i], ws.Sections[i+1:]...)
				break
			}
		}
	}
}

func renumber(sections []types.Section) {
	for i := range sections {
		sections[i].Order = i
	}
}
