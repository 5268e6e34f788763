package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
	"github.com/ghostwrite-dev/ghostwrite/pkg/instruct"
	"github.com/ghostwrite-dev/ghostwrite/pkg/store"
)

// DraftQueuer bridges the queue_draft_update tool to the asynchronous
// drafting pipeline. The call returns synchronously once the job is queued.
type DraftQueuer interface {
	QueueDraftUpdate(ctx context.Context, projectID string, args map[string]any) (any, error)
}

// Hooks let tool handlers notify the session controller of state the
// instruction publisher depends on.
type Hooks struct {
	ProjectChanged  func(*types.ProjectBundle)
	LanguageChanged func(language string)
	NoiseChanged    func(profile types.NoiseProfile)
}

// Handlers implements the tool catalog against the collaborator stores.
type Handlers struct {
	stores    store.Stores
	resolver  *Resolver
	drafts    DraftQueuer
	sessionID string
	hooks     Hooks
	logger    *slog.Logger
}

// NewHandlers binds the tool handlers to a session's stores and resolver.
func NewHandlers(stores store.Stores, resolver *Resolver, drafts DraftQueuer, sessionID string, hooks Hooks, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		stores:    stores,
		resolver:  resolver,
		drafts:    drafts,
		sessionID: sessionID,
		hooks:     hooks,
		logger:    logger.With("component", "session.handlers"),
	}
}

// RegisterAll installs every tool handler on the dispatcher.
func (h *Handlers) RegisterAll(d *Dispatcher) {
	d.Register(instruct.ToolListProjects, h.listProjects)
	d.Register(instruct.ToolCreateProject, h.createProject)
	d.Register(instruct.ToolSelectProject, h.selectProject)
	d.Register(instruct.ToolUpdateProject, h.updateProject)
	d.Register(instruct.ToolSyncBlueprint, h.syncBlueprintField)
	d.Register(instruct.ToolCommitBlueprint, h.commitBlueprint)
	d.Register(instruct.ToolCreateNote, h.createNote)
	d.Register(instruct.ToolListNotes, h.listNotes)
	d.Register(instruct.ToolUpdateTodoStatus, h.updateTodoStatus)
	d.Register(instruct.ToolGetDraft, h.getDraft)
	d.Register(instruct.ToolManageOutline, h.manageOutline)
	d.Register(instruct.ToolQueueDraftUpdate, h.queueDraftUpdate)
	d.Register(instruct.ToolSetNoiseProfile, h.setNoiseProfile)
	d.Register(instruct.ToolSetLanguage, h.setLanguage)
}

func (h *Handlers) listProjects(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	limit := 20
	if n := types.FloatValue(call.Args["limit"]); n != nil && *n > 0 {
		limit = int(*n)
	}
	bundles, err := h.stores.Projects.List(ctx, limit)
	if err != nil {
		return nil, core.NewPersistenceError("list projects", err)
	}
	h.resolver.CacheListing(bundles)
	return map[string]any{"projects": bundles}, nil
}

func (h *Handlers) createProject(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	title := types.StringValue(call.Args["title"])
	kind := types.StringValue(call.Args["kind"])
	bundle, err := h.stores.Projects.Create(ctx, title, kind)
	if err != nil {
		return nil, core.NewPersistenceError("create project", err)
	}
	if err := h.assignProject(ctx, bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (h *Handlers) selectProject(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	bundle, err := h.stores.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, core.NewPersistenceError("get project", err)
	}
	if err := h.assignProject(ctx, bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (h *Handlers) updateProject(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	bundle, err := h.stores.Projects.UpdateMetadata(ctx, projectID,
		types.StringValue(call.Args["title"]), types.StringValue(call.Args["kind"]))
	if err != nil {
		return nil, core.NewPersistenceError("update project", err)
	}
	h.notifyProject(bundle)
	return bundle, nil
}

func (h *Handlers) syncBlueprintField(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	field := types.StringValue(call.Args["field"])
	value := types.StringValue(call.Args["value"])
	bundle, err := h.stores.Projects.SyncBlueprintField(ctx, projectID, field, value)
	if err != nil {
		return nil, core.NewPersistenceError("sync blueprint field", err)
	}
	h.notifyProject(bundle)
	return bundle, nil
}

func (h *Handlers) commitBlueprint(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	bypass, _ := call.Args["bypassMissing"].(bool)
	bundle, err := h.stores.Projects.CommitBlueprint(ctx, projectID, bypass)
	if err != nil {
		return nil, core.NewPersistenceError("commit blueprint", err)
	}
	h.notifyProject(bundle)
	return bundle, nil
}

func (h *Handlers) createNote(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	anchors := h.resolveAnchors(types.StringList(call.Args["messagePointers"]))
	note := types.Note{
		ProjectID:  projectID,
		Kind:       types.NoteKind(types.StringValue(call.Args["kind"])),
		Text:       types.StringValue(call.Args["text"]),
		Anchors:    anchors,
		Confidence: types.FloatValue(call.Args["confidence"]),
	}
	created, err := h.stores.Notes.CreateNote(ctx, note)
	if err != nil {
		return nil, core.NewPersistenceError("create note", err)
	}
	return created, nil
}

func (h *Handlers) listNotes(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	kind := types.NoteKind(types.StringValue(call.Args["kind"]))
	notes, err := h.stores.Notes.ListNotes(ctx, projectID, kind)
	if err != nil {
		return nil, core.NewPersistenceError("list notes", err)
	}
	todos, err := h.stores.Notes.ListTodos(ctx, projectID)
	if err != nil {
		return nil, core.NewPersistenceError("list todos", err)
	}
	return map[string]any{"notes": notes, "todos": todos}, nil
}

func (h *Handlers) updateTodoStatus(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	todoID := types.StringValue(call.Args["todoId"])
	status := types.TodoStatus(types.StringValue(call.Args["status"]))
	todo, err := h.stores.Notes.UpdateTodoStatus(ctx, todoID, status)
	if err != nil {
		return nil, core.NewPersistenceError("update todo", err)
	}
	return todo, nil
}

func (h *Handlers) getDraft(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	ws, err := h.stores.Workspace.GetWorkspace(ctx, projectID)
	if err != nil {
		return nil, core.NewPersistenceError("get workspace", err)
	}
	return ws, nil
}

func (h *Handlers) manageOutline(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	ops, err := decodeOutlineOps(call.Args["ops"])
	if err != nil {
		return nil, err
	}
	ws, err := h.stores.Workspace.ManageOutline(ctx, projectID, ops)
	if err != nil {
		return nil, core.NewPersistenceError("manage outline", err)
	}
	return ws, nil
}

func (h *Handlers) queueDraftUpdate(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	projectID, err := h.resolver.ResolveProject(call.Args)
	if err != nil {
		return nil, err
	}
	return h.drafts.QueueDraftUpdate(ctx, projectID, call.Args)
}

func (h *Handlers) setNoiseProfile(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	profile := types.NoiseProfile(types.StringValue(call.Args["profile"]))
	if err := h.stores.Sessions.SetNoiseProfile(ctx, h.sessionID, profile); err != nil {
		return nil, core.NewPersistenceError("set noise profile", err)
	}
	if h.hooks.NoiseChanged != nil {
		h.hooks.NoiseChanged(profile)
	}
	return map[string]any{"profile": string(profile)}, nil
}

func (h *Handlers) setLanguage(ctx context.Context, call types.ToolCallInvocation) (any, error) {
	language := types.StringValue(call.Args["language"])
	if err := h.stores.Sessions.SetLanguage(ctx, h.sessionID, language); err != nil {
		return nil, core.NewPersistenceError("set language", err)
	}
	if h.hooks.LanguageChanged != nil {
		h.hooks.LanguageChanged(language)
	}
	return map[string]any{"language": language}, nil
}

// assignProject records the project on the session and swings the resolver
// and publisher to it.
func (h *Handlers) assignProject(ctx context.Context, bundle *types.ProjectBundle) error {
	if err := h.stores.Sessions.AssignProject(ctx, h.sessionID, bundle.ProjectID); err != nil {
		return core.NewPersistenceError("assign project", err)
	}
	h.resolver.SetSessionProject(bundle.ProjectID)
	h.notifyProject(bundle)
	return nil
}

func (h *Handlers) notifyProject(bundle *types.ProjectBundle) {
	if h.hooks.ProjectChanged != nil {
		h.hooks.ProjectChanged(bundle)
	}
}

// resolveAnchors maps each ephemeral pointer to its durable message id when
// the pointer table has one, and keeps the raw pointer as an anchor string
// when it does not. Pointers are never dropped or invented.
func (h *Handlers) resolveAnchors(pointers []string) []string {
	if len(pointers) == 0 {
		return nil
	}
	anchors := make([]string, 0, len(pointers))
	for _, ptr := range pointers {
		if durable, ok := h.resolver.ResolvePointer(ptr); ok {
			anchors = append(anchors, durable)
			continue
		}
		anchors = append(anchors, ptr)
	}
	return anchors
}

func decodeOutlineOps(v any) ([]types.OutlineOp, error) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil, core.NewMissingArgumentError("manage_outline requires a non-empty ops array", "ops")
	}
	ops := make([]types.OutlineOp, 0, len(items))
	for _, item := range items {
		m := types.MapValue(item)
		if m == nil {
			return nil, core.NewInvalidRequestError(fmt.Sprintf("outline op is not an object: %v", item))
		}
		op := types.OutlineOp{
			Op:    types.StringValue(m["op"]),
			Title: types.StringValue(m["title"]),
		}
		if op.SectionID = types.StringValue(m["sectionId"]); op.SectionID == "" {
			op.SectionID = types.StringValue(m["section_id"])
		}
		if n := types.FloatValue(m["position"]); n != nil {
			op.Position = int(*n)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
