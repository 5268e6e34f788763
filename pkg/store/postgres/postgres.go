// Package postgres implements the collaborator stores on PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("postgres: not found")

// Store implements every collaborator store interface on one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New runs pending migrations and returns the store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool must not be nil")
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

// --- ProjectStore ---

func (s *Store) List(ctx context.Context, limit int) ([]types.ProjectBundle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.title, p.kind, p.created_at, p.updated_at,
		       b.desired_outcome, b.audience, b.materials, b.voice_guardrails,
		       b.cadence, b.success_metric, b.committed, b.bypassed_fields
		FROM projects p
		JOIN blueprints b ON b.project_id = p.id
		ORDER BY p.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bundles []types.ProjectBundle
	for rows.Next() {
		bundle, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, bundle)
	}
	return bundles, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (*types.ProjectBundle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT p.id, p.title, p.kind, p.created_at, p.updated_at,
		       b.desired_outcome, b.audience, b.materials, b.voice_guardrails,
		       b.cadence, b.success_metric, b.committed, b.bypassed_fields
		FROM projects p
		JOIN blueprints b ON b.project_id = p.id
		WHERE p.id = $1`, id)
	bundle, err := scanBundle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *Store) Create(ctx context.Context, title, kind string) (*types.ProjectBundle, error) {
	id := uuid.NewString()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO projects (id, title, kind) VALUES ($1, $2, $3)`,
		id, strings.TrimSpace(title), strings.TrimSpace(kind)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO blueprints (project_id) VALUES ($1)`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Store) UpdateMetadata(ctx context.Context, id, title, kind string) (*types.ProjectBundle, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET title = COALESCE(NULLIF($2, ''), title),
		    kind = COALESCE(NULLIF($3, ''), kind),
		    updated_at = now()
		WHERE id = $1`, id, strings.TrimSpace(title), strings.TrimSpace(kind))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

var blueprintColumns = map[string]string{
	"desiredOutcome":  "desired_outcome",
	"audience":        "audience",
	"materials":       "materials",
	"voiceGuardrails": "voice_guardrails",
	"cadence":         "cadence",
	"successMetric":   "success_metric",
}

// ErrUnknownField is returned for a blueprint field name the schema does not
// define.
var ErrUnknownField = errors.New("postgres: unknown blueprint field")

func (s *Store) SyncBlueprintField(ctx context.Context, id, field, value string) (*types.ProjectBundle, error) {
	column, ok := blueprintColumns[field]
	if !ok {
		return nil, ErrUnknownField
	}
	// Column name comes from the fixed map above, never from input.
	query := fmt.Sprintf(`UPDATE blueprints SET %s = $2 WHERE project_id = $1`, column)
	tag, err := s.pool.Exec(ctx, query, id, value)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if _, err := s.pool.Exec(ctx, `UPDATE projects SET updated_at = now() WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Store) CommitBlueprint(ctx context.Context, id string, bypassMissing bool) (*types.ProjectBundle, error) {
	bundle, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	bypassed := bundle.Blueprint.BypassedFields
	if bypassMissing {
		bypassed = append(bypassed, types.MissingFields(bundle.Blueprint)...)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE blueprints SET committed = TRUE, bypassed_fields = $2 WHERE project_id = $1`,
		id, bypassed); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBundle(row rowScanner) (types.ProjectBundle, error) {
	var (
		bundle types.ProjectBundle
		bp     types.Blueprint
	)
	err := row.Scan(
		&bundle.Project.ID, &bundle.Project.Title, &bundle.Project.Kind,
		&bundle.Project.CreatedAt, &bundle.Project.UpdatedAt,
		&bp.DesiredOutcome, &bp.Audience, &bp.Materials, &bp.VoiceGuardrails,
		&bp.Cadence, &bp.SuccessMetric, &bp.Committed, &bp.BypassedFields,
	)
	if err != nil {
		return types.ProjectBundle{}, err
	}
	bundle.ProjectID = bundle.Project.ID
	bundle.Blueprint = bp
	bundle.Summary = types.Summarize(bp)
	return bundle, nil
}

// --- SessionStore ---

func (s *Store) CreateSession(ctx context.Context, rec *types.SessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, project_id, realtime_id, started_at, status, noise_profile, turn_detection, language)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.ProjectID, rec.RealtimeID, rec.StartedAt,
		string(rec.Status), string(rec.NoiseProfile), string(rec.TurnDetection), rec.Language)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.SessionRecord, error) {
	var (
		rec       types.SessionRecord
		projectID *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, realtime_id, started_at, status, noise_profile, turn_detection, language
		FROM sessions WHERE id = $1`, id).Scan(
		&rec.ID, &projectID, &rec.RealtimeID, &rec.StartedAt,
		&rec.Status, &rec.NoiseProfile, &rec.TurnDetection, &rec.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if projectID != nil {
		rec.ProjectID = *projectID
	}
	return &rec, nil
}

func (s *Store) UpdateRealtimeID(ctx context.Context, id, realtimeID string) error {
	return s.execSession(ctx, `UPDATE sessions SET realtime_id = $2 WHERE id = $1`, id, realtimeID)
}

func (s *Store) AssignProject(ctx context.Context, id, projectID string) error {
	return s.execSession(ctx, `UPDATE sessions SET project_id = NULLIF($2, '')::uuid WHERE id = $1`, id, projectID)
}

func (s *Store) SetNoiseProfile(ctx context.Context, id string, profile types.NoiseProfile) error {
	return s.execSession(ctx, `UPDATE sessions SET noise_profile = $2 WHERE id = $1`, id, string(profile))
}

func (s *Store) SetLanguage(ctx context.Context, id, language string) error {
	return s.execSession(ctx, `UPDATE sessions SET language = $2 WHERE id = $1`, id, language)
}

func (s *Store) Complete(ctx context.Context, id string) error {
	// The completed flag makes repeat completion a no-op at the store level
	// too, backing up the controller's latch.
	return s.execSession(ctx, `
		UPDATE sessions SET status = 'ended', completed = TRUE
		WHERE id = $1 AND NOT completed`, id)
}

func (s *Store) execSession(ctx context.Context, query string, args ...any) error {
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

// --- TranscriptStore ---

func (s *Store) AppendMessage(ctx context.Context, sessionID string, frag types.TranscriptFragment) (string, error) {
	durable := uuid.NewString()
	// ON CONFLICT keeps the fragment-id-at-most-once invariant under replays.
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, fragment_id, session_id, speaker, body, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fragment_id) DO UPDATE SET fragment_id = EXCLUDED.fragment_id
		RETURNING id`,
		durable, frag.ID, sessionID, string(frag.Speaker), frag.Text, frag.Timestamp).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) RecordChunk(ctx context.Context, sessionID string, raw json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_chunks (session_id, payload) VALUES ($1, $2)`,
		sessionID, raw)
	return err
}

func (s *Store) Finalize(ctx context.Context, projectID, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcript_finals (session_id, project_id)
		VALUES ($1, NULLIF($2, '')::uuid)
		ON CONFLICT (session_id) DO NOTHING`, sessionID, projectID)
	return err
}

// --- NoteStore ---

func (s *Store) CreateNote(ctx context.Context, note types.Note) (types.Note, error) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notes (id, project_id, kind, body, anchors, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		note.ID, note.ProjectID, string(note.Kind), note.Text, note.Anchors, note.Confidence, note.CreatedAt)
	if err != nil {
		return types.Note{}, err
	}
	if note.Kind == types.NoteTodo {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO todos (id, project_id, body, status, created_at)
			VALUES ($1, $2, $3, 'open', $4)`,
			note.ID, note.ProjectID, note.Text, note.CreatedAt); err != nil {
			return types.Note{}, err
		}
	}
	return note, nil
}

func (s *Store) ListNotes(ctx context.Context, projectID string, kind types.NoteKind) ([]types.Note, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, kind, body, anchors, confidence, created_at
		FROM notes
		WHERE project_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at`, projectID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []types.Note
	for rows.Next() {
		var note types.Note
		if err := rows.Scan(&note.ID, &note.ProjectID, &note.Kind, &note.Text,
			&note.Anchors, &note.Confidence, &note.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func (s *Store) ListTodos(ctx context.Context, projectID string) ([]types.Todo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, body, status, created_at
		FROM todos WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var todos []types.Todo
	for rows.Next() {
		var todo types.Todo
		if err := rows.Scan(&todo.ID, &todo.ProjectID, &todo.Text, &todo.Status, &todo.CreatedAt); err != nil {
			return nil, err
		}
		todos = append(todos, todo)
	}
	return todos, rows.Err()
}

func (s *Store) UpdateTodoStatus(ctx context.Context, todoID string, status types.TodoStatus) (*types.Todo, error) {
	var todo types.Todo
	err := s.pool.QueryRow(ctx, `
		UPDATE todos SET status = $2 WHERE id = $1
		RETURNING id, project_id, body, status, created_at`,
		todoID, string(status)).Scan(&todo.ID, &todo.ProjectID, &todo.Text, &todo.Status, &todo.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &todo, nil
}

// --- WorkspaceStore ---

func (s *Store) GetWorkspace(ctx context.Context, projectID string) (*types.DocumentWorkspace, error) {
	ws := types.DocumentWorkspace{ProjectID: projectID}
	var sections []byte
	err := s.pool.QueryRow(ctx, `
		SELECT markdown, summary, sections, updated_at
		FROM workspaces WHERE project_id = $1`, projectID).
		Scan(&ws.Markdown, &ws.Summary, &sections, &ws.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &types.DocumentWorkspace{ProjectID: projectID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &ws.Sections); err != nil {
			return nil, fmt.Errorf("decode workspace sections: %w", err)
		}
	}
	return &ws, nil
}

func (s *Store) ApplyEdit(ctx context.Context, projectID, markdown string, sections []types.Section, summary string) (*types.DocumentWorkspace, error) {
	encoded, err := json.Marshal(sections)
	if err != nil {
		return nil, fmt.Errorf("encode workspace sections: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workspaces (project_id, markdown, summary, sections, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (project_id) DO UPDATE
		SET markdown = EXCLUDED.markdown, summary = EXCLUDED.summary,
		    sections = EXCLUDED.sections, updated_at = now()`,
		projectID, markdown, summary, encoded)
	if err != nil {
		return nil, err
	}
	return s.GetWorkspace(ctx, projectID)
}

func (s *Store) ManageOutline(ctx context.Context, projectID string, ops []types.OutlineOp) (*types.DocumentWorkspace, error) {
	ws, err := s.GetWorkspace(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		applyOutlineOp(ws, op)
	}
	for i := range ws.Sections {
		ws.Sections[i].Order = i
	}
	return s.ApplyEdit(ctx, projectID, ws.Markdown, ws.Sections, ws.Summary)
}

func applyOutlineOp(ws *types.DocumentWorkspace, op types.OutlineOp) {
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

func (s *Store) EnqueueDraftJob(ctx context.Context, job types.DraftJob) (*types.DraftJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	var promptContext []byte
	if job.PromptContext != nil {
		encoded, err := json.Marshal(job.PromptContext)
		if err != nil {
			return nil, fmt.Errorf("encode prompt context: %w", err)
		}
		promptContext = encoded
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO draft_jobs (id, project_id, session_id, status, summary, urgency, message_refs, transcript_anchors, prompt_context)
		VALUES ($1, $2, NULLIF($3, '')::uuid, 'queued', $4, $5, $6, $7, $8)`,
		job.ID, job.ProjectID, job.SessionID, job.Summary, job.Urgency,
		job.MessageRefs, job.TranscriptAnchors, promptContext)
	if err != nil {
		return nil, err
	}
	return s.GetDraftJob(ctx, job.ID)
}

func (s *Store) UpdateDraftJob(ctx context.Context, job types.DraftJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE draft_jobs
		SET status = $2, summary = $3, error = $4, updated_at = now()
		WHERE id = $1`, job.ID, string(job.Status), job.Summary, job.Error)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetDraftJob(ctx context.Context, id string) (*types.DraftJob, error) {
	var (
		job           types.DraftJob
		sessionID     *string
		promptContext []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, session_id, status, summary, urgency, message_refs, transcript_anchors, prompt_context, error, created_at, updated_at
		FROM draft_jobs WHERE id = $1`, id).Scan(
		&job.ID, &job.ProjectID, &sessionID, &job.Status, &job.Summary, &job.Urgency,
		&job.MessageRefs, &job.TranscriptAnchors, &promptContext, &job.Error,
		&job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		job.SessionID = *sessionID
	}
	if len(promptContext) > 0 {
		if err := json.Unmarshal(promptContext, &job.PromptContext); err != nil {
			return nil, fmt.Errorf("decode prompt context: %w", err)
		}
	}
	return &job, nil
}
