package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
	"github.com/ghostwrite-dev/ghostwrite/pkg/draft"
	"github.com/ghostwrite-dev/ghostwrite/pkg/instruct"
	"github.com/ghostwrite-dev/ghostwrite/pkg/realtime"
	"github.com/ghostwrite-dev/ghostwrite/pkg/store"
)

// refreshTimeout bounds the store reads that rebuild the instruction context
// after a tool handler mutates project state.
const refreshTimeout = 3 * time.Second

// Callbacks surface session output to the embedding surface. All fields are
// optional; nil callbacks are skipped.
type Callbacks struct {
	OnStatus     func(status types.SessionStatus, err error)
	OnDelta      func(itemID string, speaker types.Speaker, text string)
	OnTranscript func(frag types.TranscriptFragment)
	OnSpeech     func(speaker types.Speaker, speaking bool)
	OnProgress   func(progress types.DraftProgress)
}

// SessionContext bundles everything owned by one live session generation.
// In-flight effects compare this pointer against the controller's current one
// instead of checking a boolean, because a new session may start immediately
// after a stop.
type SessionContext struct {
	ID         string
	Record     *types.SessionRecord
	Channel    *realtime.Channel
	Normalizer *realtime.Normalizer
	Resolver   *Resolver
	Dispatcher *Dispatcher
	Publisher  *instruct.Publisher
	Drafts     *draft.Coordinator

	cancel context.CancelFunc

	mu           sync.Mutex
	ictx         instruct.Context
	speaking     map[types.Speaker]bool
	seenProgress map[string]struct{}
	realtimeID   string
	completed    bool
}

// Controller owns the session lifecycle: idle, requesting-permissions,
// connecting, connected, ended, with error reachable from any non-idle state.
type Controller struct {
	transport *realtime.Transport
	stores    store.Stores
	queue     store.JobQueue
	creds     realtime.Credentials
	callbacks Callbacks
	logger    *slog.Logger
	diag      *DiagnosticLog

	mu      sync.Mutex
	status  types.SessionStatus
	lastErr error
	cur     *SessionContext
}

// NewController builds an idle controller.
func NewController(transport *realtime.Transport, stores store.Stores, queue store.JobQueue, creds realtime.Credentials, callbacks Callbacks, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		transport: transport,
		stores:    stores,
		queue:     queue,
		creds:     creds,
		callbacks: callbacks,
		logger:    logger.With("component", "session.controller"),
		diag:      NewDiagnosticLog(diagCap),
		status:    types.SessionIdle,
	}
}

// Status returns the current lifecycle state and the terminal error, if any.
func (c *Controller) Status() (types.SessionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// Diagnostics returns the recent in-memory diagnostic entries.
func (c *Controller) Diagnostics() []string {
	return c.diag.Entries()
}

// Current returns the live session context, nil when no session is up.
func (c *Controller) Current() *SessionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Start brings up a session. Calling while one is connecting or connected is
// a no-op. Setup failure tears down whatever came up and reports one
// terminal error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case types.SessionPermissions, types.SessionConnecting, types.SessionConnected:
		c.mu.Unlock()
		c.logger.Debug("start ignored, session already up", "status", string(c.status))
		return nil
	}
	c.setStatusLocked(types.SessionPermissions, nil)
	c.mu.Unlock()

	record := &types.SessionRecord{
		Status:        types.SessionConnecting,
		TurnDetection: types.TurnSemantic,
		NoiseProfile:  types.NoiseNearField,
	}
	if err := c.stores.Sessions.CreateSession(ctx, record); err != nil {
		perr := core.NewPersistenceError("create session", err)
		c.fail(nil, perr)
		return perr
	}
	c.setStatus(types.SessionConnecting, nil)
	c.diag.Addf("session %s connecting", record.ID)

	channel, err := c.transport.Open(ctx, c.creds)
	if err != nil {
		c.abortSetup(record.ID, err)
		return err
	}
	if err := channel.WaitOpen(ctx); err != nil {
		channel.Close()
		c.abortSetup(record.ID, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	logger := c.logger.With("session_id", record.ID)
	resolver := NewResolver(logger)
	normalizer := realtime.NewNormalizer(logger)
	publisher := instruct.NewPublisher(channel, logger, 0)
	dispatcher := NewDispatcher(channel, publisher, logger)
	coordinator := draft.NewCoordinator(c.stores.Workspace, c.queue, resolver, channel, record.ID, logger)

	sc := &SessionContext{
		ID:           record.ID,
		Record:       record,
		Channel:      channel,
		Normalizer:   normalizer,
		Resolver:     resolver,
		Dispatcher:   dispatcher,
		Publisher:    publisher,
		Drafts:       coordinator,
		cancel:       cancel,
		speaking:     make(map[types.Speaker]bool),
		seenProgress: make(map[string]struct{}),
	}
	handlers := NewHandlers(c.stores, resolver, coordinator, record.ID, c.hooksFor(sc), logger)
	handlers.RegisterAll(dispatcher)

	c.mu.Lock()
	c.cur = sc
	c.setStatusLocked(types.SessionConnected, nil)
	c.mu.Unlock()
	c.diag.Addf("session %s connected", record.ID)

	publisher.Update(instruct.ModeIntake, instruct.Context{})
	publisher.Flush()
	publisher.SetTurnDetection(record.TurnDetection)
	publisher.SetNoiseProfile(record.NoiseProfile)

	go c.run(runCtx, sc)
	return nil
}

// Stop tears the session down, completes the session record, and finalizes
// the transcript. Double calls are safe; the completion pair runs at most
// once per session.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	sc := c.cur
	c.cur = nil
	if sc == nil {
		if c.status == types.SessionIdle || c.status == types.SessionEnded || c.status == types.SessionError {
			c.mu.Unlock()
			return nil
		}
		c.setStatusLocked(types.SessionEnded, nil)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.shutdown(ctx, sc)
	c.setStatus(types.SessionEnded, nil)
	c.diag.Addf("session %s ended", sc.ID)
	return nil
}

// SendText injects a typed user message into the live conversation.
func (c *Controller) SendText(text string) error {
	sc := c.Current()
	if sc == nil {
		return core.NewSessionStateError("no session connected")
	}
	item := types.ItemCreate{
		Type: types.MsgItemCreate,
		Item: types.Item{
			Type: "message",
			Role: "user",
			Content: []types.ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
	if err := sc.Channel.Send(item); err != nil {
		return err
	}
	return sc.Channel.Send(types.ResponseCreate{Type: types.MsgResponseCreate})
}

func (c *Controller) run(ctx context.Context, sc *SessionContext) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sc.Channel.Events():
			if !ok {
				if c.Current() != sc {
					return
				}
				cause := sc.Channel.Err()
				c.mu.Lock()
				c.cur = nil
				c.mu.Unlock()
				c.shutdown(context.Background(), sc)
				if cause != nil {
					c.fail(nil, cause)
				} else {
					c.setStatus(types.SessionEnded, nil)
				}
				return
			}
			if c.Current() != sc {
				return
			}
			c.handleEvent(ctx, sc, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, sc *SessionContext, ev realtime.RawEvent) {
	// Deltas arrive far too often to audit; everything else is recorded.
	if !strings.HasSuffix(ev.Type, ".delta") {
		if err := c.stores.Transcripts.RecordChunk(ctx, sc.ID, ev.Raw); err != nil {
			c.logger.Warn("chunk record failed", "type", ev.Type, "error", err)
		}
	}
	if ev.Type == "session.created" || ev.Type == "session.updated" {
		c.captureRealtimeID(ctx, sc, ev.Payload)
	}

	for _, update := range sc.Normalizer.Normalize(ev) {
		switch u := update.(type) {
		case realtime.TranscriptDelta:
			if c.callbacks.OnDelta != nil {
				c.callbacks.OnDelta(u.ItemID, u.Speaker, u.Text)
			}
		case realtime.TranscriptFinal:
			c.persistFragment(ctx, sc, u.Fragment)
		case realtime.SpeechToggle:
			sc.mu.Lock()
			sc.speaking[u.Speaker] = u.Speaking
			sc.mu.Unlock()
			if c.callbacks.OnSpeech != nil {
				c.callbacks.OnSpeech(u.Speaker, u.Speaking)
			}
		case realtime.ToolCalls:
			sc.Dispatcher.Observe(ctx, u.Calls)
		case realtime.DraftProgressUpdate:
			c.handleProgress(sc, u.Progress)
		}
	}
}

func (c *Controller) persistFragment(ctx context.Context, sc *SessionContext, frag types.TranscriptFragment) {
	durable, err := c.stores.Transcripts.AppendMessage(ctx, sc.ID, frag)
	if err != nil {
		c.logger.Warn("transcript append failed", "fragment_id", frag.ID, "error", err)
		c.diag.Addf("transcript append failed: %v", err)
	} else {
		sc.Resolver.AddPointer(frag.ID, durable)
	}
	if c.callbacks.OnTranscript != nil {
		c.callbacks.OnTranscript(frag)
	}
}

func (c *Controller) handleProgress(sc *SessionContext, progress types.DraftProgress) {
	key := progress.DedupKey()
	sc.mu.Lock()
	if _, seen := sc.seenProgress[key]; seen {
		sc.mu.Unlock()
		return
	}
	sc.seenProgress[key] = struct{}{}
	line := fmt.Sprintf("job %s is %s", progress.JobID, progress.Status)
	if progress.Summary != "" {
		line += ": " + progress.Summary
	}
	if progress.Error != "" {
		line += " (" + progress.Error + ")"
	}
	sc.ictx.LatestProgress = line
	ictx := sc.ictx
	sc.mu.Unlock()

	sc.Publisher.Update(instruct.DeriveMode(ictx.Project), ictx)
	if progress.Status == types.DraftError {
		c.diag.Addf("draft job %s failed: %s", progress.JobID, progress.Error)
	}
	if c.callbacks.OnProgress != nil {
		c.callbacks.OnProgress(progress)
	}
}

func (c *Controller) captureRealtimeID(ctx context.Context, sc *SessionContext, payload map[string]any) {
	session, ok := payload["session"].(map[string]any)
	if !ok {
		return
	}
	id, _ := session["id"].(string)
	if id == "" {
		return
	}
	sc.mu.Lock()
	known := sc.realtimeID
	sc.realtimeID = id
	sc.mu.Unlock()
	if known == id {
		return
	}
	if err := c.stores.Sessions.UpdateRealtimeID(ctx, sc.ID, id); err != nil {
		c.logger.Warn("realtime id write failed", "error", err)
	}
}

// hooksFor wires tool-handler notifications into the instruction publisher
// for one session generation.
func (c *Controller) hooksFor(sc *SessionContext) Hooks {
	return Hooks{
		ProjectChanged: func(bundle *types.ProjectBundle) {
			if c.Current() != sc {
				return
			}
			c.refreshInstructions(sc, bundle)
		},
		LanguageChanged: func(language string) {
			if c.Current() != sc {
				return
			}
			sc.mu.Lock()
			sc.ictx.Language = language
			ictx := sc.ictx
			sc.mu.Unlock()
			sc.Publisher.Update(instruct.DeriveMode(ictx.Project), ictx)
		},
		NoiseChanged: func(profile types.NoiseProfile) {
			if c.Current() != sc {
				return
			}
			sc.Publisher.SetNoiseProfile(profile)
		},
	}
}

// refreshInstructions rebuilds the dynamic instruction context after project
// state changed. Ghostwriting mode folds in the open TODOs and the outline;
// failures there degrade to a staler fragment, never to a session fault.
func (c *Controller) refreshInstructions(sc *SessionContext, bundle *types.ProjectBundle) {
	sc.mu.Lock()
	sc.ictx.Project = bundle
	ictx := sc.ictx
	sc.mu.Unlock()

	mode := instruct.DeriveMode(bundle)
	if mode == instruct.ModeGhostwriting && bundle != nil {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if todos, err := c.stores.Notes.ListTodos(ctx, bundle.ProjectID); err == nil {
			ictx.OpenTodos = todos
		} else {
			c.logger.Warn("todo refresh failed", "error", err)
		}
		if ws, err := c.stores.Workspace.GetWorkspace(ctx, bundle.ProjectID); err == nil {
			ictx.Sections = ws.Sections
		} else {
			c.logger.Warn("workspace refresh failed", "error", err)
		}
		sc.mu.Lock()
		sc.ictx = ictx
		sc.mu.Unlock()
	}
	sc.Publisher.Update(mode, ictx)
}

// shutdown tears down one session generation and runs the one-time
// completion pair behind the context's latch.
func (c *Controller) shutdown(ctx context.Context, sc *SessionContext) {
	sc.cancel()
	sc.Publisher.Stop()
	sc.Channel.Close()
	sc.Dispatcher.Reset()
	sc.Normalizer.Reset()

	sc.mu.Lock()
	done := sc.completed
	sc.completed = true
	var projectID string
	if sc.ictx.Project != nil {
		projectID = sc.ictx.Project.ProjectID
	}
	sc.mu.Unlock()

	if !done {
		if err := c.stores.Sessions.Complete(ctx, sc.ID); err != nil {
			c.logger.Warn("session completion failed", "session_id", sc.ID, "error", err)
			c.diag.Addf("session completion failed: %v", err)
		}
		if err := c.stores.Transcripts.Finalize(ctx, projectID, sc.ID); err != nil {
			c.logger.Warn("transcript finalize failed", "session_id", sc.ID, "error", err)
			c.diag.Addf("transcript finalize failed: %v", err)
		}
	}

	sc.Resolver.Reset()
}

// abortSetup completes a session record whose channel never came up, so a
// failed start never leaves a record stuck in connecting. The record write
// uses a fresh context because the caller's may already be cancelled.
func (c *Controller) abortSetup(sessionID string, cause error) {
	if err := c.stores.Sessions.Complete(context.Background(), sessionID); err != nil {
		c.logger.Warn("session completion failed", "session_id", sessionID, "error", err)
		c.diag.Addf("session completion failed: %v", err)
	}
	c.fail(nil, cause)
}

func (c *Controller) fail(sc *SessionContext, err error) {
	c.mu.Lock()
	if sc != nil && c.cur == sc {
		c.cur = nil
	}
	c.setStatusLocked(types.SessionError, err)
	c.mu.Unlock()
	c.logger.Error("session failed", "error", err)
	c.diag.Addf("session failed: %v", err)
}

func (c *Controller) setStatus(status types.SessionStatus, err error) {
	c.mu.Lock()
	c.setStatusLocked(status, err)
	c.mu.Unlock()
}

// setStatusLocked updates state and schedules the status callback. The
// callback runs on its own goroutine so callers holding c.mu cannot deadlock
// against a callback that reads Status.
func (c *Controller) setStatusLocked(status types.SessionStatus, err error) {
	c.status = status
	c.lastErr = err
	if cb := c.callbacks.OnStatus; cb != nil {
		go cb(status, err)
	}
}
