// Package draft bridges synchronous queue_draft_update tool calls to the
// background drafting worker and reports progress back into the live
// conversation over the TOOL_PROGRESS side channel.
package draft

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
	"github.com/ghostwrite-dev/ghostwrite/pkg/store"
)

// PointerResolver translates ephemeral message pointers to durable ids.
type PointerResolver interface {
	ResolvePointer(ephemeral string) (string, bool)
}

// Sender is the outbound side of the control channel. Progress items go
// through it so tests can observe emission without a live socket.
type Sender interface {
	Send(v any) error
}

// Coordinator accepts queue_draft_update calls, persists the job, kicks the
// queue, and emits TOOL_PROGRESS system items as the job advances. Queueing
// never awaits the worker.
type Coordinator struct {
	workspace store.WorkspaceStore
	queue     store.JobQueue
	pointers  PointerResolver
	sink      Sender
	sessionID string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	emitted map[string]struct{}
}

// NewCoordinator builds a coordinator for one session.
func NewCoordinator(workspace store.WorkspaceStore, queue store.JobQueue, pointers PointerResolver, sink Sender, sessionID string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		workspace: workspace,
		queue:     queue,
		pointers:  pointers,
		sink:      sink,
		sessionID: sessionID,
		logger:    logger.With("component", "draft.coordinator"),
		now:       time.Now,
		emitted:   make(map[string]struct{}),
	}
}

// QueueDraftUpdate persists one draft job and returns synchronously with
// status "queued". Message pointers that resolve become durable refs;
// unresolved ones stay as raw transcript anchors, never dropped or invented.
func (c *Coordinator) QueueDraftUpdate(ctx context.Context, projectID string, args map[string]any) (any, error) {
	anchors := types.StringList(args["transcriptAnchors"])
	var refs []string
	for _, ptr := range types.StringList(args["messagePointers"]) {
		if durable, ok := c.pointers.ResolvePointer(ptr); ok {
			refs = append(refs, durable)
			continue
		}
		anchors = append(anchors, ptr)
	}

	job := types.DraftJob{
		ProjectID:         projectID,
		SessionID:         c.sessionID,
		Status:            types.DraftQueued,
		Summary:           types.StringValue(args["summary"]),
		Urgency:           types.StringValue(args["urgency"]),
		MessageRefs:       refs,
		TranscriptAnchors: anchors,
		PromptContext:     types.MapValue(args["promptContext"]),
	}
	stored, err := c.workspace.EnqueueDraftJob(ctx, job)
	if err != nil {
		return nil, core.NewPersistenceError("enqueue draft job", err)
	}

	// Fire and forget. The job row is durable either way; a failed kick only
	// delays pickup.
	if err := c.queue.Push(ctx, stored.ID); err != nil {
		c.logger.Warn("draft queue kick failed", "job_id", stored.ID, "error", err)
	}

	c.logger.Info("draft update queued", "job_id", stored.ID, "project_id", projectID)
	return map[string]any{
		"status":    "queued",
		"projectId": projectID,
		"jobId":     stored.ID,
	}, nil
}

// EmitProgress injects one TOOL_PROGRESS system item into the conversation.
// Repeats of the same job/status/summary/timestamp are suppressed.
func (c *Coordinator) EmitProgress(progress types.DraftProgress) error {
	if progress.Timestamp.IsZero() {
		progress.Timestamp = c.now()
	}
	key := progress.DedupKey()

	c.mu.Lock()
	if _, seen := c.emitted[key]; seen {
		c.mu.Unlock()
		return nil
	}
	c.emitted[key] = struct{}{}
	c.mu.Unlock()

	text, err := types.EncodeTagged(types.TagToolProgress, progress)
	if err != nil {
		return err
	}
	if err := c.sink.Send(types.NewSystemItem(text)); err != nil {
		return err
	}
	// Nudge the model so it can mention the progress without being asked.
	return c.sink.Send(types.ResponseCreate{Type: types.MsgResponseCreate})
}
