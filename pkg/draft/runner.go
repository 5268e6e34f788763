package draft

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
	"github.com/ghostwrite-dev/ghostwrite/pkg/ghostwriter"
	"github.com/ghostwrite-dev/ghostwrite/pkg/store"
)

// ProgressEmitter reports job progress back into the conversation.
type ProgressEmitter interface {
	EmitProgress(progress types.DraftProgress) error
}

// Runner pops queued draft-job ids and executes them with the ghostwriting
// worker. Failures mark the job errored and surface over TOOL_PROGRESS; they
// never terminate the runner or the session.
type Runner struct {
	queue    store.JobQueue
	stores   store.Stores
	worker   ghostwriter.Worker
	progress ProgressEmitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner builds a runner over queue and stores.
func NewRunner(queue store.JobQueue, stores store.Stores, worker ghostwriter.Worker, progress ProgressEmitter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:    queue,
		stores:   stores,
		worker:   worker,
		progress: progress,
		logger:   logger.With("component", "draft.runner"),
		now:      time.Now,
	}
}

// Run processes jobs until ctx ends or the queue closes.
func (r *Runner) Run(ctx context.Context) error {
	for {
		jobID, err := r.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		r.Process(ctx, jobID)
	}
}

// Process executes one job end to end.
func (r *Runner) Process(ctx context.Context, jobID string) {
	job, err := r.stores.Workspace.GetDraftJob(ctx, jobID)
	if err != nil {
		r.logger.Warn("draft job load failed", "job_id", jobID, "error", err)
		return
	}

	job.Status = types.DraftRunning
	if err := r.stores.Workspace.UpdateDraftJob(ctx, *job); err != nil {
		r.logger.Warn("draft job status write failed", "job_id", jobID, "error", err)
	}
	r.emit(*job)

	result, err := r.draft(ctx, job)
	if err != nil {
		job.Status = types.DraftError
		job.Error = err.Error()
		if uerr := r.stores.Workspace.UpdateDraftJob(ctx, *job); uerr != nil {
			r.logger.Warn("draft job status write failed", "job_id", jobID, "error", uerr)
		}
		r.emit(*job)
		r.logger.Warn("draft job failed", "job_id", jobID, "error", err)
		return
	}

	job.Status = types.DraftComplete
	job.Summary = result.Summary
	if err := r.stores.Workspace.UpdateDraftJob(ctx, *job); err != nil {
		r.logger.Warn("draft job status write failed", "job_id", jobID, "error", err)
	}
	r.emit(*job)
	r.logger.Info("draft job complete", "job_id", jobID, "project_id", job.ProjectID)
}

func (r *Runner) draft(ctx context.Context, job *types.DraftJob) (ghostwriter.DraftResult, error) {
	bundle, err := r.stores.Projects.Get(ctx, job.ProjectID)
	if err != nil {
		return ghostwriter.DraftResult{}, err
	}
	notes, err := r.stores.Notes.ListNotes(ctx, job.ProjectID, "")
	if err != nil {
		return ghostwriter.DraftResult{}, err
	}
	ws, err := r.stores.Workspace.GetWorkspace(ctx, job.ProjectID)
	if err != nil {
		return ghostwriter.DraftResult{}, err
	}

	result, err := r.worker.Draft(ctx, ghostwriter.DraftRequest{
		Project:   *bundle,
		Notes:     notes,
		Workspace: *ws,
		Job:       *job,
	})
	if err != nil {
		return ghostwriter.DraftResult{}, err
	}

	if _, err := r.stores.Workspace.ApplyEdit(ctx, job.ProjectID, result.Markdown, result.Sections, result.Summary); err != nil {
		return ghostwriter.DraftResult{}, err
	}
	return result, nil
}

func (r *Runner) emit(job types.DraftJob) {
	if r.progress == nil {
		return
	}
	err := r.progress.EmitProgress(types.DraftProgress{
		JobID:     job.ID,
		Status:    job.Status,
		Summary:   job.Summary,
		Error:     job.Error,
		Timestamp: r.now(),
	})
	if err != nil {
		r.logger.Warn("progress emission failed", "job_id", job.ID, "error", err)
	}
}
