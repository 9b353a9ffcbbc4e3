package worker

import (
	"context"
	"time"

	"graphqueue/internal/db/repositories"
	"graphqueue/internal/graphqueue/upstream"
	"graphqueue/internal/logging"
	"graphqueue/pkg/models"
)

// reconcileRunning reconciles every prompt still marked running against
// upstream truth. At startup, a prompt unknown to both history and the
// live queue is presumed interrupted by a previous process's death and
// marked failed; in the steady-state loop the same situation is left
// alone, since it may simply not have reached the upstream queue yet.
func (w *Worker) reconcileRunning(ctx context.Context, isStartup bool) {
	prompts, err := w.repos.ListRunningPrompts()
	if err != nil {
		logging.Error("listing running prompts for reconciliation: %v", err)
		return
	}

	for _, prompt := range prompts {
		w.reconcileOne(ctx, prompt, isStartup)
	}
}

func (w *Worker) reconcileOne(ctx context.Context, prompt *models.Prompt, isStartup bool) {
	if prompt.UpstreamPromptID == nil {
		if !isStartup {
			return
		}
		w.markInterrupted(prompt)
		return
	}

	entry, err := w.upstream.History(ctx, *prompt.UpstreamPromptID)
	if err == nil && entry != nil {
		switch {
		case entry.Status.Completed:
			now := time.Now()
			exitStatus := entry.Status.StatusStr
			w.finishPrompt(ctx, prompt, models.PromptSucceeded, repositories.PromptUpdate{
				FinishedAt:  &now,
				ExitStatus:  &exitStatus,
				OutputPaths: upstream.Outputs(entry),
			})
			w.recomputeAndFollowUp(ctx, prompt.JobID)
			return
		case entry.Status.StatusStr == "error" || entry.Status.StatusStr == "failed":
			now := time.Now()
			exitStatus := entry.Status.StatusStr
			w.finishPrompt(ctx, prompt, models.PromptFailed, repositories.PromptUpdate{FinishedAt: &now, ExitStatus: &exitStatus})
			w.recomputeAndFollowUp(ctx, prompt.JobID)
			return
		case entry.Status.StatusStr == "canceled":
			now := time.Now()
			exitStatus := entry.Status.StatusStr
			w.finishPrompt(ctx, prompt, models.PromptCanceled, repositories.PromptUpdate{FinishedAt: &now, ExitStatus: &exitStatus})
			w.recomputeAndFollowUp(ctx, prompt.JobID)
			return
		}
		// present but still running: no state change.
		return
	}

	if !w.upstream.Health(ctx) {
		// upstream unreachable; leave as running for a later pass.
		return
	}

	queued, qerr := w.upstream.QueueIDs(ctx)
	if qerr != nil {
		return
	}
	if queued[*prompt.UpstreamPromptID] {
		return
	}

	if !isStartup {
		return
	}
	w.markInterrupted(prompt)
}

func (w *Worker) markInterrupted(prompt *models.Prompt) {
	now := time.Now()
	exitStatus := "interrupted"
	if err := w.repos.UpdatePromptStatus(prompt.ID, models.PromptFailed, repositories.PromptUpdate{
		FinishedAt: &now,
		ExitStatus: &exitStatus,
	}); err != nil {
		logging.Error("marking prompt %d interrupted: %v", prompt.ID, err)
		return
	}
	w.publishPrompt(prompt.JobID, prompt.ID, models.PromptFailed)
	if _, err := w.repos.UpdateJobStatus(prompt.JobID); err != nil {
		logging.Error("recomputing job %d status after interruption: %v", prompt.JobID, err)
	}
}
