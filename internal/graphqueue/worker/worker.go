// Package worker implements the single long-running background task that
// drains the queue store: claim the next pending prompt, submit it to the
// upstream graph runner, poll it to completion, and fold the outcome back
// into the job/prompt rows. Deliberately single-goroutine — at most one
// Worker runs against a given queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"graphqueue/internal/db/repositories"
	"graphqueue/internal/events"
	"graphqueue/internal/graphqueue/upstream"
	"graphqueue/internal/logging"
	"graphqueue/internal/telemetry"
	"graphqueue/pkg/models"
)

const (
	idleSleep          = 1 * time.Second
	pausedSleep        = 1 * time.Second
	pollInterval       = 2 * time.Second
	pollTimeout        = 7200 * time.Second
	healthSnapshotCron = "0 * * * * *" // once a minute, seconds-precision cron
)

var backoffSequence = []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second}

// Worker drains one queue store against one upstream client.
type Worker struct {
	repos     *repositories.Repositories
	upstream  *upstream.Client
	events    *events.Engine
	telemetry *telemetry.Telemetry
	logDir    string

	healthCron *cron.Cron

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Worker. events may be nil (the events package's publish
// methods are nil-safe no-ops).
func New(repos *repositories.Repositories, upstreamClient *upstream.Client, eventsEngine *events.Engine, logDir string) *Worker {
	tel, err := telemetry.New()
	if err != nil {
		logging.Error("starting telemetry: %v", err)
	}
	return &Worker{
		repos:     repos,
		upstream:  upstreamClient,
		events:    eventsEngine,
		telemetry: tel,
		logDir:    logDir,
	}
}

// Start launches the main loop and the periodic health-snapshot cron.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.reconcileRunning(ctx, true)

	w.wg.Add(1)
	go w.run(ctx)

	w.healthCron = cron.New(cron.WithSeconds(), cron.WithLogger(cron.VerbosePrintfLogger(log.New(log.Writer(), "WORKER-HEALTH: ", log.LstdFlags))))
	if _, err := w.healthCron.AddFunc(healthSnapshotCron, func() { w.logHealthSnapshot(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduling health snapshot: %w", err)
	}
	w.healthCron.Start()

	w.running = true
	logging.Info("worker started")
	return nil
}

// Stop cancels the main loop and waits up to timeout for it to exit.
func (w *Worker) Stop(timeout time.Duration) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	healthCron := w.healthCron
	w.mu.Unlock()

	cancel()
	if healthCron != nil {
		stopCtx := healthCron.Stop()
		<-stopCtx.Done()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logging.Error("worker did not stop within %s", timeout)
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	logging.Info("worker stopped")
}

func (w *Worker) logHealthSnapshot(ctx context.Context) {
	counts, err := w.repos.QueueCounts()
	if err != nil {
		logging.Error("health snapshot: reading queue counts: %v", err)
		return
	}
	healthy := w.upstream.Health(ctx)
	logging.Info("queue snapshot: pending=%d running=%d upstream_healthy=%v", counts.Pending, counts.Running, healthy)
}

// run is the cooperative main loop described by the worker/scheduler state
// machine: pause, backoff, reconcile, claim, dispatch, poll, record.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	backoffIndex := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		paused, err := w.repos.Queue.IsPaused()
		if err != nil {
			logging.Error("checking pause state: %v", err)
			if sleepOrDone(ctx, pausedSleep) {
				return
			}
			continue
		}
		if paused {
			if sleepOrDone(ctx, pausedSleep) {
				return
			}
			continue
		}

		if !w.upstream.Health(ctx) {
			delay := backoffSequence[backoffIndex]
			if backoffIndex < len(backoffSequence)-1 {
				backoffIndex++
			}
			logging.Error("upstream unhealthy, backing off %s", delay)
			if sleepOrDone(ctx, delay) {
				return
			}
			continue
		}
		backoffIndex = 0

		w.reconcileRunning(ctx, false)

		prompt, err := w.repos.NextPendingPrompt()
		if err != nil {
			logging.Error("claiming next prompt: %v", err)
			if sleepOrDone(ctx, idleSleep) {
				return
			}
			continue
		}
		if prompt == nil {
			if sleepOrDone(ctx, idleSleep) {
				return
			}
			continue
		}

		w.processPrompt(ctx, prompt)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

// processPrompt dispatches a single claimed prompt end to end: cancel
// check, submit, poll, record, job-status recompute, move-processed.
func (w *Worker) processPrompt(ctx context.Context, prompt *models.Prompt) {
	cancelRequested, err := w.repos.IsCancelRequested(prompt.JobID)
	if err != nil {
		logging.Error("checking cancel_requested for job %d: %v", prompt.JobID, err)
	}
	if cancelRequested {
		w.finishPrompt(ctx, prompt, models.PromptCanceled, repositories.PromptUpdate{})
		w.recomputeAndFollowUp(ctx, prompt.JobID)
		return
	}

	now := time.Now()
	runningCtx, runningSpan := w.telemetry.StartPromptSpan(ctx, prompt.JobID, prompt.ID, string(models.PromptRunning))
	err = w.repos.UpdatePromptStatus(prompt.ID, models.PromptRunning, repositories.PromptUpdate{StartedAt: &now})
	w.telemetry.EndPromptSpan(runningCtx, runningSpan, string(models.PromptRunning), err)
	if err != nil {
		logging.Error("marking prompt %d running: %v", prompt.ID, err)
		return
	}
	w.publishPrompt(prompt.JobID, prompt.ID, models.PromptRunning)
	if _, err := w.repos.UpdateJobStatus(prompt.JobID); err != nil {
		logging.Error("recomputing job %d status: %v", prompt.JobID, err)
	} else {
		w.publishJob(prompt.JobID, models.JobRunning)
	}

	upstreamID, err := w.upstream.QueuePrompt(ctx, []byte(prompt.PromptJSON))
	if err != nil {
		exitStatus, detail := classifyUpstreamError(err)
		w.appendLog(prompt.JobID, prompt.ID, fmt.Sprintf("submit failed: %s", detail))
		w.finishPrompt(ctx, prompt, models.PromptFailed, repositories.PromptUpdate{
			ExitStatus:  &exitStatus,
			ErrorDetail: &detail,
		})
		w.recomputeAndFollowUp(ctx, prompt.JobID)
		return
	}

	w.appendLog(prompt.JobID, prompt.ID, fmt.Sprintf("submitted as upstream prompt %s", upstreamID))
	if err := w.repos.UpdatePromptStatus(prompt.ID, models.PromptRunning, repositories.PromptUpdate{UpstreamPromptID: &upstreamID}); err != nil {
		logging.Error("recording upstream_prompt_id for prompt %d: %v", prompt.ID, err)
	}

	result := w.upstream.PollUntilDone(ctx, upstreamID, pollInterval, pollTimeout)

	var finalStatus models.PromptStatus
	update := repositories.PromptUpdate{}
	now = time.Now()
	update.FinishedAt = &now

	if result.OK {
		finalStatus = models.PromptSucceeded
		exitStatus := result.StatusStr
		update.ExitStatus = &exitStatus
		if entry, histErr := w.upstream.History(ctx, upstreamID); histErr == nil && entry != nil {
			update.OutputPaths = upstream.Outputs(entry)
		}
		w.appendLog(prompt.JobID, prompt.ID, "succeeded")
	} else {
		finalStatus = models.PromptFailed
		exitStatus := result.StatusStr
		update.ExitStatus = &exitStatus
		w.appendLog(prompt.JobID, prompt.ID, fmt.Sprintf("failed: %s", result.StatusStr))
	}

	w.finishPrompt(ctx, prompt, finalStatus, update)

	if cancelRequested, err := w.repos.IsCancelRequested(prompt.JobID); err == nil && cancelRequested {
		if _, err := w.repos.CancelPendingPrompts(prompt.JobID); err != nil {
			logging.Error("canceling remaining prompts for job %d: %v", prompt.JobID, err)
		}
	}

	w.recomputeAndFollowUp(ctx, prompt.JobID)
}

func (w *Worker) finishPrompt(ctx context.Context, prompt *models.Prompt, status models.PromptStatus, update repositories.PromptUpdate) {
	spanCtx, span := w.telemetry.StartPromptSpan(ctx, prompt.JobID, prompt.ID, string(status))
	err := w.repos.UpdatePromptStatus(prompt.ID, status, update)
	w.telemetry.EndPromptSpan(spanCtx, span, string(status), err)
	if err != nil {
		logging.Error("recording prompt %d outcome: %v", prompt.ID, err)
		return
	}
	w.publishPrompt(prompt.JobID, prompt.ID, status)
}

func (w *Worker) recomputeAndFollowUp(ctx context.Context, jobID int64) {
	status, err := w.repos.UpdateJobStatus(jobID)
	if err != nil {
		logging.Error("recomputing job %d status: %v", jobID, err)
		return
	}
	w.publishJob(jobID, status)

	if status != models.JobSucceeded {
		return
	}
	job, err := w.repos.Jobs.GetJob(jobID)
	if err != nil {
		logging.Error("loading job %d for move-processed: %v", jobID, err)
		return
	}
	if job.MoveProcessed {
		w.moveProcessed(job)
	}
}

func (w *Worker) appendLog(jobID, promptID int64, line string) {
	if err := os.MkdirAll(w.logDir, 0o755); err != nil {
		logging.Error("creating log dir: %v", err)
		return
	}
	path := filepath.Join(w.logDir, fmt.Sprintf("%d_%d.log", jobID, promptID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logging.Error("opening prompt log %s: %v", path, err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", time.Now().Format(time.RFC3339), line)

	if err := w.repos.SetJobLogPath(jobID, path); err != nil {
		logging.Error("recording log path for job %d: %v", jobID, err)
	}
}

func (w *Worker) publishJob(jobID int64, status models.JobStatus) {
	_ = w.events.PublishJobEvent(events.JobEvent{JobID: jobID, Status: string(status), Timestamp: time.Now()})
}

func (w *Worker) publishPrompt(jobID, promptID int64, status models.PromptStatus) {
	_ = w.events.PublishPromptEvent(events.PromptEvent{JobID: jobID, PromptID: promptID, Status: string(status), Timestamp: time.Now()})
}

// classifyUpstreamError maps the upstream client's sentinel error kinds
// onto the exit_status vocabulary the queue store persists.
func classifyUpstreamError(err error) (exitStatus, detail string) {
	detail = err.Error()
	switch {
	case errors.Is(err, upstream.ErrValidation):
		return "validation_error", detail
	case errors.Is(err, upstream.ErrUnreachable):
		return "unreachable", detail
	case errors.Is(err, upstream.ErrServerError):
		return "error", detail
	case errors.Is(err, upstream.ErrUpstream):
		return "error", detail
	default:
		return "exception", detail
	}
}
