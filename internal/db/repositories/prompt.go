package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"graphqueue/internal/db"
	"graphqueue/pkg/models"
)

type PromptRepo struct {
	db *sql.DB
}

// NextPendingPrompt picks the next prompt to run, subject to: the queue
// isn't paused, the parent job is pending or running, and the parent job
// doesn't have cancel_requested set. Ordering is job.priority DESC,
// job.created_at ASC, prompt.id ASC; returns at most one row.
func (r *Repositories) NextPendingPrompt() (*models.Prompt, error) {
	var paused bool
	if err := r.db.Conn().QueryRow(`SELECT paused FROM queue_state WHERE id = 1`).Scan(&paused); err != nil {
		return nil, fmt.Errorf("reading queue state: %w", err)
	}
	if paused {
		return nil, nil
	}

	row := r.db.Conn().QueryRow(
		`SELECT p.id, p.job_id, p.input_file, p.prompt_json, p.status, p.upstream_prompt_id,
		        p.started_at, p.finished_at, p.exit_status, p.error_detail, p.output_paths, p.seed_used
		 FROM prompts p
		 JOIN jobs j ON j.id = p.job_id
		 WHERE p.status = 'pending'
		   AND j.status IN ('pending', 'running')
		   AND j.cancel_requested = 0
		 ORDER BY j.priority DESC, j.created_at ASC, p.id ASC
		 LIMIT 1`)

	prompt, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return prompt, err
}

func scanPrompt(row rowScanner) (*models.Prompt, error) {
	var p models.Prompt
	var status string
	var upstreamID, exitStatus, errorDetail sql.NullString
	var startedAt, finishedAt sql.NullTime
	var seed sql.NullInt64
	var outputPathsJSON string

	err := row.Scan(&p.ID, &p.JobID, &p.InputFile, &p.PromptJSON, &status, &upstreamID,
		&startedAt, &finishedAt, &exitStatus, &errorDetail, &outputPathsJSON, &seed)
	if err != nil {
		return nil, err
	}

	p.Status = models.PromptStatus(status)
	if upstreamID.Valid {
		p.UpstreamPromptID = &upstreamID.String
	}
	if exitStatus.Valid {
		p.ExitStatus = &exitStatus.String
	}
	if errorDetail.Valid {
		p.ErrorDetail = &errorDetail.String
	}
	if startedAt.Valid {
		p.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		p.FinishedAt = &finishedAt.Time
	}
	if seed.Valid {
		p.SeedUsed = &seed.Int64
	}
	var paths []string
	_ = json.Unmarshal([]byte(outputPathsJSON), &paths)
	p.OutputPaths = paths

	return &p, nil
}

// PromptUpdate is the whitelisted set of columns UpdatePromptStatus may
// write alongside the new status.
type PromptUpdate struct {
	UpstreamPromptID *string
	StartedAt        *time.Time
	FinishedAt       *time.Time
	ExitStatus       *string
	ErrorDetail      *string
	OutputPaths      []string
	SeedUsed         *int64
}

// UpdatePromptStatus sets a prompt's status plus any of the whitelisted
// fields supplied in update.
func (r *Repositories) UpdatePromptStatus(promptID int64, status models.PromptStatus, update PromptUpdate) (err error) {
	_, span := r.tracer.Start(context.Background(), "db.prompts.update_status",
		trace.WithAttributes(
			attribute.Int64("graphqueue.prompt_id", promptID),
			attribute.String("graphqueue.prompt_status", string(status)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	set := []string{"status = ?"}
	args := []interface{}{string(status)}

	if update.UpstreamPromptID != nil {
		set = append(set, "upstream_prompt_id = ?")
		args = append(args, *update.UpstreamPromptID)
	}
	if update.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.FinishedAt != nil {
		set = append(set, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if update.ExitStatus != nil {
		set = append(set, "exit_status = ?")
		args = append(args, *update.ExitStatus)
	}
	if update.ErrorDetail != nil {
		set = append(set, "error_detail = ?")
		args = append(args, *update.ErrorDetail)
	}
	if update.OutputPaths != nil {
		paths, err := json.Marshal(update.OutputPaths)
		if err != nil {
			return fmt.Errorf("encoding output paths: %w", err)
		}
		set = append(set, "output_paths = ?")
		args = append(args, string(paths))
	}
	if update.SeedUsed != nil {
		set = append(set, "seed_used = ?")
		args = append(args, *update.SeedUsed)
	}

	query := "UPDATE prompts SET "
	for i, s := range set {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = ?"
	args = append(args, promptID)

	_, err = r.db.Conn().Exec(query, args...)
	return err
}

// GetPromptsForJob lists every prompt of a job, insertion (id) order.
func (r *Repositories) GetPromptsForJob(jobID int64) ([]*models.Prompt, error) {
	rows, err := r.db.Conn().Query(
		`SELECT id, job_id, input_file, prompt_json, status, upstream_prompt_id,
		        started_at, finished_at, exit_status, error_detail, output_paths, seed_used
		 FROM prompts WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// ListRunningPrompts lists every prompt currently running, across all jobs
// — the startup/in-loop reconciliation pass's working set.
func (r *Repositories) ListRunningPrompts() ([]*models.Prompt, error) {
	rows, err := r.db.Conn().Query(
		`SELECT id, job_id, input_file, prompt_json, status, upstream_prompt_id,
		        started_at, finished_at, exit_status, error_detail, output_paths, seed_used
		 FROM prompts WHERE status = 'running' ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// HasActivePromptsForInput reports whether any prompt referencing
// inputFile is pending/running under a job that is itself pending/running,
// optionally excluding one job (the one currently being moved). This must
// be monotonically conservative: a false negative would let move-processed
// relocate a file another prompt is about to need.
func (r *Repositories) HasActivePromptsForInput(inputFile string, excludeJobID *int64) (bool, error) {
	query := `SELECT COUNT(*) FROM prompts p JOIN jobs j ON j.id = p.job_id
	          WHERE p.input_file = ? AND p.status IN ('pending','running')
	            AND j.status IN ('pending','running')`
	args := []interface{}{inputFile}
	if excludeJobID != nil {
		query += " AND p.job_id != ?"
		args = append(args, *excludeJobID)
	}

	var n int
	if err := r.db.Conn().QueryRow(query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// QueueCounts returns the pending/running snapshot used by health checks.
func (r *Repositories) QueueCounts() (models.QueueCounts, error) {
	var counts models.QueueCounts
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM prompts WHERE status = 'pending'`).Scan(&counts.Pending); err != nil {
		return counts, err
	}
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM prompts WHERE status = 'running'`).Scan(&counts.Running); err != nil {
		return counts, err
	}
	return counts, nil
}
