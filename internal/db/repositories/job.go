package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"graphqueue/internal/db"
	"graphqueue/internal/graphqueue/materializer"
	"graphqueue/pkg/models"
)

type JobRepo struct {
	db     *sql.DB
	tracer trace.Tracer
}

// CreateJob atomically writes the Job and all of its child Prompts, all in
// pending, returning the new job id.
func (r *JobRepo) CreateJob(workflowName string, jobName *string, inputDir string, params map[string]interface{}, specs []materializer.Spec, priority int, moveProcessed bool) (jobID int64, err error) {
	_, span := r.tracer.Start(context.Background(), "db.jobs.create",
		trace.WithAttributes(attribute.String("graphqueue.workflow_name", workflowName)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("encoding params: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO jobs (workflow_name, job_name, status, priority, input_dir, params_json, move_processed)
		 VALUES (?, ?, 'pending', ?, ?, ?, ?)`,
		workflowName, jobName, priority, inputDir, string(paramsJSON), moveProcessed,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting job: %w", err)
	}
	jobID, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, spec := range specs {
		var seed sql.NullInt64
		if spec.SeedUsed != nil {
			seed = sql.NullInt64{Int64: *spec.SeedUsed, Valid: true}
		}
		if _, err := tx.Exec(
			`INSERT INTO prompts (job_id, input_file, prompt_json, status, output_paths, seed_used)
			 VALUES (?, ?, ?, 'pending', '[]', ?)`,
			jobID, spec.InputFile, string(spec.PromptJSON), seed,
		); err != nil {
			return 0, fmt.Errorf("inserting prompt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return jobID, nil
}

// GetJob fetches one job by id.
func (r *JobRepo) GetJob(id int64) (*models.Job, error) {
	row := r.db.QueryRow(
		`SELECT id, workflow_name, job_name, status, cancel_requested, priority, input_dir,
		        params_json, created_at, started_at, finished_at, last_error, log_path, move_processed
		 FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs lists jobs, optionally filtered by status, newest first.
func (r *JobRepo) ListJobs(status *models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT id, workflow_name, job_name, status, cancel_requested, priority, input_dir,
	                 params_json, created_at, started_at, finished_at, last_error, log_path, move_processed
	          FROM jobs`
	args := []interface{}{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var jobName, lastError, logPath sql.NullString
	var startedAt, finishedAt sql.NullTime
	var status string
	var cancelRequested, moveProcessed bool

	err := row.Scan(&j.ID, &j.WorkflowName, &jobName, &status, &cancelRequested, &j.Priority, &j.InputDir,
		&j.ParamsJSON, &j.CreatedAt, &startedAt, &finishedAt, &lastError, &logPath, &moveProcessed)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	j.Status = models.JobStatus(status)
	j.CancelRequested = cancelRequested
	j.MoveProcessed = moveProcessed
	if jobName.Valid {
		j.JobName = &jobName.String
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if logPath.Valid {
		j.LogPath = &logPath.String
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return &j, nil
}

// UpdateJobStatus recomputes the job's status per the derivation rule
// from its prompts' current status multiset, writing started_at/finished_at
// as the transition requires.
func (r *Repositories) UpdateJobStatus(jobID int64) (models.JobStatus, error) {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	status, err := updateJobStatusTx(tx, jobID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return status, nil
}

func updateJobStatusTx(tx *sql.Tx, jobID int64) (models.JobStatus, error) {
	var cancelRequested bool
	var wasStarted sql.NullTime
	if err := tx.QueryRow(`SELECT cancel_requested, started_at FROM jobs WHERE id = ?`, jobID).Scan(&cancelRequested, &wasStarted); err != nil {
		return "", fmt.Errorf("loading job %d: %w", jobID, err)
	}

	counts := map[string]int{}
	rows, err := tx.Query(`SELECT status, COUNT(*) FROM prompts WHERE job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return "", err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return "", err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return "", err
	}
	rows.Close()

	status := deriveJobStatus(counts, cancelRequested)

	wasPending := !wasStarted.Valid
	setStarted := wasPending && status != models.JobPending
	terminal := status == models.JobSucceeded || status == models.JobFailed || status == models.JobCanceled

	switch {
	case setStarted && terminal:
		_, err = tx.Exec(`UPDATE jobs SET status = ?, started_at = CURRENT_TIMESTAMP, finished_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), jobID)
	case setStarted:
		_, err = tx.Exec(`UPDATE jobs SET status = ?, started_at = CURRENT_TIMESTAMP, finished_at = NULL WHERE id = ?`, string(status), jobID)
	case terminal:
		_, err = tx.Exec(`UPDATE jobs SET status = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), jobID)
	case status == models.JobPending:
		_, err = tx.Exec(`UPDATE jobs SET status = ?, finished_at = NULL WHERE id = ?`, string(status), jobID)
	default:
		_, err = tx.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, string(status), jobID)
	}
	if err != nil {
		return "", fmt.Errorf("updating job status: %w", err)
	}

	return status, nil
}

// deriveJobStatus implements the priority-ordered derivation rule.
func deriveJobStatus(counts map[string]int, cancelRequested bool) models.JobStatus {
	total := 0
	for _, n := range counts {
		total += n
	}

	switch {
	case total == 0:
		return models.JobPending
	case counts[string(models.PromptRunning)] > 0:
		return models.JobRunning
	case counts[string(models.PromptPending)] > 0:
		return models.JobPending
	case counts[string(models.PromptFailed)] > 0:
		return models.JobFailed
	case counts[string(models.PromptSucceeded)] == total:
		return models.JobSucceeded
	case counts[string(models.PromptCanceled)] == total:
		return models.JobCanceled
	case counts[string(models.PromptSucceeded)]+counts[string(models.PromptCanceled)] == total && cancelRequested:
		return models.JobCanceled
	default:
		return models.JobSucceeded
	}
}

// CancelJob marks every still-pending prompt canceled and sets
// cancel_requested, then recomputes the job's status, all in one
// transaction. Idempotent: a second call on an already-canceled job
// reports zero newly-canceled prompts.
func (r *Repositories) CancelJob(jobID int64) (*models.CancelSummary, error) {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE prompts SET status = 'canceled', finished_at = CURRENT_TIMESTAMP
		 WHERE job_id = ? AND status = 'pending'`, jobID)
	if err != nil {
		return nil, fmt.Errorf("canceling pending prompts: %w", err)
	}
	canceledPending, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`UPDATE jobs SET cancel_requested = 1 WHERE id = ?`, jobID); err != nil {
		return nil, fmt.Errorf("setting cancel_requested: %w", err)
	}

	var running int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM prompts WHERE job_id = ? AND status = 'running'`, jobID).Scan(&running); err != nil {
		return nil, err
	}

	if _, err := updateJobStatusTx(tx, jobID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	mode := "immediate"
	if running > 0 {
		mode = "cancel_after_current"
	}
	return &models.CancelSummary{Mode: mode, CanceledPending: int(canceledPending), RunningPrompts: int(running)}, nil
}

// RetryJob resets every failed prompt of the job back to pending, clears
// job-level terminal state, and recomputes status. Retry is an explicit
// backward transition, not a queue re-insert: prompt ids and history
// (beyond the cleared output_paths) are preserved.
func (r *Repositories) RetryJob(jobID int64) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE prompts SET status = 'pending', upstream_prompt_id = NULL, started_at = NULL,
		        finished_at = NULL, exit_status = NULL, error_detail = NULL, output_paths = '[]'
		 WHERE job_id = ? AND status = 'failed'`, jobID); err != nil {
		return fmt.Errorf("resetting failed prompts: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE jobs SET status = 'pending', cancel_requested = 0, started_at = NULL,
		        finished_at = NULL, last_error = NULL WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("resetting job: %w", err)
	}

	if _, err := updateJobStatusTx(tx, jobID); err != nil {
		return err
	}

	return tx.Commit()
}

// SetJobLastError records the most recent prompt failure's error text on
// the parent job, surfaced by the job-detail view.
func (r *Repositories) SetJobLastError(jobID int64, errText string) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()
	_, err := r.db.Conn().Exec(`UPDATE jobs SET last_error = ? WHERE id = ?`, errText, jobID)
	return err
}

// SetJobLogPath records the path of the most recent prompt's log file.
func (r *Repositories) SetJobLogPath(jobID int64, path string) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()
	_, err := r.db.Conn().Exec(`UPDATE jobs SET log_path = ? WHERE id = ?`, path, jobID)
	return err
}

// IsCancelRequested reports the job's cancel flag.
func (r *Repositories) IsCancelRequested(jobID int64) (bool, error) {
	var cancelRequested bool
	err := r.db.Conn().QueryRow(`SELECT cancel_requested FROM jobs WHERE id = ?`, jobID).Scan(&cancelRequested)
	return cancelRequested, err
}

// CancelPendingPrompts cancels every still-pending prompt of a job (used
// by the worker when cancellation is observed mid-job) and returns the
// number affected.
func (r *Repositories) CancelPendingPrompts(jobID int64) (int, error) {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	res, err := r.db.Conn().Exec(
		`UPDATE prompts SET status = 'canceled', finished_at = CURRENT_TIMESTAMP
		 WHERE job_id = ? AND status = 'pending'`, jobID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
