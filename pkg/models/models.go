package models

import (
	"encoding/json"
	"time"
)

// JobStatus is one of the literal status tokens surfaced verbatim by the
// HTTP adapter; see the status-string compatibility rules.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// PromptStatus mirrors JobStatus; prompts and jobs share the same vocabulary.
type PromptStatus string

const (
	PromptPending   PromptStatus = "pending"
	PromptRunning   PromptStatus = "running"
	PromptSucceeded PromptStatus = "succeeded"
	PromptFailed    PromptStatus = "failed"
	PromptCanceled  PromptStatus = "canceled"
)

// Job is the unit a caller submits: a workflow name, an input selection and
// resolved parameters, expanded into one or more Prompts.
type Job struct {
	ID              int64      `json:"id" db:"id"`
	WorkflowName    string     `json:"workflow_name" db:"workflow_name"`
	JobName         *string    `json:"job_name,omitempty" db:"job_name"`
	Status          JobStatus  `json:"status" db:"status"`
	CancelRequested bool       `json:"cancel_requested" db:"cancel_requested"`
	Priority        int        `json:"priority" db:"priority"`
	InputDir        string     `json:"input_dir" db:"input_dir"`
	ParamsJSON      string     `json:"params_json" db:"params_json"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	LastError       *string    `json:"last_error,omitempty" db:"last_error"`
	LogPath         *string    `json:"log_path,omitempty" db:"log_path"`
	MoveProcessed   bool       `json:"move_processed" db:"move_processed"`
}

// IsTerminal reports whether the job has reached a status from which it
// will not transition again without an explicit retry.
func (j Job) IsTerminal() bool {
	switch j.Status {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// Prompt is a single upstream submission unit, a child of exactly one Job.
type Prompt struct {
	ID                int64        `json:"id" db:"id"`
	JobID             int64        `json:"job_id" db:"job_id"`
	InputFile         string       `json:"input_file" db:"input_file"`
	PromptJSON        string       `json:"prompt_json" db:"prompt_json"`
	Status            PromptStatus `json:"status" db:"status"`
	UpstreamPromptID  *string      `json:"upstream_prompt_id,omitempty" db:"upstream_prompt_id"`
	StartedAt         *time.Time   `json:"started_at,omitempty" db:"started_at"`
	FinishedAt        *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
	ExitStatus        *string      `json:"exit_status,omitempty" db:"exit_status"`
	ErrorDetail        *string     `json:"error_detail,omitempty" db:"error_detail"`
	OutputPaths       []string     `json:"output_paths" db:"-"`
	OutputPathsJSON   string       `json:"-" db:"output_paths"`
	SeedUsed          *int64       `json:"seed_used,omitempty" db:"seed_used"`
}

// IsActive reports whether the prompt still counts against
// has_active_prompts_for_input.
func (p Prompt) IsActive() bool {
	return p.Status == PromptPending || p.Status == PromptRunning
}

// QueueState is the single-row pause flag.
type QueueState struct {
	Paused bool `json:"paused" db:"paused"`
}

// InputDirHistory tracks directories a caller has submitted jobs from.
type InputDirHistory struct {
	Path       string    `json:"path" db:"path"`
	LastUsedAt time.Time `json:"last_used_at" db:"last_used_at"`
	UseCount   int       `json:"use_count" db:"use_count"`
}

// PromptPreset is a reusable named {mode, positive, negative} bundle.
type PromptPreset struct {
	Name      string    `json:"name" db:"name"`
	Mode      string    `json:"mode" db:"mode"`
	Positive  string    `json:"positive" db:"positive"`
	Negative  string    `json:"negative" db:"negative"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SettingsPreset is a reusable named opaque settings payload.
type SettingsPreset struct {
	Name      string          `json:"name" db:"name"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// ResolutionPreset is one row of the fixed {id,label,width,height} table.
type ResolutionPreset struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CancelSummary is returned by CancelJob.
type CancelSummary struct {
	Mode            string `json:"mode"` // "immediate" | "cancel_after_current"
	CanceledPending int    `json:"canceled_pending"`
	RunningPrompts  int    `json:"running_prompts"`
}

// QueueCounts is the pending/running snapshot used by health checks.
type QueueCounts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
}
