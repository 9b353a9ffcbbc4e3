package v1

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"graphqueue/internal/graphqueue/jobsvc"
	"graphqueue/pkg/models"
)

type createJobRequest struct {
	WorkflowName     string                            `json:"workflow_name" binding:"required"`
	JobName          *string                           `json:"job_name"`
	InputDir         string                            `json:"input_dir"`
	InputFile        string                            `json:"input_file"`
	Params           map[string]interface{}            `json:"params"`
	Priority         int                               `json:"priority"`
	ResolutionPreset string                            `json:"resolution_preset"`
	FlipOrientation  bool                              `json:"flip_orientation"`
	MoveProcessed    *bool                             `json:"move_processed"`
	SplitByInput     bool                              `json:"split_by_input"`
	PerFileParams    map[string]map[string]interface{} `json:"per_file_params"`
	PromptMode       string                            `json:"prompt_mode"`
}

func (h *APIHandlers) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobIDs, err := h.jobs.Enqueue(jobsvc.EnqueueRequest{
		WorkflowName:     req.WorkflowName,
		JobName:          req.JobName,
		InputDir:         req.InputDir,
		InputFile:        req.InputFile,
		Params:           req.Params,
		Priority:         req.Priority,
		ResolutionPreset: req.ResolutionPreset,
		FlipOrientation:  req.FlipOrientation,
		MoveProcessed:    req.MoveProcessed,
		SplitByInput:     req.SplitByInput,
		PerFileParams:    req.PerFileParams,
		PromptMode:       jobsvc.PromptMode(req.PromptMode),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job_ids": jobIDs})
}

func (h *APIHandlers) listJobs(c *gin.Context) {
	var status *models.JobStatus
	if s := c.Query("status"); s != "" {
		v := models.JobStatus(s)
		status = &v
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := h.repos.Jobs.ListJobs(status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *APIHandlers) getJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.repos.Jobs.GetJob(id)
	if err != nil {
		respondError(c, err)
		return
	}
	prompts, err := h.repos.GetPromptsForJob(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "prompts": prompts})
}

func (h *APIHandlers) cancelJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := h.repos.CancelJob(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *APIHandlers) retryJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.repos.RetryJob(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retried"})
}

func (h *APIHandlers) tailJobLog(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.repos.Jobs.GetJob(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if job.LogPath == nil {
		c.JSON(http.StatusOK, gin.H{"log": ""})
		return
	}
	content, err := os.ReadFile(*job.LogPath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": string(content)})
}

func parseJobID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", c.Param("id"))
	}
	return id, nil
}
