// Package v1 implements the HTTP contract consumed by the external
// adapter: listing workflows/resolutions, submitting and managing
// jobs, pausing/resuming/clearing the queue, tailing logs, and presets.
package v1

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"graphqueue/internal/db/repositories"
	"graphqueue/internal/graphqueue/errs"
	"graphqueue/internal/graphqueue/jobsvc"
	"graphqueue/internal/graphqueue/upstream"
)

type APIHandlers struct {
	repos    *repositories.Repositories
	jobs     *jobsvc.Service
	upstream *upstream.Client
}

func NewAPIHandlers(repos *repositories.Repositories, jobs *jobsvc.Service, upstreamClient *upstream.Client) *APIHandlers {
	return &APIHandlers{repos: repos, jobs: jobs, upstream: upstreamClient}
}

// RegisterRoutes wires every endpoint in the documented HTTP contract.
func (h *APIHandlers) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.health)

	router.GET("/workflows", h.listWorkflows)
	router.GET("/resolutions", h.listResolutions)

	jobsGroup := router.Group("/jobs")
	jobsGroup.POST("", h.createJob)
	jobsGroup.GET("", h.listJobs)
	jobsGroup.GET("/:id", h.getJob)
	jobsGroup.POST("/:id/cancel", h.cancelJob)
	jobsGroup.POST("/:id/retry", h.retryJob)
	jobsGroup.GET("/:id/log", h.tailJobLog)

	queueGroup := router.Group("/queue")
	queueGroup.POST("/pause", h.pauseQueue)
	queueGroup.POST("/resume", h.resumeQueue)
	queueGroup.POST("/clear", h.clearQueue)

	router.GET("/history", h.listHistory)

	presetsGroup := router.Group("/presets")
	presetsGroup.GET("/prompt", h.listPromptPresets)
	presetsGroup.POST("/prompt", h.savePromptPreset)
	presetsGroup.GET("/settings", h.listSettingsPresets)
	presetsGroup.POST("/settings", h.saveSettingsPreset)
}

// respondError maps an internal error onto an HTTP status through the
// shared errs.Kind taxonomy: validation -> 400, upstream rejection -> 502,
// not-found -> 404, everything else -> 500.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	switch errs.Classify(err) {
	case errs.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errs.KindUpstream:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errs.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

var errNotFound = errs.ErrNotFound
