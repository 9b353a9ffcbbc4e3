package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *APIHandlers) pauseQueue(c *gin.Context) {
	if err := h.repos.Queue.Pause(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *APIHandlers) resumeQueue(c *gin.Context) {
	if err := h.repos.Queue.Resume(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (h *APIHandlers) clearQueue(c *gin.Context) {
	if err := h.repos.Queue.Clear(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (h *APIHandlers) health(c *gin.Context) {
	paused, err := h.repos.Queue.IsPaused()
	if err != nil {
		respondError(c, err)
		return
	}
	counts, err := h.repos.QueueCounts()
	if err != nil {
		respondError(c, err)
		return
	}
	worker := "running"
	if paused {
		worker = "paused"
	}
	c.JSON(http.StatusOK, gin.H{
		"upstream": h.upstream.Health(c.Request.Context()),
		"worker":   worker,
		"pending":  counts.Pending,
		"running":  counts.Running,
	})
}
