package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *APIHandlers) listWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": h.jobs.Definitions()})
}

func (h *APIHandlers) listResolutions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resolutions": h.jobs.Resolutions()})
}
