package v1

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *APIHandlers) listPromptPresets(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	var mode *string
	if m := c.Query("mode"); m != "" {
		mode = &m
	}
	presets, err := h.repos.Presets.ListPromptPresets(limit, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}

func (h *APIHandlers) savePromptPreset(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Mode     string `json:"mode"`
		Positive string `json:"positive"`
		Negative string `json:"negative"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.repos.Presets.SavePromptPreset(req.Name, req.Mode, req.Positive, req.Negative); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *APIHandlers) listSettingsPresets(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	presets, err := h.repos.Presets.ListSettingsPresets(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}

func (h *APIHandlers) saveSettingsPreset(c *gin.Context) {
	var req struct {
		Name    string          `json:"name" binding:"required"`
		Payload json.RawMessage `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.repos.Presets.SaveSettingsPreset(req.Name, req.Payload); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
