package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raidscope/raidscope/internal/config"
	"github.com/raidscope/raidscope/internal/events"
)

// handleGetConfig returns the full current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	data, err := s.cfg.JSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// handleUpdateConfig sets one field of a section, validates and saves the
// result, restoring the old value when validation fails. Changes to capture and api settings apply at the next start;
// loot and display changes are announced on the bus.
func (s *Server) handleUpdateConfig(c *gin.Context) {
	section := c.Param("section")
	var body struct {
		Key   string      `json:"key" binding:"required"`
		Value interface{} `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	old, err := s.cfg.Field(section, body.Key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.UpdateField(section, body.Key, body.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if result := config.Validate(s.cfg); !result.IsValid() {
		if err := s.cfg.UpdateField(section, body.Key, old); err != nil {
			s.logger.Error().Err(err).Str("section", section).Str("key", body.Key).Msg("config rollback failed")
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "configuration is invalid",
			"problems": result.Errors,
		})
		return
	}
	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.bus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: section,
			Key:     body.Key,
			Value:   body.Value,
		},
	})
	s.logger.Info().Str("section", section).Str("key", body.Key).Msg("API: config updated")

	c.JSON(http.StatusOK, gin.H{"status": "updated", "section": section, "key": body.Key})
}
