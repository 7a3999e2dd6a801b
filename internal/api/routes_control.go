package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raidscope/raidscope/internal/engine"
	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/itemdb"
)

// commandStatus maps a command error to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrUnknownLoot), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrBadID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) command(c *gin.Context, kind engine.CommandKind, arg string) {
	if err := s.deps.Engine.Do(c.Request.Context(), kind, arg); err != nil {
		c.JSON(commandStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Str("command", string(kind)).Str("arg", arg).Msg("API command applied")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "command": kind, "arg": arg})
}

func (s *Server) handleHide(c *gin.Context) {
	s.command(c, engine.CmdHide, c.Param("id"))
}

func (s *Server) handleWant(c *gin.Context) {
	s.command(c, engine.CmdWant, c.Param("template"))
}

func (s *Server) handleUnwant(c *gin.Context) {
	s.command(c, engine.CmdUnwant, c.Param("template"))
}

// handleSearchItems looks up templates by name: ?q=...&limit=N.
func (s *Server) handleSearchItems(c *gin.Context) {
	if s.deps.Catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no item database"})
		return
	}
	var q struct {
		Q     string `form:"q"`
		Limit int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	items, err := s.deps.Catalog.Search(q.Q, q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if items == nil {
		items = []itemdb.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (s *Server) handleSetPrice(c *gin.Context) {
	if s.deps.Catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no item database"})
		return
	}
	var body struct {
		Price *int64 `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || *body.Price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a non-negative integer"})
		return
	}
	tpl := c.Param("template")
	if err := s.deps.Catalog.SetPrice(tpl, *body.Price); err != nil {
		c.JSON(commandStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "template_id": tpl, "price": *body.Price})
}
