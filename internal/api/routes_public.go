package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raidscope/raidscope/internal/health"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "raidscope",
		"version": s.deps.Version,
	})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.deps.Version,
		"name":    "raidscope",
	})
}

// handleStatus reports the engine, the last health round and the host.
func (s *Server) handleStatus(c *gin.Context) {
	st := s.deps.Engine.Stats()
	status := "stopped"
	if st.Running {
		status = "running"
	}
	resp := gin.H{
		"status":  status,
		"engine":  st,
		"system":  s.sys,
		"clients": s.hub.ClientCount(),
		"version": s.deps.Version,
	}
	if s.deps.Health != nil {
		r := s.deps.Health.Last()
		resp["health"] = r
		if st.Running && r.Status == health.StatusDegraded {
			resp["status"] = r.Status
		}
	}
	c.JSON(http.StatusOK, resp)
}
