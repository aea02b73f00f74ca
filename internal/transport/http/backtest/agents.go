package backtesthttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stratlab/internal/orchestrator"
)

type agentsRunRequest struct {
	TraceID string              `json:"trace_id"`
	Plan    []orchestrator.Step `json:"plan" binding:"required,min=1"`
}

func (s *Server) handleAgentsRun(c *gin.Context) {
	if s.orch == nil {
		unavailable(c, "orchestrator")
		return
	}
	var req agentsRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := s.orch.Run(c.Request.Context(), req.TraceID, req.Plan)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAgentCosts(c *gin.Context) {
	if s.orch == nil {
		unavailable(c, "orchestrator")
		return
	}
	u, err := s.orch.Usage(c.Request.Context(), c.Param("trace_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": u})
}
