package backtesthttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stratlab/internal/runner"
)

func (s *Server) handleBacktestRun(c *gin.Context) {
	req := runner.BacktestRequest{Save: true}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := s.runner.Backtest(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtest": out})
}

func (s *Server) handleBacktestList(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "backtest store")
		return
	}
	offset, limit, ok := page(c, 50)
	if !ok {
		return
	}
	list, total, err := s.store.ListBacktests(c.Request.Context(), c.Query("strategy_id"), offset, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtests": list, "total": total})
}

func (s *Server) handleBacktestDetail(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "backtest store")
		return
	}
	rec, err := s.store.GetBacktest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtest": rec})
}

func (s *Server) handleBacktestDelete(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "backtest store")
		return
	}
	id := c.Param("id")
	if err := s.store.DeleteBacktest(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleBacktestReport(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "backtest store")
		return
	}
	html, err := s.runner.BacktestReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *Server) handleOptimize(c *gin.Context) {
	var req runner.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := s.runner.Optimize(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"optimization": out})
}

func (s *Server) handleEvolve(c *gin.Context) {
	var req runner.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := s.runner.Evolve(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evolution": out})
}

func (s *Server) handleOptimizationList(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "optimization store")
		return
	}
	offset, limit, ok := page(c, 50)
	if !ok {
		return
	}
	list, total, err := s.store.ListOptimizations(c.Request.Context(), c.Query("strategy_id"), offset, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"optimizations": list, "total": total})
}

func (s *Server) handleOptimizationDetail(c *gin.Context) {
	if s.store == nil {
		unavailable(c, "optimization store")
		return
	}
	rec, err := s.store.GetOptimization(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"optimization": rec})
}
