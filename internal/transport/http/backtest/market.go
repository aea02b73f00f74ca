package backtesthttp

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stratlab/internal/marketdata"
)

func (s *Server) handleFetch(c *gin.Context) {
	if s.market == nil {
		unavailable(c, "market data service")
		return
	}
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	job, err := s.market.SubmitFetch(marketdata.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	if s.market == nil {
		unavailable(c, "market data service")
		return
	}
	job, ok := s.market.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	if s.market == nil {
		unavailable(c, "market data service")
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.market.JobsSnapshot()})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.market == nil {
		unavailable(c, "market data service")
		return
	}
	symbol, tf := c.Query("symbol"), c.Query("timeframe")
	if symbol == "" || tf == "" {
		badRequest(c, "symbol and timeframe are required")
		return
	}
	info, err := s.market.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.market == nil {
		unavailable(c, "market data service")
		return
	}
	symbol, tf := c.Query("symbol"), c.Query("timeframe")
	if symbol == "" || tf == "" {
		badRequest(c, "symbol and timeframe are required")
		return
	}
	var start, end int64
	var err error
	if raw := c.Query("start_ts"); raw != "" {
		if start, err = strconv.ParseInt(raw, 10, 64); err != nil {
			badRequest(c, "invalid start_ts")
			return
		}
	}
	if raw := c.Query("end_ts"); raw != "" {
		if end, err = strconv.ParseInt(raw, 10, 64); err != nil {
			badRequest(c, "invalid end_ts")
			return
		}
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	data, err := s.market.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}
