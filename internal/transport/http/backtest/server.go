// Package backtesthttp 通过 gin 暴露策略、回测、优化、行情与编排接口。
package backtesthttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stratlab/internal/logger"
	"stratlab/internal/marketdata"
	"stratlab/internal/orchestrator"
	"stratlab/internal/runner"
	"stratlab/internal/store/gormstore"
	"stratlab/internal/strategy"
)

// Server 提供 HTTP API。
type Server struct {
	addr    string
	runner  *runner.Runner
	store   *gormstore.GormStore
	market  *marketdata.Service
	orch    *orchestrator.Orchestrator
	library *strategy.Library
	router  *gin.Engine
}

// Config 描述 Server 的依赖。Runner 必填，其余缺失时对应接口返回 503。
type Config struct {
	Addr         string
	Runner       *runner.Runner
	Store        *gormstore.GormStore
	Market       *marketdata.Service
	Orchestrator *orchestrator.Orchestrator
	Library      *strategy.Library
}

// NewServer 构建 Server 并注册路由。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:    cfg.Addr,
		runner:  cfg.Runner,
		store:   cfg.Store,
		market:  cfg.Market,
		orch:    cfg.Orchestrator,
		library: cfg.Library,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 返回路由，便于测试。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")

	api.GET("/strategies", s.handleStrategyList)
	api.POST("/strategies", s.handleStrategyCreate)
	api.GET("/strategies/:id", s.handleStrategyDetail)
	api.PUT("/strategies/:id", s.handleStrategyUpdate)
	api.DELETE("/strategies/:id", s.handleStrategyDelete)

	api.GET("/prebuilt", s.handlePrebuiltList)
	api.GET("/prebuilt/:name", s.handlePrebuiltDetail)
	api.POST("/prebuilt/import/:name", s.handlePrebuiltImport)
	api.POST("/prebuilt/initialize", s.handlePrebuiltInitialize)
	api.GET("/compare/strategies", s.handleCompare)

	api.POST("/backtests", s.handleBacktestRun)
	api.GET("/backtests", s.handleBacktestList)
	api.GET("/backtests/:id", s.handleBacktestDetail)
	api.GET("/backtests/:id/report", s.handleBacktestReport)
	api.DELETE("/backtests/:id", s.handleBacktestDelete)

	api.POST("/optimizations", s.handleOptimize)
	api.POST("/optimizations/evolve", s.handleEvolve)
	api.GET("/optimizations", s.handleOptimizationList)
	api.GET("/optimizations/:id", s.handleOptimizationDetail)

	market := api.Group("/market")
	market.POST("/fetch", s.handleFetch)
	market.GET("/fetch/:id", s.handleFetchStatus)
	market.GET("/jobs", s.handleJobs)
	market.GET("/manifest", s.handleManifest)
	market.GET("/candles", s.handleCandles)

	api.POST("/agents/run", s.handleAgentsRun)
	api.GET("/agents/costs/:trace_id", s.handleAgentCosts)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		if !logger.Enabled(slog.LevelDebug) {
			return
		}
		logger.Slog().Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(started),
		)
	}
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。ctx 取消后最多等待 5 秒完成关闭。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
