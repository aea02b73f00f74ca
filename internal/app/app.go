package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	brcfg "stratlab/internal/config"
	"stratlab/internal/kvstore"
	"stratlab/internal/logger"
	"stratlab/internal/marketdata"
	"stratlab/internal/orchestrator"
	"stratlab/internal/runner"
	"stratlab/internal/store/gormstore"
	"stratlab/internal/strategy"
	backtesthttp "stratlab/internal/transport/http/backtest"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与后台任务。
type App struct {
	cfg     *brcfg.Config
	store   *gormstore.GormStore
	candles marketdata.CandleStore
	cache   kvstore.Store
	market  *marketdata.Service
	library *strategy.Library
	runner  *runner.Runner
	orch    *orchestrator.Orchestrator
	server  *backtesthttp.Server
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(ctx context.Context, cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg).Build(ctx)
}

// Run 启动 HTTP 服务，ctx 取消后等待行情任务收尾。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)
	a.market.SetContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		a.market.Wait()
		logger.Infof("[app] market jobs drained")
		return nil
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close 释放存储连接，可重复调用。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
		a.cache = nil
	}
	if a.candles != nil {
		errs = append(errs, a.candles.Close())
		a.candles = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}

// Handler 暴露 HTTP 路由，便于测试或嵌入。
func (a *App) Handler() http.Handler {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Handler()
}

func (a *App) Runner() *runner.Runner { return a.runner }

func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

func (a *App) Market() *marketdata.Service { return a.market }
