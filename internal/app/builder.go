package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stratlab/internal/backtest"
	brcfg "stratlab/internal/config"
	"stratlab/internal/kvstore"
	"stratlab/internal/logger"
	"stratlab/internal/optimizer"
	"stratlab/internal/orchestrator"
	"stratlab/internal/report"
	"stratlab/internal/runner"
	"stratlab/internal/store/gormstore"
	"stratlab/internal/strategy"
	backtesthttp "stratlab/internal/transport/http/backtest"
	"stratlab/internal/usage"
)

type AppBuilder struct {
	cfg *brcfg.Config

	storeFn   func(string) (*gormstore.GormStore, error)
	cacheFn   func(context.Context, brcfg.CacheConfig) (kvstore.Store, error)
	marketFn  func(context.Context, *brcfg.Config) (*MarketStack, error)
	libraryFn func(brcfg.StrategiesConfig) (*strategy.Library, error)
}

type AppBuilderOption func(*AppBuilder)

// WithMarketStack 替换行情栈构造函数（测试用）。
func WithMarketStack(fn func(context.Context, *brcfg.Config) (*MarketStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.marketFn = fn
		}
	}
}

// WithCache 替换缓存构造函数。
func WithCache(fn func(context.Context, brcfg.CacheConfig) (kvstore.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.cacheFn = fn
		}
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		storeFn:   gormstore.NewGormStore,
		cacheFn:   openCache,
		marketFn:  buildMarketStack,
		libraryFn: openLibrary,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetFormat(cfg.App.LogFormat)
	logger.SetLevel(cfg.App.LogLevel)

	app := &App{cfg: cfg}
	success := false
	defer func() {
		if !success {
			_ = app.Close()
		}
	}()

	var err error
	app.store, err = b.storeFn(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	logger.Infof("✓ 数据库就绪: %s", cfg.Storage.DatabasePath)

	app.cache, err = b.cacheFn(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	logger.Infof("✓ 缓存后端: %s", cfg.Cache.Backend)

	stack, err := b.marketFn(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.candles = stack.Store
	app.market = stack.Service

	if app.library, err = b.libraryFn(cfg.Strategies); err != nil {
		return nil, err
	}

	reports := report.NewRenderer(report.Options{
		Dir:           cfg.Report.Dir,
		PNG:           cfg.Report.PNG,
		Width:         cfg.Report.Width,
		Height:        cfg.Report.Height,
		ChromeTimeout: time.Duration(cfg.Report.ChromeTimeoutSeconds) * time.Second,
	})

	app.runner, err = runner.New(runner.Config{
		Settings:    settingsFromConfig(cfg.Backtest),
		Optimizer:   optionsFromConfig(cfg.Optimizer),
		Generations: cfg.Optimizer.Generations,
		Store:       app.store,
		Market:      app.market,
		Library:     app.library,
		Cache:       app.cache,
		CacheTTL:    cfg.Cache.TTL(),
		Reports:     reports,
		CSVRoot:     cfg.Storage.CSVRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测服务失败: %w", err)
	}

	app.orch = orchestrator.New(orchestrator.Config{
		Handlers: []orchestrator.Handler{
			&orchestrator.DataScout{Runner: app.runner, Market: app.market},
			&orchestrator.Backtest{Runner: app.runner},
			&orchestrator.Optimize{Runner: app.runner},
		},
		KV: app.cache,
		Prices: usage.Prices{
			PerKBWrite:       cfg.Usage.PricePerKBWrite,
			PerKBRead:        cfg.Usage.PricePerKBRead,
			PerSecondCompute: cfg.Usage.PricePerSecondCompute,
		},
		ReportTTL: cfg.Cache.TTL(),
	})

	app.server, err = backtesthttp.NewServer(backtesthttp.Config{
		Addr:         cfg.App.HTTPAddr,
		Runner:       app.runner,
		Store:        app.store,
		Market:       app.market,
		Orchestrator: app.orch,
		Library:      app.library,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 失败: %w", err)
	}

	app.Summary = newStartupSummary(cfg, stack, app.library)
	success = true
	return app, nil
}

func openCache(ctx context.Context, cfg brcfg.CacheConfig) (kvstore.Store, error) {
	return kvstore.Open(ctx, kvstore.Config{
		Backend:       cfg.Backend,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Prefix:        cfg.Prefix,
	})
}

func openLibrary(cfg brcfg.StrategiesConfig) (*strategy.Library, error) {
	path := strings.TrimSpace(cfg.LibraryPath)
	if path == "" {
		return nil, nil
	}
	lib, err := strategy.OpenLibrary(path, cfg.Watch)
	if err != nil {
		return nil, fmt.Errorf("加载策略库失败: %w", err)
	}
	lib.Subscribe(func(snap strategy.Snapshot) {
		logger.Infof("[strategy] library v%d reloaded: %d strategies", snap.Version, len(snap.Strategies))
	})
	return lib, nil
}

func settingsFromConfig(c brcfg.BacktestConfig) backtest.Settings {
	return backtest.Settings{
		InitialCapital: c.InitialCapital,
		CommissionRate: c.CommissionRate,
		SlippageRate:   c.SlippageRate,
		RiskFreeRate:   c.RiskFreeRate,
		PeriodsPerYear: c.PeriodsPerYear,
		MinBars:        c.MinBars,
	}
}

func optionsFromConfig(c brcfg.OptimizerConfig) optimizer.Options {
	return optimizer.Options{
		Metric:        c.Metric,
		MaxIterations: c.MaxIterations,
		TopN:          c.TopN,
		Seed:          c.Seed,
		Parallelism:   c.Parallelism,
	}
}
