// Package runner 把策略解析、数据加载、回测、优化、持久化与报告串成应用层用例。
package runner

import (
	"fmt"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/kvstore"
	"stratlab/internal/marketdata"
	"stratlab/internal/optimizer"
	"stratlab/internal/report"
	"stratlab/internal/store/gormstore"
	"stratlab/internal/strategy"
)

// Config 描述 Runner 的依赖。除 Settings 与 Optimizer 外都可以为空。
type Config struct {
	Settings    backtest.Settings
	Optimizer   optimizer.Options
	Generations int

	Store    *gormstore.GormStore
	Market   *marketdata.Service
	Library  *strategy.Library
	Cache    kvstore.Store
	CacheTTL time.Duration
	Reports  *report.Renderer

	// CSVRoot 限定 csv_path 只能读取该目录下的文件，为空时拒绝 csv_path。
	CSVRoot string
	// LocalFiles 允许 csv_path 读取任意本地文件，仅供命令行使用。
	LocalFiles bool
}

// Runner 是无状态的用例入口，可并发使用。
type Runner struct {
	settings    backtest.Settings
	optDefaults optimizer.Options
	generations int

	store   *gormstore.GormStore
	market  *marketdata.Service
	library *strategy.Library
	cache   kvstore.Store
	ttl     time.Duration
	reports *report.Renderer

	csvRoot    string
	localFiles bool
}

// New 构造 Runner。
func New(cfg Config) (*Runner, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Optimizer.Metric == "" {
		cfg.Optimizer = optimizer.DefaultOptions()
	}
	if cfg.Generations <= 0 {
		cfg.Generations = 3
	}
	if cfg.Cache == nil {
		cfg.Cache = kvstore.Nop{}
	}
	csvRoot, err := resolveRoot(cfg.CSVRoot)
	if err != nil {
		return nil, fmt.Errorf("csv root: %w", err)
	}
	return &Runner{
		csvRoot:     csvRoot,
		localFiles:  cfg.LocalFiles,
		settings:    cfg.Settings,
		optDefaults: cfg.Optimizer,
		generations: cfg.Generations,
		store:       cfg.Store,
		market:      cfg.Market,
		library:     cfg.Library,
		cache:       cfg.Cache,
		ttl:         cfg.CacheTTL,
		reports:     cfg.Reports,
	}, nil
}

// Settings 返回默认回测参数。
func (r *Runner) Settings() backtest.Settings { return r.settings }

// Store 返回持久化层，可能为 nil。
func (r *Runner) Store() *gormstore.GormStore { return r.store }

// Reports 返回报告渲染器，可能为 nil。
func (r *Runner) Reports() *report.Renderer { return r.reports }

// SettingsOverride 按字段覆盖默认回测参数，未给出的字段沿用默认值。
type SettingsOverride struct {
	InitialCapital *float64 `json:"initial_capital,omitempty"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
	SlippageRate   *float64 `json:"slippage_rate,omitempty"`
	RiskFreeRate   *float64 `json:"risk_free_rate,omitempty"`
	PeriodsPerYear *float64 `json:"periods_per_year,omitempty"`
	MinBars        *int     `json:"min_bars,omitempty"`
}

func (o *SettingsOverride) apply(base backtest.Settings) backtest.Settings {
	if o == nil {
		return base
	}
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setF(&base.InitialCapital, o.InitialCapital)
	setF(&base.CommissionRate, o.CommissionRate)
	setF(&base.SlippageRate, o.SlippageRate)
	setF(&base.RiskFreeRate, o.RiskFreeRate)
	setF(&base.PeriodsPerYear, o.PeriodsPerYear)
	if o.MinBars != nil {
		base.MinBars = *o.MinBars
	}
	return base
}

// OptimizeOverride 覆盖默认优化参数，零值字段沿用默认值。
type OptimizeOverride struct {
	Metric        string `json:"metric,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	TopN          int    `json:"top_n,omitempty"`
	Seed          *int64 `json:"seed,omitempty"`
	Parallelism   int    `json:"parallelism,omitempty"`
}

func (o OptimizeOverride) apply(base optimizer.Options) optimizer.Options {
	if o.Metric != "" {
		base.Metric = o.Metric
	}
	if o.MaxIterations > 0 {
		base.MaxIterations = o.MaxIterations
	}
	if o.TopN > 0 {
		base.TopN = o.TopN
	}
	if o.Seed != nil {
		base.Seed = *o.Seed
	}
	if o.Parallelism > 0 {
		base.Parallelism = o.Parallelism
	}
	return base
}
