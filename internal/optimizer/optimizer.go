// Package optimizer 在策略声明的参数空间上搜索，按指定指标排序返回最优组合，
// 并支持多代演化。
package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stratlab/internal/backtest"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/metrics"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/strategy"
)

const progressEvery = 10

// Backtester 是优化器依赖的回测能力，*backtest.Engine 满足该接口。
type Backtester interface {
	Run(series market.Series, cfg strategy.Config) (*backtest.Result, error)
}

// Options 是一次优化的参数。
type Options struct {
	Metric        string `json:"metric"`
	MaxIterations int    `json:"max_iterations"`
	TopN          int    `json:"top_n"`
	Seed          int64  `json:"seed"`
	Parallelism   int    `json:"parallelism"`
}

// DefaultOptions 返回默认参数。
func DefaultOptions() Options {
	return Options{Metric: "sharpe_ratio", MaxIterations: 50, TopN: 5, Seed: 42, Parallelism: 1}
}

func (o Options) normalize() (Options, error) {
	def := DefaultOptions()
	if o.Metric == "" {
		o.Metric = def.Metric
	}
	if !metrics.Known(o.Metric) {
		return o, errs.InvalidStrategy("unknown optimization metric", o.Metric)
	}
	if o.MaxIterations <= 0 {
		return o, fmt.Errorf("max_iterations must be positive, got %d", o.MaxIterations)
	}
	if o.TopN <= 0 {
		return o, fmt.Errorf("top_n must be positive, got %d", o.TopN)
	}
	if o.Parallelism < 1 {
		o.Parallelism = 1
	}
	return o, nil
}

// Candidate 是一个成功回测的参数组合。
type Candidate struct {
	Parameters map[string]float64 `json:"parameters"`
	Metrics    metrics.Bundle     `json:"metrics"`
	NumTrades  int                `json:"num_trades"`
	Config     strategy.Config    `json:"config"`
}

// Stats 是全部成功组合上目标指标的分布。
type Stats struct {
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	Std         float64 `json:"std"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Improvement float64 `json:"improvement"`
}

// Result 是一次优化的输出。
type Result struct {
	Success            bool        `json:"success"`
	BaseStrategy       string      `json:"base_strategy"`
	OptimizationMetric string      `json:"optimization_metric"`
	GridSize           int         `json:"grid_size"`
	Combinations       int         `json:"combinations"`
	TotalTested        int         `json:"total_tested"`
	Failed             int         `json:"failed"`
	TopStrategies      []Candidate `json:"top_strategies"`
	Statistics         *Stats      `json:"statistics,omitempty"`
	ExecutionTime      float64     `json:"execution_time"`
}

// Best 返回排名第一的组合。
func (r *Result) Best() (Candidate, bool) {
	if r == nil || len(r.TopStrategies) == 0 {
		return Candidate{}, false
	}
	return r.TopStrategies[0], true
}

// Optimizer 复用一个 Backtester 评估参数组合。
type Optimizer struct {
	bt Backtester
}

// New 构造优化器。
func New(bt Backtester) *Optimizer {
	return &Optimizer{bt: bt}
}

type outcome struct {
	cand *Candidate
	err  error
}

// Optimize 评估参数组合并排序。单个组合失败只记日志并跳过；
// 全部失败时返回 ErrOptimizationFailure。
func (o *Optimizer) Optimize(ctx context.Context, series market.Series, base strategy.Strategy, opts Options) (*Result, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	started := time.Now()
	name := base.Name
	if name == "" {
		name = "Custom Strategy"
	}
	if len(base.OptimizableParams) == 0 {
		return o.single(series, base, name, opts, started)
	}

	grid := NewGrid(base.OptimizableParams)
	indices := grid.Indices(opts.MaxIterations, opts.Seed)
	logger.Infof("[optimizer] %s: grid=%d evaluating=%d metric=%s parallelism=%d",
		name, grid.Total(), len(indices), opts.Metric, opts.Parallelism)

	slots := make([]outcome, len(indices))
	var done atomic.Int64
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(opts.Parallelism)
	for i, idx := range indices {
		if err := gctx.Err(); err != nil {
			break
		}
		i, params := i, grid.At(idx)
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cand, err := o.evaluate(series, base, params)
			slots[i] = outcome{cand: cand, err: err}
			if err != nil {
				logger.Warnf("[optimizer] %s: skipped params=%v: %v", name, params, err)
			}
			if n := done.Add(1); n%progressEvery == 0 {
				logger.Infof("[optimizer] %s: completed %d/%d backtests", name, n, len(indices))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ok []Candidate
	failed := 0
	for _, s := range slots {
		if s.err != nil || s.cand == nil {
			failed++
			continue
		}
		ok = append(ok, *s.cand)
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("%w: all %d combinations failed for %s", errs.ErrOptimizationFailure, len(indices), name)
	}

	Rank(ok, opts.Metric)
	top := ok
	if len(top) > opts.TopN {
		top = top[:opts.TopN]
	}
	res := &Result{
		Success:            true,
		BaseStrategy:       name,
		OptimizationMetric: opts.Metric,
		GridSize:           grid.Total(),
		Combinations:       len(indices),
		TotalTested:        len(ok),
		Failed:             failed,
		TopStrategies:      top,
		Statistics:         Statistics(ok, opts.Metric),
		ExecutionTime:      time.Since(started).Seconds(),
	}
	if v, found := top[0].Metrics.Value(opts.Metric); found {
		logger.Infof("[optimizer] %s: done in %.2fs best %s=%.4f tested=%d failed=%d",
			name, res.ExecutionTime, opts.Metric, v, res.TotalTested, failed)
	}
	return res, nil
}

func (o *Optimizer) single(series market.Series, base strategy.Strategy, name string, opts Options, started time.Time) (*Result, error) {
	logger.Warnf("[optimizer] %s: no optimizable parameters, running the base strategy once", name)
	cand, err := o.evaluate(series, base, map[string]float64{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrOptimizationFailure, err)
	}
	return &Result{
		Success:            true,
		BaseStrategy:       name,
		OptimizationMetric: opts.Metric,
		GridSize:           1,
		Combinations:       1,
		TotalTested:        1,
		TopStrategies:      []Candidate{*cand},
		ExecutionTime:      time.Since(started).Seconds(),
	}, nil
}

func (o *Optimizer) evaluate(series market.Series, base strategy.Strategy, params map[string]float64) (*Candidate, error) {
	cfg, err := base.Config.Apply(base.OptimizableParams, params)
	if err != nil {
		return nil, err
	}
	res, err := o.bt.Run(series, cfg)
	if err != nil {
		return nil, err
	}
	return &Candidate{Parameters: params, Metrics: res.Metrics, NumTrades: res.NumTrades, Config: cfg}, nil
}

// Rank 按指标降序稳定排序，缺失或 NaN 的排在最后。
func Rank(c []Candidate, metric string) {
	key := func(i int) (float64, bool) {
		v, ok := c[i].Metrics.Value(metric)
		return v, ok && !math.IsNaN(v)
	}
	sort.SliceStable(c, func(i, j int) bool {
		vi, oki := key(i)
		vj, okj := key(j)
		if !oki || !okj {
			return oki && !okj
		}
		return vi > vj
	})
}

// Statistics 统计目标指标的有限值，标准差为总体标准差。没有有效值时返回 nil。
func Statistics(c []Candidate, metric string) *Stats {
	vals := make([]float64, 0, len(c))
	for _, cand := range c {
		if v, ok := cand.Metrics.Value(metric); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	lo, hi := metrics.MinMax(vals)
	mean := metrics.Mean(vals)
	return &Stats{
		Mean:        mean,
		Median:      metrics.Median(vals),
		Std:         metrics.StdDev(vals, 0),
		Min:         lo,
		Max:         hi,
		Improvement: hi - mean,
	}
}
