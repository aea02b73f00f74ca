// Package backtest 将一份策略配置在一条价格序列上逐根推演，
// 产出交易明细、资金曲线与绩效指标。
package backtest

import (
	"fmt"
	"math"
	"time"

	"stratlab/internal/analysis/indicator"
	"stratlab/internal/condition"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/metrics"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/strategy"
)

// Settings 是回测的数值参数。
type Settings struct {
	InitialCapital float64 `json:"initial_capital"`
	CommissionRate float64 `json:"commission_rate"`
	SlippageRate   float64 `json:"slippage_rate"`
	RiskFreeRate   float64 `json:"risk_free_rate"`
	PeriodsPerYear float64 `json:"periods_per_year"`
	MinBars        int     `json:"min_bars"`
}

// DefaultSettings 返回默认参数（日线）。
func DefaultSettings() Settings {
	return Settings{
		InitialCapital: 100000,
		CommissionRate: 0.001,
		SlippageRate:   0.0005,
		RiskFreeRate:   0.02,
		PeriodsPerYear: 252,
		MinBars:        50,
	}
}

// Validate 检查参数取值范围。
func (s Settings) Validate() error {
	switch {
	case !(s.InitialCapital > 0) || math.IsInf(s.InitialCapital, 0):
		return fmt.Errorf("initial_capital must be positive, got %v", s.InitialCapital)
	case s.CommissionRate < 0 || s.CommissionRate >= 1:
		return fmt.Errorf("commission_rate must be in [0,1), got %v", s.CommissionRate)
	case s.SlippageRate < 0 || s.SlippageRate >= 1:
		return fmt.Errorf("slippage_rate must be in [0,1), got %v", s.SlippageRate)
	case s.RiskFreeRate < 0 || s.RiskFreeRate >= 1:
		return fmt.Errorf("risk_free_rate must be in [0,1), got %v", s.RiskFreeRate)
	case !(s.PeriodsPerYear > 0):
		return fmt.Errorf("periods_per_year must be positive, got %v", s.PeriodsPerYear)
	case s.MinBars < 2:
		return fmt.Errorf("min_bars must be at least 2, got %d", s.MinBars)
	}
	return nil
}

// CostRate 为单次持仓变化的成本。
func (s Settings) CostRate() float64 { return s.CommissionRate + s.SlippageRate }

// EquityPoint 是资金曲线上的一个点。
type EquityPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	Equity       float64   `json:"equity"`
	MarketEquity float64   `json:"market_equity"`
}

// DateRange 是序列的首尾时间。
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Result 是一次回测的完整输出。
type Result struct {
	Success       bool           `json:"success"`
	Metrics       metrics.Bundle `json:"metrics"`
	NumTrades     int            `json:"num_trades"`
	Trades        []Trade        `json:"trades"`
	EquityCurve   []EquityPoint  `json:"equity_curve"`
	ExecutionTime float64        `json:"execution_time"`
	DataPoints    int            `json:"data_points"`
	DateRange     DateRange      `json:"date_range"`
	OpenPosition  *OpenPosition  `json:"open_position,omitempty"`
}

// Engine 是同步、确定性的回测引擎，可并发复用。
type Engine struct {
	settings Settings
}

// NewEngine 校验参数并构造引擎。
func NewEngine(s Settings) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Engine{settings: s}, nil
}

func (e *Engine) Settings() Settings { return e.settings }

// Run 执行一次回测。所有错误都匹配 ErrBacktestFailure，同时保留具体原因。
func (e *Engine) Run(series market.Series, cfg strategy.Config) (*Result, error) {
	started := time.Now()
	res, err := e.run(series, cfg)
	if err != nil {
		logger.Debugf("[backtest] run failed symbol=%s bars=%d: %v", series.Symbol, series.Len(), err)
		return nil, errs.Backtest(err)
	}
	res.ExecutionTime = time.Since(started).Seconds()
	return res, nil
}

func (e *Engine) run(series market.Series, cfg strategy.Config) (*Result, error) {
	s := e.settings
	if err := series.RequireBars(s.MinBars); err != nil {
		return nil, err
	}
	compiled, err := cfg.Compile()
	if err != nil {
		return nil, err
	}
	frame, err := BuildFrame(series, compiled)
	if err != nil {
		return nil, err
	}
	entry, err := compiled.Entry.Evaluate(frame)
	if err != nil {
		return nil, err
	}
	exit, err := compiled.Exit.Evaluate(frame)
	if err != nil {
		return nil, err
	}

	pos := Positions(entry, exit)
	rets := ComputeReturns(series.Closes(), pos, s.CostRate(), s.InitialCapital)
	trades, open := ExtractTrades(series.Bars, pos, s.CostRate(), s.InitialCapital)

	stats := make([]metrics.TradeStat, len(trades))
	for i, t := range trades {
		stats[i] = metrics.TradeStat{Return: t.Return, Duration: t.ExitDate.Sub(t.EntryDate)}
	}
	bundle := metrics.Compute(metrics.Input{
		Returns:  rets.Net[1:],
		Trades:   stats,
		Turnover: rets.Turnover(),
	}, metrics.Settings{
		InitialCapital: s.InitialCapital,
		RiskFreeRate:   s.RiskFreeRate,
		PeriodsPerYear: s.PeriodsPerYear,
	})

	curve := make([]EquityPoint, series.Len())
	for i, b := range series.Bars {
		curve[i] = EquityPoint{Timestamp: b.Time, Equity: rets.Equity[i], MarketEquity: rets.MarketEquity[i]}
	}
	return &Result{
		Success:      true,
		Metrics:      bundle,
		NumTrades:    len(trades),
		Trades:       trades,
		EquityCurve:  curve,
		DataPoints:   series.Len(),
		DateRange:    DateRange{Start: series.Start(), End: series.End()},
		OpenPosition: open,
	}, nil
}

// BuildFrame 计算全部指标列，与价格列一起组成条件求值环境。
// 指标可以引用价格列，也可以引用排在它之前的指标列。
func BuildFrame(series market.Series, compiled *strategy.Compiled) (condition.Frame, error) {
	frame := condition.Frame{
		N:         series.Len(),
		Columns:   make(map[string][]float64, len(market.PriceColumns)+len(compiled.Columns)),
		Constants: compiled.Config.Constants,
	}
	for _, name := range market.PriceColumns {
		frame.Columns[name], _ = series.Column(name)
	}
	for _, spec := range compiled.Config.Indicators {
		if _, ok := spec.Kind(); !ok {
			continue
		}
		spec = spec.Normalized()
		src, ok := frame.Columns[spec.Column]
		if !ok {
			return condition.Frame{}, errs.InvalidStrategy("unknown source column", spec.Column)
		}
		outputs, err := indicator.Compute(spec, src)
		if err != nil {
			return condition.Frame{}, err
		}
		for i, name := range spec.Columns() {
			frame.Columns[name] = outputs[i]
		}
	}
	return frame, nil
}
