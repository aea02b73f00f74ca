// Package metrics 根据净收益序列与交易明细计算绩效指标。
package metrics

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"stratlab/internal/logger"
)

// Settings 是计算指标所需的参数。
type Settings struct {
	InitialCapital float64
	RiskFreeRate   float64
	PeriodsPerYear float64
}

// TradeStat 是单笔已平仓交易的统计输入。
type TradeStat struct {
	Return   float64
	Duration time.Duration
}

// Input 汇总一次回测的原始数据。
type Input struct {
	Returns  []float64 // 净收益，不含首根
	Trades   []TradeStat
	Turnover float64
}

// Ratio 是可能为 +Inf 的比值，JSON 中以字符串 "Inf" 表示无穷。
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(f):
		return []byte(`0`), nil
	}
	return json.Marshal(f)
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch strings.ToLower(s) {
		case "inf", "+inf", "infinity":
			*r = Ratio(math.Inf(1))
		case "-inf", "-infinity":
			*r = Ratio(math.Inf(-1))
		default:
			*r = 0
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// Bundle 是固定结构的绩效指标集合。
type Bundle struct {
	TotalReturn         float64 `json:"total_return"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	MaximumDrawdown     float64 `json:"maximum_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	CalmarRatio         float64 `json:"calmar_ratio"`

	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
	ProfitLoss     float64 `json:"profit_loss"`

	NumTrades        int     `json:"num_trades"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     Ratio   `json:"profit_factor"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	WinLossRatio     float64 `json:"win_loss_ratio"`
	NumWinningTrades int     `json:"num_winning_trades"`
	NumLosingTrades  int     `json:"num_losing_trades"`

	RollingSharpe30         *float64 `json:"rolling_sharpe_30,omitempty"`
	Turnover                float64  `json:"turnover"`
	AvgTradeDurationSeconds float64  `json:"avg_trade_duration_seconds"`
}

// Compute 计算全部指标。
func Compute(in Input, s Settings) Bundle {
	r := in.Returns
	ppy := s.PeriodsPerYear
	b := Bundle{
		TotalReturn:      TotalReturn(r),
		AnnualizedReturn: AnnualizedReturn(r, ppy),
		Volatility:       Volatility(r, ppy),
		SharpeRatio:      Sharpe(r, s.RiskFreeRate, ppy),
		SortinoRatio:     Sortino(r, s.RiskFreeRate, ppy),
	}
	b.MaximumDrawdown, b.MaxDrawdownDuration = Drawdown(r)
	if b.MaximumDrawdown != 0 {
		b.CalmarRatio = b.AnnualizedReturn / math.Abs(b.MaximumDrawdown)
	}
	b.InitialCapital = s.InitialCapital
	b.FinalCapital = s.InitialCapital * (1 + b.TotalReturn)
	b.ProfitLoss = b.FinalCapital - s.InitialCapital

	applyTrades(&b, in.Trades)
	if len(r) >= 30 {
		v := rollingSharpe(r[len(r)-30:], ppy)
		b.RollingSharpe30 = &v
	}
	b.Turnover = in.Turnover

	logger.Debugf("[backtest] metrics periods=%d total_return=%.4f sharpe=%.2f max_dd=%.4f", len(r), b.TotalReturn, b.SharpeRatio, b.MaximumDrawdown)
	return b
}

// TotalReturn = Π(1+r) - 1。
func TotalReturn(r []float64) float64 {
	if len(r) == 0 {
		return 0
	}
	return growth(r) - 1
}

// AnnualizedReturn 按 periods_per_year 年化，复利因子 ≤ 0 时为 0。
func AnnualizedReturn(r []float64, ppy float64) float64 {
	if len(r) == 0 {
		return 0
	}
	factor := growth(r)
	years := float64(len(r)) / ppy
	if years <= 0 || factor <= 0 {
		return 0
	}
	return math.Pow(factor, 1/years) - 1
}

// Volatility 为样本标准差乘以 sqrt(ppy)。
func Volatility(r []float64, ppy float64) float64 {
	if len(r) <= 1 {
		return 0
	}
	return StdDev(r, 1) * math.Sqrt(ppy)
}

// Sharpe 使用超额收益的均值/样本标准差年化。
func Sharpe(r []float64, rf, ppy float64) float64 {
	if len(r) <= 1 {
		return 0
	}
	ex := excess(r, rf, ppy)
	sd := StdDev(ex, 1)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return math.Sqrt(ppy) * Mean(ex) / sd
}

// Sortino 的分母只取负的超额收益。
func Sortino(r []float64, rf, ppy float64) float64 {
	if len(r) <= 1 {
		return 0
	}
	ex := excess(r, rf, ppy)
	var down []float64
	for _, x := range ex {
		if x < 0 {
			down = append(down, x)
		}
	}
	if len(down) == 0 {
		return 0
	}
	sd := StdDev(down, 1)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return math.Sqrt(ppy) * Mean(ex) / sd
}

// Drawdown 返回最大回撤（≤0）以及最长连续回撤根数。
// 累计曲线的运行最大值从第一个点开始。
func Drawdown(r []float64) (float64, int) {
	if len(r) == 0 {
		return 0, 0
	}
	cum := 1.0
	peak := math.Inf(-1)
	maxDD := 0.0
	run, longest := 0, 0
	for _, x := range r {
		cum *= 1 + x
		if cum > peak {
			peak = cum
		}
		dd := (cum - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
		if dd < 0 {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return maxDD, longest
}

func applyTrades(b *Bundle, trades []TradeStat) {
	if len(trades) == 0 {
		return
	}
	var (
		grossProfit, grossLoss float64
		wins, losses           []float64
		totalDuration          time.Duration
	)
	for _, t := range trades {
		switch {
		case t.Return > 0:
			wins = append(wins, t.Return)
			grossProfit += t.Return
		case t.Return < 0:
			losses = append(losses, t.Return)
			grossLoss += t.Return
		}
		totalDuration += t.Duration
	}
	n := len(trades)
	b.NumTrades = n
	b.WinRate = float64(len(wins)) / float64(n) * 100
	grossLoss = math.Abs(grossLoss)
	switch {
	case grossLoss > 0:
		b.ProfitFactor = Ratio(grossProfit / grossLoss)
	case grossProfit > 0:
		b.ProfitFactor = Ratio(math.Inf(1))
	}
	if len(wins) > 0 {
		b.AvgWin = Mean(wins)
	}
	if len(losses) > 0 {
		b.AvgLoss = Mean(losses)
	}
	if b.AvgLoss != 0 {
		b.WinLossRatio = math.Abs(b.AvgWin / b.AvgLoss)
	}
	b.NumWinningTrades = len(wins)
	b.NumLosingTrades = len(losses)
	b.AvgTradeDurationSeconds = totalDuration.Seconds() / float64(n)
}

func rollingSharpe(window []float64, ppy float64) float64 {
	v := Mean(window) / (StdDev(window, 1) + 1e-12) * math.Sqrt(ppy)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func growth(r []float64) float64 {
	g := 1.0
	for _, x := range r {
		g *= 1 + x
	}
	return g
}

func excess(r []float64, rf, ppy float64) []float64 {
	daily := rf / ppy
	out := make([]float64, len(r))
	for i, x := range r {
		out[i] = x - daily
	}
	return out
}

// Names 列出可用于排序的指标名。
var Names = []string{
	"total_return", "annualized_return", "volatility", "sharpe_ratio", "sortino_ratio",
	"maximum_drawdown", "max_drawdown_duration", "calmar_ratio", "initial_capital",
	"final_capital", "profit_loss", "num_trades", "win_rate", "profit_factor", "avg_win",
	"avg_loss", "win_loss_ratio", "num_winning_trades", "num_losing_trades",
	"rolling_sharpe_30", "turnover", "avg_trade_duration_seconds",
}

// Known 判断指标名是否存在。
func Known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// Value 按 JSON 名称取指标值；rolling_sharpe_30 缺失时返回 false。
func (b Bundle) Value(name string) (float64, bool) {
	switch name {
	case "total_return":
		return b.TotalReturn, true
	case "annualized_return":
		return b.AnnualizedReturn, true
	case "volatility":
		return b.Volatility, true
	case "sharpe_ratio":
		return b.SharpeRatio, true
	case "sortino_ratio":
		return b.SortinoRatio, true
	case "maximum_drawdown":
		return b.MaximumDrawdown, true
	case "max_drawdown_duration":
		return float64(b.MaxDrawdownDuration), true
	case "calmar_ratio":
		return b.CalmarRatio, true
	case "initial_capital":
		return b.InitialCapital, true
	case "final_capital":
		return b.FinalCapital, true
	case "profit_loss":
		return b.ProfitLoss, true
	case "num_trades":
		return float64(b.NumTrades), true
	case "win_rate":
		return b.WinRate, true
	case "profit_factor":
		return float64(b.ProfitFactor), true
	case "avg_win":
		return b.AvgWin, true
	case "avg_loss":
		return b.AvgLoss, true
	case "win_loss_ratio":
		return b.WinLossRatio, true
	case "num_winning_trades":
		return float64(b.NumWinningTrades), true
	case "num_losing_trades":
		return float64(b.NumLosingTrades), true
	case "rolling_sharpe_30":
		if b.RollingSharpe30 == nil {
			return 0, false
		}
		return *b.RollingSharpe30, true
	case "turnover":
		return b.Turnover, true
	case "avg_trade_duration_seconds":
		return b.AvgTradeDurationSeconds, true
	}
	return 0, false
}
