package backtest

import "math"

// Returns 是逐根的收益与资金曲线，下标与价格序列一致。
type Returns struct {
	Market       []float64 // 首根为 NaN
	Strategy     []float64
	Cost         []float64
	Net          []float64
	Change       []int
	Equity       []float64
	MarketEquity []float64
}

// ComputeReturns 计算收益与成本：
// 策略收益使用上一根的持仓，持仓变化的那根扣一次 costRate，复利累积。
func ComputeReturns(closes []float64, pos []int, costRate, capital float64) Returns {
	n := len(closes)
	r := Returns{
		Market:       make([]float64, n),
		Strategy:     make([]float64, n),
		Cost:         make([]float64, n),
		Net:          make([]float64, n),
		Change:       make([]int, n),
		Equity:       make([]float64, n),
		MarketEquity: make([]float64, n),
	}
	if n == 0 {
		return r
	}
	r.Market[0] = math.NaN()
	r.Equity[0] = capital
	r.MarketEquity[0] = capital
	for t := 1; t < n; t++ {
		r.Market[t] = closes[t]/closes[t-1] - 1
		r.Change[t] = pos[t] - pos[t-1]
		r.Strategy[t] = r.Market[t] * float64(pos[t-1])
		if r.Change[t] != 0 {
			r.Cost[t] = costRate
		}
		r.Net[t] = r.Strategy[t] - r.Cost[t]
		r.Equity[t] = r.Equity[t-1] * (1 + r.Net[t])
		r.MarketEquity[t] = r.MarketEquity[t-1] * (1 + r.Market[t])
	}
	return r
}

// Turnover 是每次持仓变化时的权益之和。
func (r Returns) Turnover() float64 {
	total := 0.0
	for t, c := range r.Change {
		if c != 0 {
			total += r.Equity[t]
		}
	}
	return total
}
