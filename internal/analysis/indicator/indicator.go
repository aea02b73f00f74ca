package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"stratlab/internal/pkg/errs"
)

// MACDResult 保存 MACD 三条线。
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// BandsResult 保存布林带三条线。
type BandsResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// SMA 计算简单移动平均，前 period-1 个值为 NaN。
func SMA(src []float64, period int) ([]float64, error) {
	if err := checkPeriod("SMA", period); err != nil {
		return nil, err
	}
	if len(src) < period {
		return nil, errs.InsufficientData(fmt.Sprintf("SMA(%d)", period), period, len(src))
	}
	out := maskLeading(talib.Sma(src, period), period-1)
	return out, checkDefined("SMA", out, period-1)
}

// EMA 计算指数移动平均（alpha=2/(period+1)，以首个窗口的 SMA 作为种子）。
func EMA(src []float64, period int) ([]float64, error) {
	if err := checkPeriod("EMA", period); err != nil {
		return nil, err
	}
	if len(src) < period {
		return nil, errs.InsufficientData(fmt.Sprintf("EMA(%d)", period), period, len(src))
	}
	out := maskLeading(talib.Ema(src, period), period-1)
	return out, checkDefined("EMA", out, period-1)
}

// RSI 使用 Wilder 平滑（alpha=1/period），平均亏损为 0 时取 100。
// go-talib 在涨跌均为 0 时返回 0，这里单独实现以满足平盘取 100 的约定。
func RSI(src []float64, period int) ([]float64, error) {
	if err := checkPeriod("RSI", period); err != nil {
		return nil, err
	}
	if len(src) < period+1 {
		return nil, errs.InsufficientData(fmt.Sprintf("RSI(%d)", period), period+1, len(src))
	}
	out := nanSeries(len(src))
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(src[i] - src[i-1])
		avgGain += gain
		avgLoss += loss
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	out[period] = rsiValue(avgGain, avgLoss)
	for i := period + 1; i < len(src); i++ {
		gain, loss := split(src[i] - src[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, checkDefined("RSI", out, period)
}

// MACD 计算 MACD 线、信号线与柱状图，至少需要 max(fast,slow)+signal 个点。
func MACD(src []float64, fast, slow, signal int) (MACDResult, error) {
	for _, p := range []int{fast, slow, signal} {
		if err := checkPeriod("MACD", p); err != nil {
			return MACDResult{}, err
		}
	}
	longest := fast
	if slow > longest {
		longest = slow
	}
	need := longest + signal
	if len(src) < need {
		return MACDResult{}, errs.InsufficientData(fmt.Sprintf("MACD(%d,%d,%d)", fast, slow, signal), need, len(src))
	}
	fastEMA, err := EMA(src, fast)
	if err != nil {
		return MACDResult{}, err
	}
	slowEMA, err := EMA(src, slow)
	if err != nil {
		return MACDResult{}, err
	}
	start := longest - 1
	res := MACDResult{
		Line:      nanSeries(len(src)),
		Signal:    nanSeries(len(src)),
		Histogram: nanSeries(len(src)),
	}
	for i := start; i < len(src); i++ {
		res.Line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := talib.Ema(res.Line[start:], signal)
	for i := signal - 1; i < len(sig); i++ {
		res.Signal[start+i] = sig[i]
		res.Histogram[start+i] = res.Line[start+i] - sig[i]
	}
	if err := checkDefined("MACD", res.Histogram, start+signal-1); err != nil {
		return MACDResult{}, err
	}
	return res, nil
}

// Bollinger 计算布林带，标准差为样本标准差（n-1）。
func Bollinger(src []float64, period int, numStd float64) (BandsResult, error) {
	if err := checkPeriod("BOLLINGER", period); err != nil {
		return BandsResult{}, err
	}
	if period < 2 {
		return BandsResult{}, errs.IndicatorFailure("BOLLINGER", "period must be >= 2 for a sample standard deviation")
	}
	if numStd < 0 || math.IsNaN(numStd) {
		return BandsResult{}, errs.IndicatorFailure("BOLLINGER", fmt.Sprintf("num_std must be >= 0, got %v", numStd))
	}
	middle, err := SMA(src, period)
	if err != nil {
		return BandsResult{}, err
	}
	// talib.StdDev 为总体标准差，换算为样本标准差。
	scale := math.Sqrt(float64(period) / float64(period-1))
	std := talib.StdDev(src, period, 1)
	res := BandsResult{
		Upper:  nanSeries(len(src)),
		Middle: middle,
		Lower:  nanSeries(len(src)),
	}
	for i := period - 1; i < len(src); i++ {
		width := numStd * std[i] * scale
		res.Upper[i] = middle[i] + width
		res.Lower[i] = middle[i] - width
	}
	if err := checkDefined("BOLLINGER", res.Upper, period-1); err != nil {
		return BandsResult{}, err
	}
	return res, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - 100/(1+rs)
	return math.Max(0, math.Min(100, v))
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func checkPeriod(name string, period int) error {
	if period <= 0 {
		return errs.IndicatorFailure(name, fmt.Sprintf("period must be positive, got %d", period))
	}
	return nil
}

// checkDefined 确认 from 之后不存在 NaN/Inf。
func checkDefined(name string, series []float64, from int) error {
	for i := from; i < len(series); i++ {
		if math.IsNaN(series[i]) || math.IsInf(series[i], 0) {
			return errs.IndicatorFailure(name, fmt.Sprintf("non-finite value at index %d", i))
		}
	}
	return nil
}

func maskLeading(series []float64, n int) []float64 {
	for i := 0; i < n && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
