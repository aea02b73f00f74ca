// Package pattern 对一段 K 线做线性趋势拟合与简单形态识别，用于数据侦察摘要。
package pattern

import (
	"math"
	"slices"

	"stratlab/internal/market"
)

// 形态信号。
const (
	SignalDoubleBottom = "double_bottom"
	SignalDoubleTop    = "double_top"
	SignalTriangle     = "triangle"
	SignalCompression  = "compression"
)

// Result 是形态分析结果。
type Result struct {
	Bias      string   `json:"bias"`
	Slope     float64  `json:"slope"`
	AngleDeg  float64  `json:"angle_deg"`
	OffsetPct float64  `json:"offset_pct"`
	Signals   []string `json:"signals"`
	Support   float64  `json:"support,omitempty"`
	Resist    float64  `json:"resistance,omitempty"`
}

// Analyze 拟合收盘价回归线并检测双底、双顶、收敛三角与波动收缩。
func Analyze(bars []market.Bar) Result {
	out := Result{Bias: "balanced", Signals: []string{}}
	if len(bars) == 0 {
		return out
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}
	slope, intercept := fitLine(closes)
	out.Slope = slope
	out.Bias = classifySlope(slope)
	out.AngleDeg = math.Atan(slope) * 180 / math.Pi
	if ref := intercept + slope*float64(len(closes)-1); ref != 0 {
		out.OffsetPct = (closes[len(closes)-1] - ref) / ref * 100
	}

	if level, ok := doubleExtreme(lows, false); ok {
		out.Signals = append(out.Signals, SignalDoubleBottom)
		out.Support = level
	}
	if level, ok := doubleExtreme(highs, true); ok {
		out.Signals = append(out.Signals, SignalDoubleTop)
		out.Resist = level
	}
	if triangle(highs, lows) {
		out.Signals = append(out.Signals, SignalTriangle)
	}
	if compression(highs, lows) {
		out.Signals = append(out.Signals, SignalCompression)
	}
	return out
}

func fitLine(series []float64) (slope, intercept float64) {
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(series))
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, series[len(series)-1]
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return
}

func classifySlope(slope float64) string {
	const threshold = 0.0001
	switch {
	case slope > threshold:
		return "bullish"
	case slope < -threshold:
		return "bearish"
	default:
		return "balanced"
	}
}

// doubleExtreme 在后半段寻找两个相距至少 3 根、价差不超过 0.4% 的极值。
func doubleExtreme(values []float64, top bool) (float64, bool) {
	if len(values) < 20 {
		return 0, false
	}
	window := slices.Clone(values[len(values)/2:])
	if top {
		for i := range window {
			window[i] = -window[i]
		}
	}
	idx1 := argmin(window)
	v1 := window[idx1]
	for i := max(idx1-2, 0); i <= idx1+2 && i < len(window); i++ {
		window[i] = math.MaxFloat64
	}
	idx2 := argmin(window)
	v2 := window[idx2]
	if top {
		v1, v2 = -v1, -v2
	}
	diff := math.Abs(v1-v2) / math.Max(math.Abs(v1), 1)
	if diff <= 0.004 && idx2 >= 3 {
		return (v1 + v2) / 2, true
	}
	return 0, false
}

func triangle(highs, lows []float64) bool {
	if len(highs) < 30 {
		return false
	}
	h := len(highs) / 2
	firstHigh, lastHigh := slices.Max(highs[:h]), slices.Max(highs[h:])
	firstLow, lastLow := slices.Min(lows[:h]), slices.Min(lows[h:])
	if lastHigh < firstHigh && lastLow > firstLow {
		widthDelta := (firstHigh - firstLow) - (lastHigh - lastLow)
		return widthDelta/firstHigh > 0.05
	}
	return false
}

func compression(highs, lows []float64) bool {
	if len(highs) < 40 {
		return false
	}
	h := len(highs) / 2
	rng := func(hs, ls []float64) float64 {
		top := slices.Max(hs)
		return (top - slices.Min(ls)) / top
	}
	return rng(highs[h:], lows[h:]) < rng(highs[:h], lows[:h])*0.65
}

func argmin(values []float64) int {
	idx := 0
	for i, v := range values {
		if v < values[idx] {
			idx = i
		}
	}
	return idx
}
