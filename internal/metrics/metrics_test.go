package metrics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var daily = Settings{InitialCapital: 100000, RiskFreeRate: 0.02, PeriodsPerYear: 252}

func TestZeroTrades(t *testing.T) {
	returns := make([]float64, 100)
	b := Compute(Input{Returns: returns}, daily)
	assert.Equal(t, 0, b.NumTrades)
	assert.Equal(t, 0.0, b.WinRate)
	assert.Equal(t, Ratio(0), b.ProfitFactor)
	assert.Equal(t, 0.0, b.TotalReturn)
	assert.Equal(t, 0.0, b.SharpeRatio, "constant excess returns have zero deviation")
	assert.Equal(t, 0.0, b.SortinoRatio)
	assert.Equal(t, 0.0, b.MaximumDrawdown)
	assert.Equal(t, 100000.0, b.FinalCapital)
	require.NotNil(t, b.RollingSharpe30)
	assert.Equal(t, 0.0, *b.RollingSharpe30)

	empty := Compute(Input{}, daily)
	assert.Equal(t, 0.0, empty.AnnualizedReturn)
	assert.Nil(t, empty.RollingSharpe30)
}

func TestReturnFormulas(t *testing.T) {
	r := []float64{0.1, -0.05, 0.02, -0.1, 0.03}
	assert.InDelta(t, 1.1*0.95*1.02*0.9*1.03-1, TotalReturn(r), 1e-12)

	factor := 1.1 * 0.95 * 1.02 * 0.9 * 1.03
	assert.InDelta(t, math.Pow(factor, 252.0/5)-1, AnnualizedReturn(r, 252), 1e-9)

	// numpy: np.std(r, ddof=1)
	m := (0.1 - 0.05 + 0.02 - 0.1 + 0.03) / 5
	ss := 0.0
	for _, x := range r {
		ss += (x - m) * (x - m)
	}
	sd := math.Sqrt(ss / 4)
	assert.InDelta(t, sd*math.Sqrt(252), Volatility(r, 252), 1e-12)
	assert.InDelta(t, math.Sqrt(252)*(m-0.02/252)/sd, Sharpe(r, 0.02, 252), 1e-9)

	assert.Equal(t, 0.0, Sharpe([]float64{0.01}, 0.02, 252))
	assert.Equal(t, 0.0, Volatility([]float64{0.01}, 252))
}

func TestSortinoNeedsTwoDownsideReturns(t *testing.T) {
	assert.Equal(t, 0.0, Sortino([]float64{0.01, 0.02, 0.03}, 0, 252))
	assert.Equal(t, 0.0, Sortino([]float64{0.01, -0.02, 0.03}, 0, 252), "single downside return has undefined deviation")
	v := Sortino([]float64{0.01, -0.02, 0.03, -0.01}, 0, 252)
	assert.Greater(t, v, 0.0)
}

func TestDrawdown(t *testing.T) {
	dd, dur := Drawdown([]float64{0.1, -0.5, 0.2, 0.5, 0.1})
	// cum: 1.1, 0.55, 0.66, 0.99, 1.089 → 峰值 1.1
	assert.InDelta(t, -0.5, dd, 1e-12)
	assert.Equal(t, 4, dur)

	// 运行最大值从第一个点开始，首根下跌不计入回撤。
	dd, dur = Drawdown([]float64{-0.2, 0.1})
	assert.Equal(t, 0.0, dd)
	assert.Equal(t, 0, dur)
}

func TestDrawdownDurationResetsAtNewPeak(t *testing.T) {
	// cum: 1.1, 0.99, 1.188, 1.0692, 0.96228, 0.866052, 1.299078
	dd, dur := Drawdown([]float64{0.1, -0.1, 0.2, -0.1, -0.1, -0.1, 0.5})
	assert.InDelta(t, 0.729-1, dd, 1e-12)
	assert.Equal(t, 3, dur, "the one-bar dip before the new peak is a separate run")

	// 结束时仍在回撤中也计入。
	dd, dur = Drawdown([]float64{0.1, -0.05, 0.2, -0.1, -0.1})
	assert.InDelta(t, 0.9*0.9-1, dd, 1e-12)
	assert.Equal(t, 2, dur)
}

func TestCalmarRatio(t *testing.T) {
	r := []float64{0.1, -0.5, 0.2, 0.5, 0.1}
	b := Compute(Input{Returns: r}, daily)
	annual := math.Pow(1.1*0.5*1.2*1.5*1.1, 252.0/5) - 1
	assert.InDelta(t, annual, b.AnnualizedReturn, 1e-9*annual)
	assert.InDelta(t, -0.5, b.MaximumDrawdown, 1e-12)
	assert.InDelta(t, annual/0.5, b.CalmarRatio, 1e-9*annual)
	v, ok := b.Value("calmar_ratio")
	require.True(t, ok)
	assert.Equal(t, b.CalmarRatio, v)

	losing := Compute(Input{Returns: []float64{0.01, -0.2, 0.01}}, daily)
	assert.InDelta(t, -0.2, losing.MaximumDrawdown, 1e-12)
	assert.InDelta(t, (math.Pow(1.01*0.8*1.01, 84)-1)/0.2, losing.CalmarRatio, 1e-9)
	assert.Less(t, losing.CalmarRatio, 0.0)

	noDrawdown := Compute(Input{Returns: []float64{0.01, 0.02, 0.01}}, daily)
	assert.Equal(t, 0.0, noDrawdown.MaximumDrawdown)
	assert.Equal(t, 0.0, noDrawdown.CalmarRatio)
}

func TestRollingSharpeUsesLastThirtyReturns(t *testing.T) {
	r := make([]float64, 40)
	for i := range r {
		switch {
		case i < 10:
			r[i] = 0.5
		case i%2 == 0:
			r[i] = 0.02
		default:
			r[i] = -0.01
		}
	}
	b := Compute(Input{Returns: r}, daily)
	require.NotNil(t, b.RollingSharpe30)

	// 窗口内 15 个 0.02 与 15 个 -0.01：均值 0.005，离差均为 ±0.015。
	sd := math.Sqrt(30 * 0.015 * 0.015 / 29)
	want := 0.005 / (sd + 1e-12) * math.Sqrt(252)
	assert.InDelta(t, want, *b.RollingSharpe30, 1e-9)
	assert.NotEqual(t, b.SharpeRatio, *b.RollingSharpe30)
	assert.Greater(t, *b.RollingSharpe30, Sharpe(r[10:], 0.02, 252), "risk-free rate is not subtracted")

	short := Compute(Input{Returns: r[:29]}, daily)
	assert.Nil(t, short.RollingSharpe30)
	_, ok := short.Value("rolling_sharpe_30")
	assert.False(t, ok)
}

func TestTradeMetrics(t *testing.T) {
	trades := []TradeStat{
		{Return: 0.1, Duration: 48 * time.Hour},
		{Return: -0.05, Duration: 24 * time.Hour},
		{Return: 0.05, Duration: 72 * time.Hour},
		{Return: 0},
	}
	b := Compute(Input{Returns: []float64{0.01, 0.02}, Trades: trades}, daily)
	assert.Equal(t, 4, b.NumTrades)
	assert.Equal(t, 50.0, b.WinRate)
	assert.InDelta(t, 3.0, float64(b.ProfitFactor), 1e-12)
	assert.InDelta(t, 0.075, b.AvgWin, 1e-12)
	assert.InDelta(t, -0.05, b.AvgLoss, 1e-12)
	assert.InDelta(t, 1.5, b.WinLossRatio, 1e-12)
	assert.Equal(t, 2, b.NumWinningTrades)
	assert.Equal(t, 1, b.NumLosingTrades)
	assert.InDelta(t, (36 * time.Hour).Seconds(), b.AvgTradeDurationSeconds, 1e-9)
}

func TestProfitFactorInfinity(t *testing.T) {
	b := Compute(Input{Trades: []TradeStat{{Return: 0.02}}}, daily)
	assert.True(t, math.IsInf(float64(b.ProfitFactor), 1))

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"profit_factor":"Inf"`)

	var back Bundle
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, math.IsInf(float64(back.ProfitFactor), 1))

	v, ok := back.Value("profit_factor")
	assert.True(t, ok)
	assert.True(t, math.IsInf(v, 1))
}

func TestValueLookup(t *testing.T) {
	b := Bundle{SharpeRatio: 1.5, NumTrades: 3}
	v, ok := b.Value("sharpe_ratio")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
	v, _ = b.Value("num_trades")
	assert.Equal(t, 3.0, v)
	_, ok = b.Value("rolling_sharpe_30")
	assert.False(t, ok)
	_, ok = b.Value("nope")
	assert.False(t, ok)
	for _, name := range Names {
		assert.True(t, Known(name))
	}
}

func TestStats(t *testing.T) {
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 3.0, Median([]float64{5, 3, 1}))
	assert.InDelta(t, math.Sqrt(1.25), StdDev([]float64{1, 2, 3, 4}, 0), 1e-12)
	assert.True(t, math.IsNaN(StdDev([]float64{1}, 1)))
	lo, hi := MinMax([]float64{3, -1, 7})
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 7.0, hi)
}
