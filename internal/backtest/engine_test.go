package backtest

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/analysis/indicator"
	"stratlab/internal/market"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/strategy"
)

func waveSeries(t *testing.T, n int) market.Series {
	t.Helper()
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		c := 100 + 15*math.Sin(float64(i)/12) + 0.05*float64(i)
		bars[i] = market.Bar{
			Time:   t0.AddDate(0, 0, i),
			Open:   c - 0.2,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000 + float64(i),
		}
	}
	s, err := market.NewSeries("TEST", "1d", bars)
	require.NoError(t, err)
	return s
}

func smaCross() strategy.Config {
	return strategy.Config{
		Indicators: []indicator.Spec{
			{Type: "SMA", Period: 20, Column: "Close"},
			{Type: "SMA", Period: 50, Column: "Close"},
		},
		EntryRules: strategy.Rule{Condition: "(SMA_20 > SMA_50) & (SMA_20.shift(1) <= SMA_50.shift(1))"},
		ExitRules:  strategy.Rule{Condition: "(SMA_20 < SMA_50) & (SMA_20.shift(1) >= SMA_50.shift(1))"},
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultSettings())
	require.NoError(t, err)
	return e
}

func TestRunSMACrossover(t *testing.T) {
	series := waveSeries(t, 250)
	res, err := newEngine(t).Run(series, smaCross())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 250, res.DataPoints)
	assert.Len(t, res.EquityCurve, 250)
	assert.Equal(t, 100000.0, res.EquityCurve[0].Equity)
	assert.Equal(t, series.Start(), res.DateRange.Start)
	assert.Equal(t, series.End(), res.DateRange.End)
	require.NotEmpty(t, res.Trades)
	assert.Equal(t, len(res.Trades), res.NumTrades)
	assert.Equal(t, res.NumTrades, res.Metrics.NumTrades)

	for _, tr := range res.Trades {
		want := (tr.ExitPrice-tr.EntryPrice)/tr.EntryPrice - 2*0.0015
		assert.InDelta(t, want, tr.Return, 1e-12)
		assert.InDelta(t, tr.Return*100000, tr.ProfitLoss, 1e-6)
		assert.Greater(t, tr.ExitIndex, tr.EntryIndex)
		assert.Equal(t, tr.ExitIndex-tr.EntryIndex, tr.Duration)
		assert.GreaterOrEqual(t, tr.EntryIndex, 50, "no entry before the slow average is defined")
		assert.Equal(t, TradeLong, tr.Type)
	}

	final := res.EquityCurve[len(res.EquityCurve)-1].Equity
	assert.InDelta(t, final, res.Metrics.FinalCapital, 1e-6)
	assert.InDelta(t, final/100000-1, res.Metrics.TotalReturn, 1e-9)
	assert.LessOrEqual(t, res.Metrics.MaximumDrawdown, 0.0)
	assert.GreaterOrEqual(t, res.Metrics.WinRate, 0.0)
	assert.LessOrEqual(t, res.Metrics.WinRate, 100.0)
}

func TestRunIsDeterministic(t *testing.T) {
	series := waveSeries(t, 250)
	e := newEngine(t)
	a, err := e.Run(series, smaCross())
	require.NoError(t, err)
	b, err := e.Run(series, smaCross())
	require.NoError(t, err)
	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Metrics, b.Metrics)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
}

func TestRunInsufficientData(t *testing.T) {
	_, err := newEngine(t).Run(waveSeries(t, 10), smaCross())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrBacktestFailure))
	assert.True(t, errors.Is(err, errs.ErrInsufficientData))
	var de *errs.DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 50, de.Required)
	assert.Equal(t, 10, de.Got)
}

func TestRunUnknownColumn(t *testing.T) {
	cfg := smaCross()
	cfg.EntryRules.Condition = "SMA_20 > SMA_200"
	_, err := newEngine(t).Run(waveSeries(t, 100), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
	var se *errs.StrategyError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "SMA_200", se.Token)
}

func TestRunUnknownSourceColumn(t *testing.T) {
	cfg := smaCross()
	cfg.Indicators[0].Column = "Adj Close"
	_, err := newEngine(t).Run(waveSeries(t, 100), cfg)
	var se *errs.StrategyError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Adj Close", se.Token)
}

func TestRunNeverEnters(t *testing.T) {
	cfg := smaCross()
	cfg.EntryRules.Condition = "Close < 0"
	res, err := newEngine(t).Run(waveSeries(t, 120), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.NotNil(t, res.Trades)
	assert.Nil(t, res.OpenPosition)
	assert.Equal(t, 0.0, res.Metrics.TotalReturn)
	assert.Equal(t, 100000.0, res.Metrics.FinalCapital)
}

func TestRunOpenPositionAtEnd(t *testing.T) {
	cfg := smaCross()
	cfg.EntryRules.Condition = "Close > 0"
	cfg.ExitRules.Condition = "Close < 0"
	series := waveSeries(t, 60)
	res, err := newEngine(t).Run(series, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	require.NotNil(t, res.OpenPosition)
	bars := series.Bars
	assert.Equal(t, bars[0].Close, res.OpenPosition.EntryPrice)
	assert.Equal(t, bars[59].Close, res.OpenPosition.MarkPrice)
	assert.Equal(t, 59, res.OpenPosition.BarsHeld)

	// 首根入场不产生成本，权益完全跟随行情。
	last := res.EquityCurve[len(res.EquityCurve)-1]
	assert.InDelta(t, last.MarketEquity, last.Equity, 1e-6)
}

func TestNewEngineValidatesSettings(t *testing.T) {
	s := DefaultSettings()
	s.InitialCapital = 0
	_, err := NewEngine(s)
	assert.Error(t, err)
	s = DefaultSettings()
	s.CommissionRate = -0.1
	_, err = NewEngine(s)
	assert.Error(t, err)
}

func TestPositionsIdempotent(t *testing.T) {
	entry := []bool{false, true, true, false, false, true, false}
	exit := []bool{true, false, true, true, false, false, true}
	pos := Positions(entry, exit)
	assert.Equal(t, []int{0, 1, 0, 0, 0, 1, 0}, pos)

	// 首根信号同样生效；已持仓时重复的入场信号不改变持仓。
	entry2 := []bool{true, true, true, false}
	exit2 := []bool{false, false, false, true}
	assert.Equal(t, []int{1, 1, 1, 0}, Positions(entry2, exit2))

	assert.Equal(t, []int{1, 1, 1, 1}, Positions([]bool{true, false, false, false}, []bool{false, false, false, false}))
	assert.Equal(t, []int{0, 0, 1}, Positions([]bool{false, false, true}, []bool{true, true, false}))
}

func TestFirstBarEntry(t *testing.T) {
	closes := []float64{100, 105, 110, 99}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Time: t0.AddDate(0, 0, i), Close: c}
	}

	pos := Positions([]bool{true, false, false, false}, []bool{false, false, false, false})
	r := ComputeReturns(closes, pos, 0.01, 1000)
	assert.Equal(t, []float64{0, 0, 0, 0}, r.Cost)
	assert.InDelta(t, 1000*0.99, r.Equity[3], 1e-9)

	trades, open := ExtractTrades(bars, pos, 0.01, 1000)
	assert.Empty(t, trades)
	require.NotNil(t, open)
	assert.Equal(t, 100.0, open.EntryPrice)
	assert.Equal(t, 3, open.BarsHeld)

	// 首根开始的持仓在中途平仓：没有开仓变化，不进入明细。
	pos = Positions([]bool{true, false, false, false}, []bool{false, false, true, false})
	assert.Equal(t, []int{1, 1, 0, 0}, pos)
	trades, open = ExtractTrades(bars, pos, 0.01, 1000)
	assert.Empty(t, trades)
	assert.Nil(t, open)
}

func TestComputeReturnsAndTrades(t *testing.T) {
	closes := []float64{100, 110, 121, 110, 110}
	pos := []int{0, 1, 1, 0, 0}
	r := ComputeReturns(closes, pos, 0.01, 1000)
	assert.True(t, math.IsNaN(r.Market[0]))
	assert.Equal(t, []int{0, 1, 0, -1, 0}, r.Change)
	assert.Equal(t, []float64{0, 0.01, 0, 0.01, 0}, r.Cost)
	assert.InDelta(t, 0.1, r.Strategy[2], 1e-12)
	assert.InDelta(t, 110.0/121-1, r.Strategy[3], 1e-12)
	assert.InDelta(t, 1000*0.99*1.1*(110.0/121-0.01), r.Equity[4], 1e-9)
	assert.InDelta(t, r.Equity[1]+r.Equity[3], r.Turnover(), 1e-9)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Time: t0.AddDate(0, 0, i), Close: c}
	}
	trades, open := ExtractTrades(bars, pos, 0.01, 1000)
	assert.Nil(t, open)
	require.Len(t, trades, 1)
	assert.Equal(t, 1, trades[0].EntryIndex)
	assert.Equal(t, 3, trades[0].ExitIndex)
	assert.Equal(t, 2, trades[0].Duration)
	assert.InDelta(t, 0-0.02, trades[0].Return, 1e-12)
}
