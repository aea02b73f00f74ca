package report

import (
	"context"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/backtest"
	"stratlab/internal/metrics"
)

func sampleResult() *backtest.Result {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	equity := []float64{1000, 1100, 990, 1050, 1200}
	curve := make([]backtest.EquityPoint, len(equity))
	for i, e := range equity {
		curve[i] = backtest.EquityPoint{Timestamp: t0.AddDate(0, 0, i), Equity: e, MarketEquity: 1000 + float64(i)*20}
	}
	return &backtest.Result{
		Success:     true,
		NumTrades:   2,
		EquityCurve: curve,
		DataPoints:  len(curve),
		DateRange:   backtest.DateRange{Start: curve[0].Timestamp, End: curve[4].Timestamp},
		Trades: []backtest.Trade{
			{EntryDate: t0, ExitDate: t0.AddDate(0, 0, 1), Return: 0.1, Type: backtest.TradeLong},
			{EntryDate: t0.AddDate(0, 0, 2), ExitDate: t0.AddDate(0, 0, 3), Return: -0.05, Type: backtest.TradeLong},
		},
		Metrics: metrics.Bundle{
			InitialCapital:  1000,
			FinalCapital:    1200,
			ProfitLoss:      200,
			TotalReturn:     0.2,
			SharpeRatio:     1.5,
			MaximumDrawdown: -0.1,
			NumTrades:       2,
			WinRate:         50,
			ProfitFactor:    metrics.Ratio(math.Inf(1)),
		},
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(Input{Title: "SMA Crossover", Symbol: "btcusdt", Interval: "1d", Result: sampleResult()}, 800, 600)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "SMA Crossover · BTCUSDT · 1d")
	assert.Contains(t, page, "Hold")
	assert.Contains(t, page, "Drawdown %")
	assert.Contains(t, page, "Trade return %")
	assert.Contains(t, page, "slider")
	assert.Contains(t, page, "Final capital")
	assert.Contains(t, page, "1,200.00")
	assert.Less(t, strings.Index(page, "Metrics"), strings.LastIndex(page, "</body>"))
}

func TestRenderHTMLRequiresCurve(t *testing.T) {
	_, err := RenderHTML(Input{}, 0, 0)
	assert.Error(t, err)
	_, err = RenderHTML(Input{Result: &backtest.Result{}}, 0, 0)
	assert.Error(t, err)
}

func TestDrawdowns(t *testing.T) {
	dd := Drawdowns(sampleResult().EquityCurve)
	require.Len(t, dd, 5)
	assert.Equal(t, 0.0, dd[0])
	assert.Equal(t, 0.0, dd[1])
	assert.InDelta(t, -0.1, dd[2], 1e-12)
	assert.InDelta(t, 1050.0/1100-1, dd[3], 1e-12)
	assert.Equal(t, 0.0, dd[4])
}

func TestMoney(t *testing.T) {
	cases := map[float64]string{
		0:            "0.00",
		12.345:       "12.35",
		1000:         "1,000.00",
		-1234567.891: "-1,234,567.89",
		999999.999:   "1,000,000.00",
		-0.001:       "0.00",
	}
	for in, want := range cases {
		assert.Equal(t, want, Money(in), "Money(%v)", in)
	}
	assert.Equal(t, "Inf", Money(math.Inf(1)))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "12.34%", Percent(0.1234))
	assert.Equal(t, "-10.00%", Percent(-0.1))
	assert.Equal(t, "n/a", Percent(math.NaN()))
}

func TestSummary(t *testing.T) {
	text := Summary("demo", sampleResult())
	assert.True(t, strings.HasPrefix(text, "demo\n"))
	assert.Contains(t, text, "2024-01-01 → 2024-01-05 (5 bars)")
	assert.Contains(t, text, "Total return")
	assert.Contains(t, text, "20.00%")
	assert.Contains(t, text, "Profit factor")
	assert.Contains(t, text, "Inf")
	assert.Contains(t, Summary("", nil), "no result")
}

func TestRendererWrite(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(Options{Dir: dir})
	files, err := r.Write(context.Background(), "run-1", Input{Title: "demo", Result: sampleResult()})
	require.NoError(t, err)
	assert.Empty(t, files.PNG)
	for _, path := range []string{files.HTML, files.Summary} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = r.Write(context.Background(), "", Input{Result: sampleResult()})
	assert.Error(t, err)
	_, err = NewRenderer(Options{}).Write(context.Background(), "x", Input{Result: sampleResult()})
	assert.Error(t, err)
}
