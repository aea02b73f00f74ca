// Package report 把回测结果渲染为 HTML 图表、PNG 快照与文字摘要。
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"stratlab/internal/backtest"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorMarket        = "#fbbf24"
	colorDrawdown      = "#f472b6"
)

// Input 是一次渲染所需的数据。
type Input struct {
	Title    string
	Symbol   string
	Interval string
	Result   *backtest.Result
}

func (in Input) validate() error {
	if in.Result == nil {
		return fmt.Errorf("report: backtest result is required")
	}
	if len(in.Result.EquityCurve) == 0 {
		return fmt.Errorf("report: equity curve is empty")
	}
	return nil
}

func (in Input) heading() string {
	parts := []string{}
	if in.Title != "" {
		parts = append(parts, in.Title)
	}
	if in.Symbol != "" {
		parts = append(parts, strings.ToUpper(in.Symbol))
	}
	if in.Interval != "" {
		parts = append(parts, in.Interval)
	}
	if len(parts) == 0 {
		return "Backtest"
	}
	return strings.Join(parts, " · ")
}

// RenderHTML 生成包含权益曲线、回撤、逐笔收益和指标表的独立 HTML 页面。
func RenderHTML(in Input, width, height int) ([]byte, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	page := components.NewPage()
	page.PageTitle = in.heading()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(in.Result.EquityCurve)
	page.AddCharts(
		buildEquityChart(in, xAxis, width, height/2),
		buildDrawdownChart(in.Result.EquityCurve, xAxis, width, height/4),
	)
	if len(in.Result.Trades) > 0 {
		page.AddCharts(buildTradeChart(in.Result.Trades, width, height/4))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	table, err := metricsTable(in.Result)
	if err != nil {
		return nil, err
	}
	html := buf.String()
	if idx := strings.LastIndex(html, "</body>"); idx >= 0 {
		html = html[:idx] + table + html[idx:]
	} else {
		html += table
	}
	return []byte(html), nil
}

func initOpts(width, height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", width),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func axisOpts() (opts.XAxis, opts.YAxis) {
	return opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}, opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}
}

func buildXAxis(curve []backtest.EquityPoint) []string {
	x := make([]string, len(curve))
	for i, p := range curve {
		x[i] = p.Timestamp.UTC().Format("2006-01-02 15:04")
	}
	return x
}

func buildEquityChart(in Input, xAxis []string, width, height int) *charts.Line {
	xo, yo := axisOpts()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(width, height)),
		charts.WithTitleOpts(opts.Title{
			Title:         in.heading(),
			Subtitle:      fmt.Sprintf("trades %d | total return %.2f%% | sharpe %.2f", in.Result.NumTrades, in.Result.Metrics.TotalReturn*100, in.Result.Metrics.SharpeRatio),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(xo),
		charts.WithYAxisOpts(yo),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	equity := make([]float64, len(in.Result.EquityCurve))
	market := make([]float64, len(in.Result.EquityCurve))
	for i, p := range in.Result.EquityCurve {
		equity[i] = p.Equity
		market[i] = p.MarketEquity
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Strategy", toLineData(equity, 2), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("Buy & Hold", toLineData(market, 2), charts.WithLineStyleOpts(opts.LineStyle{Color: colorMarket, Width: 1}))
	return line
}

// Drawdowns 返回每个时点相对历史峰值的回撤（<=0）。
func Drawdowns(curve []backtest.EquityPoint) []float64 {
	out := make([]float64, len(curve))
	peak := math.Inf(-1)
	for i, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			out[i] = p.Equity/peak - 1
		}
	}
	return out
}

func buildDrawdownChart(curve []backtest.EquityPoint, xAxis []string, width, height int) *charts.Line {
	xo, yo := axisOpts()
	xo.AxisLabel = &opts.AxisLabel{Show: opts.Bool(false)}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(width, height)),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(xo),
		charts.WithYAxisOpts(yo),
	)
	dd := Drawdowns(curve)
	for i := range dd {
		dd[i] *= 100
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", toLineData(dd, 2),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.25)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildTradeChart(trades []backtest.Trade, width, height int) *charts.Bar {
	xo, yo := axisOpts()
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(width, height)),
		charts.WithTitleOpts(opts.Title{Title: "Trade return %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(xo),
		charts.WithYAxisOpts(yo),
	)
	x := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, tr := range trades {
		x[i] = tr.ExitDate.UTC().Format("2006-01-02")
		color := colorBear
		if tr.Return >= 0 {
			color = colorBull
		}
		data[i] = opts.BarData{Value: round(tr.Return*100, 3), ItemStyle: &opts.ItemStyle{Color: color}}
	}
	bar.SetXAxis(x)
	bar.AddSeries("Return", data)
	return bar
}

func toLineData(series []float64, decimals int) []opts.LineData {
	out := make([]opts.LineData, len(series))
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = opts.LineData{Value: nil}
			continue
		}
		out[i] = opts.LineData{Value: round(v, decimals)}
	}
	return out
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

var tableTmpl = template.Must(template.New("metrics").Parse(`
<div style="background:#060c1b;color:#eceff4;font-family:sans-serif;padding:16px">
<h3>Metrics</h3>
<table style="border-collapse:collapse">
{{range .}}<tr><td style="padding:2px 16px 2px 0;color:#9ca3af">{{.Label}}</td><td style="text-align:right">{{.Value}}</td></tr>
{{end}}</table>
</div>
`))

func metricsTable(res *backtest.Result) (string, error) {
	var buf bytes.Buffer
	if err := tableTmpl.Execute(&buf, SummaryRows(res)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
