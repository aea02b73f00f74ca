package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"stratlab/internal/backtest"
)

// Row 是指标表中的一行。
type Row struct {
	Label string
	Value string
}

// SummaryRows 生成指标表的行，金额以两位小数和千分位展示。
func SummaryRows(res *backtest.Result) []Row {
	if res == nil {
		return nil
	}
	m := res.Metrics
	rows := []Row{
		{"Initial capital", Money(m.InitialCapital)},
		{"Final capital", Money(m.FinalCapital)},
		{"Profit / loss", Money(m.ProfitLoss)},
		{"Total return", Percent(m.TotalReturn)},
		{"Annualized return", Percent(m.AnnualizedReturn)},
		{"Volatility", Percent(m.Volatility)},
		{"Sharpe ratio", number(m.SharpeRatio)},
		{"Sortino ratio", number(m.SortinoRatio)},
		{"Calmar ratio", number(m.CalmarRatio)},
		{"Max drawdown", Percent(m.MaximumDrawdown)},
		{"Max drawdown duration", fmt.Sprintf("%d bars", m.MaxDrawdownDuration)},
		{"Trades", fmt.Sprintf("%d (%d won / %d lost)", m.NumTrades, m.NumWinningTrades, m.NumLosingTrades)},
		{"Win rate", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"Profit factor", number(float64(m.ProfitFactor))},
		{"Avg win / loss", Percent(m.AvgWin) + " / " + Percent(m.AvgLoss)},
	}
	if m.RollingSharpe30 != nil {
		rows = append(rows, Row{"Rolling sharpe (30)", number(*m.RollingSharpe30)})
	}
	if op := res.OpenPosition; op != nil {
		rows = append(rows, Row{"Open position", fmt.Sprintf("entry %s @ %s, %s unrealized",
			op.EntryDate.UTC().Format("2006-01-02"), Money(op.EntryPrice), Percent(op.UnrealizedReturn))})
	}
	return rows
}

// Summary 返回多行纯文本摘要。
func Summary(title string, res *backtest.Result) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteByte('\n')
	}
	if res == nil {
		b.WriteString("no result\n")
		return b.String()
	}
	if !res.DateRange.Start.IsZero() {
		fmt.Fprintf(&b, "%s → %s (%d bars)\n",
			res.DateRange.Start.UTC().Format("2006-01-02"), res.DateRange.End.UTC().Format("2006-01-02"), res.DataPoints)
	}
	width := 0
	rows := SummaryRows(res)
	for _, r := range rows {
		width = max(width, len(r.Label))
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%-*s  %s\n", width, r.Label, r.Value)
	}
	return b.String()
}

// Money 按两位小数并加千分位格式化金额，例如 -1234567.891 → "-1,234,567.89"。
func Money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return number(v)
	}
	s := decimal.NewFromFloat(v).Round(2).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg && strings.Trim(intPart+frac, "0") != "" {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// Percent 把比例格式化为百分比，0.1234 → "12.34%"。
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return number(v)
	}
	return decimal.NewFromFloat(v).Shift(2).StringFixed(2) + "%"
}

func number(v float64) string {
	switch {
	case math.IsNaN(v):
		return "n/a"
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return decimal.NewFromFloat(v).StringFixed(4)
}
