package backtest

import (
	"time"

	"stratlab/internal/market"
)

// TradeLong 是唯一支持的方向。
const TradeLong = "LONG"

// Trade 是一笔已平仓交易。
type Trade struct {
	EntryDate  time.Time `json:"entry_date"`
	ExitDate   time.Time `json:"exit_date"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Return     float64   `json:"return"`
	ProfitLoss float64   `json:"profit_loss"`
	Duration   int       `json:"duration"`
	Type       string    `json:"type"`
	EntryIndex int       `json:"entry_index"`
	ExitIndex  int       `json:"exit_index"`
}

// OpenPosition 描述序列结束时仍未平仓的持仓，按最后收盘价估值，不计入交易明细。
type OpenPosition struct {
	EntryDate        time.Time `json:"entry_date"`
	EntryPrice       float64   `json:"entry_price"`
	MarkPrice        float64   `json:"mark_price"`
	UnrealizedReturn float64   `json:"unrealized_return"`
	BarsHeld         int       `json:"bars_held"`
}

// ExtractTrades 根据持仓序列生成交易明细。
// 0→1 以当根收盘价开仓，下一次 1→0 平仓；收益扣除双边成本。
// 首根即持仓没有开仓变化，不进入明细；若持有到序列结束，仍作为 OpenPosition 报告。
func ExtractTrades(bars []market.Bar, pos []int, costRate, capital float64) ([]Trade, *OpenPosition) {
	trades := []Trade{}
	pending := -1
	n := min(len(bars), len(pos))
	for t := 1; t < n; t++ {
		change := pos[t] - pos[t-1]
		switch {
		case change > 0:
			pending = t
		case change < 0 && pending >= 0:
			entry, exit := bars[pending], bars[t]
			ret := (exit.Close-entry.Close)/entry.Close - 2*costRate
			trades = append(trades, Trade{
				EntryDate:  entry.Time,
				ExitDate:   exit.Time,
				EntryPrice: entry.Close,
				ExitPrice:  exit.Close,
				Return:     ret,
				ProfitLoss: ret * capital,
				Duration:   t - pending,
				Type:       TradeLong,
				EntryIndex: pending,
				ExitIndex:  t,
			})
			pending = -1
		}
	}
	if n == 0 || pos[n-1] != Long {
		return trades, nil
	}
	if pending < 0 {
		pending = 0
	}
	entry, last := bars[pending], bars[n-1]
	return trades, &OpenPosition{
		EntryDate:        entry.Time,
		EntryPrice:       entry.Close,
		MarkPrice:        last.Close,
		UnrealizedReturn: (last.Close-entry.Close)/entry.Close - 2*costRate,
		BarsHeld:         n - 1 - pending,
	}
}
