package market

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"stratlab/internal/pkg/errs"
)

// 价格列名，条件表达式按原名引用。
const (
	ColumnOpen   = "Open"
	ColumnHigh   = "High"
	ColumnLow    = "Low"
	ColumnClose  = "Close"
	ColumnVolume = "Volume"
)

// PriceColumns 按固定顺序列出价格列。
var PriceColumns = []string{ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume}

// Bar 是一根 OHLCV 数据。
type Bar struct {
	Time   time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series 是按时间严格递增的 Bar 序列。
type Series struct {
	Symbol   string `json:"symbol,omitempty"`
	Interval string `json:"interval,omitempty"`
	Bars     []Bar  `json:"bars"`
}

// NewSeries 校验并构造 Series。
func NewSeries(symbol, interval string, bars []Bar) (Series, error) {
	s := Series{Symbol: symbol, Interval: interval, Bars: bars}
	if err := s.Validate(); err != nil {
		return Series{}, errs.InvalidData(err)
	}
	return s, nil
}

// FromCandles 将存储层 K 线转换为 Series。
func FromCandles(symbol, interval string, candles []Candle) (Series, error) {
	bars := make([]Bar, len(candles))
	for i, c := range candles {
		bars[i] = c.Bar()
	}
	return NewSeries(symbol, interval, bars)
}

// Validate 检查时间严格递增且收盘价为有限正数。
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if i > 0 && !b.Time.After(s.Bars[i-1].Time) {
			return fmt.Errorf("bar %d: timestamp %s is not after %s", i, b.Time.Format(time.RFC3339), s.Bars[i-1].Time.Format(time.RFC3339))
		}
		if math.IsNaN(b.Close) || math.IsInf(b.Close, 0) || b.Close <= 0 {
			return fmt.Errorf("bar %d: close must be a positive finite number, got %v", i, b.Close)
		}
		for _, v := range []float64{b.Open, b.High, b.Low, b.Volume} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("bar %d: non-finite value", i)
			}
		}
	}
	return nil
}

// RequireBars 检查最小长度。
func (s Series) RequireBars(min int) error {
	if len(s.Bars) < min {
		return errs.InsufficientData("backtest", min, len(s.Bars))
	}
	return nil
}

func (s Series) Len() int { return len(s.Bars) }

// Column 返回价格列；名称需与 PriceColumns 完全一致。
func (s Series) Column(name string) ([]float64, bool) {
	var pick func(Bar) float64
	switch name {
	case ColumnOpen:
		pick = func(b Bar) float64 { return b.Open }
	case ColumnHigh:
		pick = func(b Bar) float64 { return b.High }
	case ColumnLow:
		pick = func(b Bar) float64 { return b.Low }
	case ColumnClose:
		pick = func(b Bar) float64 { return b.Close }
	case ColumnVolume:
		pick = func(b Bar) float64 { return b.Volume }
	default:
		return nil, false
	}
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = pick(b)
	}
	return out, true
}

// Closes 是 Column(Close) 的快捷方式。
func (s Series) Closes() []float64 {
	out, _ := s.Column(ColumnClose)
	return out
}

// Start 返回首根时间，空序列返回零值。
func (s Series) Start() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[0].Time
}

// End 返回末根时间。
func (s Series) End() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[len(s.Bars)-1].Time
}

// Slice 返回 [from,to) 的子序列（共享底层数组）。
func (s Series) Slice(from, to int) Series {
	if from < 0 {
		from = 0
	}
	if to > len(s.Bars) {
		to = len(s.Bars)
	}
	if from > to {
		from = to
	}
	return Series{Symbol: s.Symbol, Interval: s.Interval, Bars: s.Bars[from:to]}
}

// Fingerprint 对全部 OHLCV 数据做哈希，用作缓存键。
func (s Series) Fingerprint() string {
	h := sha256.New()
	buf := make([]byte, 8)
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf, v)
		h.Write(buf)
	}
	h.Write([]byte(s.Symbol + "|" + s.Interval + "|"))
	for _, b := range s.Bars {
		write(uint64(b.Time.UnixNano()))
		write(math.Float64bits(b.Open))
		write(math.Float64bits(b.High))
		write(math.Float64bits(b.Low))
		write(math.Float64bits(b.Close))
		write(math.Float64bits(b.Volume))
	}
	return hex.EncodeToString(h.Sum(nil))
}
