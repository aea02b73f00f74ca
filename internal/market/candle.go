package market

import "time"

// Candle 是存储层使用的 K 线结构（毫秒时间戳）。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

type Candles []Candle

// TimeString 以收盘时间（缺省开盘时间）格式化 K 线时间。
func (c Candle) TimeString() string {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	if ts <= 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("2006-01-02 15:04") + "Z"
}

// Bar 转换为引擎使用的 Bar，时间取开盘时间。
func (c Candle) Bar() Bar {
	return Bar{
		Time:   time.UnixMilli(c.OpenTime).UTC(),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// OpenTimes 返回所有 K 线的开盘时间。
func (cs Candles) OpenTimes() []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.OpenTime
	}
	return out
}
