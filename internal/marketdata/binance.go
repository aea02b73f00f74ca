package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"stratlab/internal/market"
)

const binanceMaxLimit = 1500

var _ CandleSource = (*BinanceSource)(nil)

// BinanceSource 基于 go-binance 的 USDT 合约 K 线接口。
type BinanceSource struct {
	client *futures.Client
}

// NewBinanceSource 创建数据源；base 为空时使用 SDK 默认地址。
func NewBinanceSource(base string, timeout time.Duration) *BinanceSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := futures.NewClient("", "")
	if base = strings.TrimSpace(base); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	symbol := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(req.Symbol), "/", ""))
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol/interval is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > binanceMaxLimit {
		limit = 1000
	}
	svc := b.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return dropUnclosed(out, time.Now()), nil
}

// dropUnclosed 去掉尚未收盘的最后一根。
func dropUnclosed(list []market.Candle, now time.Time) []market.Candle {
	if n := len(list); n > 0 && list[n-1].CloseTime > now.UnixMilli() {
		return list[:n-1]
	}
	return list
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
