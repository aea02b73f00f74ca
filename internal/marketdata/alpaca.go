package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stratlab/internal/market"
)

var _ CandleSource = (*AlpacaSource)(nil)

// AlpacaSource 拉取美股 K 线，只支持 alpaca 原生的周期。
type AlpacaSource struct {
	client *marketdata.Client
	feed   marketdata.Feed
}

func NewAlpacaSource(apiKey, apiSecret, baseURL string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}
	return &AlpacaSource{client: marketdata.NewClient(opts), feed: marketdata.IEX}
}

func (a *AlpacaSource) Name() string { return "alpaca" }

type alpacaFrame struct {
	frame marketdata.TimeFrame
	step  time.Duration
}

var alpacaFrames = map[string]alpacaFrame{
	"1m":  {marketdata.OneMin, time.Minute},
	"5m":  {marketdata.NewTimeFrame(5, marketdata.Min), 5 * time.Minute},
	"15m": {marketdata.NewTimeFrame(15, marketdata.Min), 15 * time.Minute},
	"30m": {marketdata.NewTimeFrame(30, marketdata.Min), 30 * time.Minute},
	"1h":  {marketdata.OneHour, time.Hour},
	"4h":  {marketdata.NewTimeFrame(4, marketdata.Hour), 4 * time.Hour},
	"1d":  {marketdata.OneDay, 24 * time.Hour},
	"1w":  {marketdata.OneWeek, 7 * 24 * time.Hour},
}

func (a *AlpacaSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	tf, ok := alpacaFrames[strings.ToLower(req.Interval)]
	if !ok {
		return nil, fmt.Errorf("alpaca does not serve interval %q", req.Interval)
	}
	breq := marketdata.GetBarsRequest{
		TimeFrame:  tf.frame,
		Start:      time.UnixMilli(req.Start).UTC(),
		TotalLimit: req.Limit,
		Feed:       a.feed,
	}
	if req.End > 0 {
		breq.End = time.UnixMilli(req.End).UTC()
	}
	bars, err := a.client.GetBars(symbol, breq)
	if err != nil {
		return nil, fmt.Errorf("alpaca GetBars %s: %w", symbol, err)
	}
	out := make([]market.Candle, 0, len(bars))
	for _, b := range bars {
		open := b.Timestamp.UnixMilli()
		out = append(out, market.Candle{
			OpenTime:  open,
			CloseTime: open + tf.step.Milliseconds() - 1,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
			Trades:    int64(b.TradeCount),
		})
	}
	return out, nil
}
