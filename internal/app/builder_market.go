package app

import (
	"context"
	"fmt"
	"time"

	brcfg "stratlab/internal/config"
	"stratlab/internal/logger"
	"stratlab/internal/marketdata"
)

const defaultSourceTimeout = 15 * time.Second

// MarketStack 是 K 线存储与补数服务。
type MarketStack struct {
	Store   marketdata.CandleStore
	Service *marketdata.Service
	Sources []string
}

func buildMarketStack(ctx context.Context, cfg *brcfg.Config) (*MarketStack, error) {
	candles, err := marketdata.OpenStore(ctx, marketdata.StoreConfig{
		Backend:     cfg.Storage.Candles.Backend,
		Root:        cfg.Storage.Candles.Root,
		PostgresDSN: cfg.Storage.Candles.PostgresDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = candles.Close()
		}
	}()
	logger.Infof("✓ K 线存储: %s (%s)", cfg.Storage.Candles.Backend, cfg.Storage.Candles.Root)

	sources := buildSources(cfg.Market)
	svc, err := marketdata.NewService(marketdata.ServiceConfig{
		Store:           candles,
		Sources:         sources,
		DefaultExchange: cfg.Market.DefaultSource,
		RateLimitPerMin: cfg.Market.RateLimitPerMin,
		MaxBatch:        cfg.Market.MaxBatch,
		MaxConcurrent:   cfg.Market.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化行情服务失败: %w", err)
	}
	names := svc.SourceNames()
	if len(names) == 0 {
		logger.Warnf("[market] no candle source enabled, fetch jobs will be rejected")
	} else {
		logger.Infof("✓ 行情源: %v (默认 %s)", names, cfg.Market.DefaultSource)
	}

	success = true
	return &MarketStack{Store: candles, Service: svc, Sources: names}, nil
}

func buildSources(cfg brcfg.MarketConfig) map[string]marketdata.CandleSource {
	out := make(map[string]marketdata.CandleSource)
	for _, src := range cfg.EnabledSources() {
		switch src.Name {
		case "binance":
			out[src.Name] = marketdata.NewBinanceSource(src.RESTBaseURL, defaultSourceTimeout)
		case "alpaca":
			out[src.Name] = marketdata.NewAlpacaSource(src.APIKey, src.APISecret, src.RESTBaseURL)
		default:
			logger.Warnf("[market] unsupported source %q skipped", src.Name)
		}
	}
	return out
}
