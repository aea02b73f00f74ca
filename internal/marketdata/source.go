package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stratlab/internal/market"
	"stratlab/internal/pkg/circuit"
)

// FetchRequest 描述一次远端 K 线请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms（可选；0 表示不限制）
	Limit    int
}

// CandleSource 统一不同交易所/数据源的拉取行为。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}

const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = time.Minute
)

// guardedSource 为数据源加断路器，连续失败后在冷却期内直接拒绝请求。
type guardedSource struct {
	CandleSource
	breaker *circuit.Breaker
}

func guard(src CandleSource, threshold int, cooldown time.Duration) *guardedSource {
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return &guardedSource{CandleSource: src, breaker: circuit.New("source:"+src.Name(), threshold, cooldown)}
}

func (g *guardedSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	var out []market.Candle
	err := g.breaker.Do(func() error {
		var err error
		out, err = g.CandleSource.Fetch(ctx, req)
		return err
	}, countsAsFailure)
	if errors.Is(err, circuit.ErrOpen) {
		return nil, fmt.Errorf("%s: %w", g.Name(), err)
	}
	return out, err
}

// 调用方取消不算数据源故障。
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
