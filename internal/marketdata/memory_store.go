package marketdata

import (
	"context"
	"sync"
	"time"

	"stratlab/internal/market"
)

var _ CandleStore = (*MemoryStore)(nil)

// MemoryStore 把 K 线保存在进程内，用于测试和临时数据。
type MemoryStore struct {
	mu       sync.RWMutex
	series   map[string][]market.Candle
	syncedAt map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: map[string][]market.Candle{}, syncedAt: map[string]int64{}}
}

func (m *MemoryStore) InsertCandles(_ context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	key, err := storeKey(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[key] = mergeCandles(m.series[key], candles)
	m.syncedAt[key] = time.Now().UnixMilli()
	return len(candles), nil
}

func (m *MemoryStore) snapshot(symbol, timeframe string) ([]market.Candle, error) {
	key, err := storeKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.series[key], nil
}

func (m *MemoryStore) LoadOpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	list, err := m.RangeCandles(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	return market.Candles(list).OpenTimes(), nil
}

func (m *MemoryStore) RangeCandles(_ context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	all, err := m.snapshot(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return inRange(all, start, end), nil
}

func (m *MemoryStore) QueryCandles(_ context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	all, err := m.snapshot(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return selectWindow(all, start, end, limit), nil
}

func (m *MemoryStore) Manifest(_ context.Context, symbol, timeframe string) (Manifest, error) {
	key, err := storeKey(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return buildManifest(symbol, timeframe, m.series[key], m.syncedAt[key]), nil
}

func (m *MemoryStore) Close() error { return nil }

func inRange(sorted []market.Candle, start, end int64) []market.Candle {
	if end < start {
		start, end = end, start
	}
	var out []market.Candle
	for _, c := range sorted {
		if c.OpenTime >= start && c.OpenTime <= end {
			out = append(out, c)
		}
	}
	return out
}

func buildManifest(symbol, timeframe string, sorted []market.Candle, syncedAt int64) Manifest {
	m := Manifest{Symbol: symbol, Timeframe: timeframe, Rows: int64(len(sorted)), LastSyncAt: syncedAt}
	if n := len(sorted); n > 0 {
		m.MinTime = sorted[0].OpenTime
		m.MaxTime = sorted[n-1].OpenTime
	}
	return m
}
