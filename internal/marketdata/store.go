package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"stratlab/internal/market"
)

// Manifest 记录某个 symbol@timeframe 的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path,omitempty"`
}

// CandleStore 是 K 线的持久化后端，实现需并发安全。
// 时间参数均为开盘时间（Unix ms），区间为闭区间。
type CandleStore interface {
	// InsertCandles 批量写入，重复 open_time 覆盖旧值，返回写入条数。
	InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error)
	LoadOpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error)
	RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
	// QueryCandles 只给 start 时取其后 limit 根，只给 end 或都不给时取最近 limit 根，结果均为升序。
	QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error)
	Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error)
	Close() error
}

// 后端名称。
const (
	BackendSQLite   = "sqlite"
	BackendParquet  = "parquet"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// StoreConfig 选择并配置 K 线后端。
type StoreConfig struct {
	Backend     string
	Root        string
	PostgresDSN string
}

// OpenStore 按配置创建 K 线后端。
func OpenStore(ctx context.Context, cfg StoreConfig) (CandleStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg.Root)
	case BackendParquet:
		return NewParquetStore(cfg.Root)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown candle backend %q", cfg.Backend)
	}
}

func storeKey(symbol, timeframe string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	timeframe = strings.ToLower(strings.TrimSpace(timeframe))
	if symbol == "" || timeframe == "" {
		return "", fmt.Errorf("symbol/timeframe is required")
	}
	return symbol + "@" + timeframe, nil
}

// normKey 返回规范化的 symbol（大写）与 timeframe（小写）。
func normKey(symbol, timeframe string) (string, string, error) {
	if _, err := storeKey(symbol, timeframe); err != nil {
		return "", "", err
	}
	return strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(timeframe)), nil
}

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 2000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// selectWindow 对升序 K 线应用 QueryCandles 的语义。
func selectWindow(sorted []market.Candle, start, end int64, limit int) []market.Candle {
	limit = clampLimit(limit)
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}
	lo := 0
	if start > 0 {
		lo = sort.Search(len(sorted), func(i int) bool { return sorted[i].OpenTime >= start })
	}
	hi := len(sorted)
	if end > 0 {
		hi = sort.Search(len(sorted), func(i int) bool { return sorted[i].OpenTime > end })
	}
	if hi < lo {
		hi = lo
	}
	win := sorted[lo:hi]
	if len(win) > limit {
		if start > 0 {
			win = win[:limit]
		} else {
			win = win[len(win)-limit:]
		}
	}
	return append([]market.Candle(nil), win...)
}

// mergeCandles 按 open_time 去重合并，新数据优先，结果升序。
func mergeCandles(existing, incoming []market.Candle) []market.Candle {
	seen := make(map[int64]market.Candle, len(existing)+len(incoming))
	for _, c := range existing {
		seen[c.OpenTime] = c
	}
	for _, c := range incoming {
		seen[c.OpenTime] = c
	}
	merged := make([]market.Candle, 0, len(seen))
	for _, c := range seen {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime < merged[j].OpenTime })
	return merged
}
