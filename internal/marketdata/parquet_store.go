package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"stratlab/internal/market"
)

var _ CandleStore = (*ParquetStore)(nil)

// candleRecord 是 parquet 文件中的行结构。
type candleRecord struct {
	OpenTime  int64   `parquet:"open_time,timestamp(millisecond)"`
	CloseTime int64   `parquet:"close_time"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
	Trades    int64   `parquet:"trades"`
}

// ParquetStore 按年分区归档：<root>/<SYMBOL>/<tf>/<YYYY>.parquet，写入时按 open_time 合并。
type ParquetStore struct {
	root string
	mu   sync.RWMutex
}

func NewParquetStore(root string) (*ParquetStore, error) {
	if root == "" {
		return nil, fmt.Errorf("candle root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &ParquetStore{root: root}, nil
}

func (p *ParquetStore) dir(symbol, timeframe string) string {
	return filepath.Join(p.root, strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(timeframe)))
}

func (p *ParquetStore) yearPath(symbol, timeframe string, year int) string {
	return filepath.Join(p.dir(symbol, timeframe), fmt.Sprintf("%04d.parquet", year))
}

func (p *ParquetStore) InsertCandles(_ context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	if _, err := storeKey(symbol, timeframe); err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	groups := map[int][]market.Candle{}
	for _, c := range candles {
		year := time.UnixMilli(c.OpenTime).UTC().Year()
		groups[year] = append(groups[year], c)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for year, list := range groups {
		path := p.yearPath(symbol, timeframe, year)
		existing, err := readCandles(path)
		if err != nil {
			return 0, err
		}
		merged := mergeCandles(existing, list)
		if err := writeCandles(path, merged); err != nil {
			return 0, fmt.Errorf("write %s %s %d: %w", symbol, timeframe, year, err)
		}
	}
	return len(candles), nil
}

func (p *ParquetStore) years(symbol, timeframe string) ([]int, error) {
	entries, err := os.ReadDir(p.dir(symbol, timeframe))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		y, err := strconv.Atoi(strings.TrimSuffix(name, ".parquet"))
		if err != nil {
			continue
		}
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

// load 读取与 [start,end] 相交的年份文件；start/end 为 0 时不限制。
func (p *ParquetStore) load(symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if _, err := storeKey(symbol, timeframe); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	years, err := p.years(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	var out []market.Candle
	for _, y := range years {
		if start > 0 && y < time.UnixMilli(start).UTC().Year() {
			continue
		}
		if end > 0 && y > time.UnixMilli(end).UTC().Year() {
			continue
		}
		list, err := readCandles(p.yearPath(symbol, timeframe, y))
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

func (p *ParquetStore) LoadOpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	list, err := p.RangeCandles(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	return market.Candles(list).OpenTimes(), nil
}

func (p *ParquetStore) RangeCandles(_ context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if end < start {
		start, end = end, start
	}
	all, err := p.load(symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	return inRange(all, start, end), nil
}

func (p *ParquetStore) QueryCandles(_ context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	all, err := p.load(symbol, timeframe, 0, 0)
	if err != nil {
		return nil, err
	}
	return selectWindow(all, start, end, limit), nil
}

func (p *ParquetStore) Manifest(_ context.Context, symbol, timeframe string) (Manifest, error) {
	all, err := p.load(symbol, timeframe, 0, 0)
	if err != nil {
		return Manifest{}, err
	}
	var synced int64
	if info, err := os.Stat(p.dir(symbol, timeframe)); err == nil {
		synced = info.ModTime().UnixMilli()
	}
	m := buildManifest(strings.ToUpper(symbol), strings.ToLower(timeframe), all, synced)
	m.Path = p.dir(symbol, timeframe)
	return m, nil
}

func (p *ParquetStore) Close() error { return nil }

func readCandles(path string) ([]market.Candle, error) {
	rows, err := parquet.ReadFile[candleRecord](path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make([]market.Candle, len(rows))
	for i, r := range rows {
		out[i] = market.Candle{
			OpenTime:  r.OpenTime,
			CloseTime: r.CloseTime,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			Trades:    r.Trades,
		}
	}
	return out, nil
}

func writeCandles(path string, candles []market.Candle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rows := make([]candleRecord, len(candles))
	for i, c := range candles {
		rows[i] = candleRecord{
			OpenTime:  c.OpenTime,
			CloseTime: c.CloseTime,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Trades:    c.Trades,
		}
	}
	return parquet.WriteFile(path, rows)
}
