package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stratlab/internal/pkg/errs"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// LoadCSVFile 读取 CSV 文件，symbol 默认取文件名。
func LoadCSVFile(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return Series{}, err
	}
	defer f.Close()
	series, err := LoadCSV(f)
	if err != nil {
		return Series{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if series.Symbol == "" {
		series.Symbol = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return series, nil
}

// LoadCSV 按表头解析 OHLCV：date|timestamp|time, open, high, low, close, volume。
// 行按出现顺序保留，时间必须严格递增。格式错误返回 errs.ErrInvalidData。
func LoadCSV(r io.Reader) (Series, error) {
	s, err := parseCSV(r)
	if err != nil {
		return Series{}, errs.InvalidData(err)
	}
	return s, nil
}

func parseCSV(r io.Reader) (Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Series{}, fmt.Errorf("csv is empty")
		}
		return Series{}, err
	}
	idx := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch key {
		case "date", "datetime", "timestamp", "time":
			key = "time"
		case "adj close", "adj_close":
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	for _, col := range []string{"time", "open", "high", "low", "close"} {
		if _, ok := idx[col]; !ok {
			return Series{}, fmt.Errorf("csv missing column %q", col)
		}
	}
	var symbolCol = -1
	if i, ok := idx["symbol"]; ok {
		symbolCol = i
	}

	var (
		bars   []Bar
		symbol string
		line   = 1
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Series{}, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseTime(rec[idx["time"]])
		if err != nil {
			return Series{}, fmt.Errorf("line %d: %w", line, err)
		}
		bar := Bar{Time: ts}
		fields := []struct {
			name   string
			target *float64
		}{
			{"open", &bar.Open}, {"high", &bar.High}, {"low", &bar.Low}, {"close", &bar.Close}, {"volume", &bar.Volume},
		}
		for _, f := range fields {
			col, ok := idx[f.name]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return Series{}, fmt.Errorf("line %d: column %s: %w", line, f.name, err)
			}
			*f.target = v
		}
		if symbolCol >= 0 && symbol == "" {
			symbol = strings.TrimSpace(rec[symbolCol])
		}
		bars = append(bars, bar)
	}
	return NewSeries(symbol, "", bars)
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
