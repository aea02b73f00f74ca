package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"stratlab/internal/market"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/strategy"
)

// StrategyRef 指定策略，优先级：内联文档 > 存储 ID > 名称。
// 名称依次在用户策略库、内置策略库和存储中查找。
type StrategyRef struct {
	Document   json.RawMessage `json:"strategy,omitempty"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Name       string          `json:"strategy_name,omitempty"`
}

// SeriesRef 指定价格数据，优先级：内联 bars > 内联 CSV > CSV 文件 > 本地 K 线存储。
type SeriesRef struct {
	Symbol    string       `json:"symbol,omitempty"`
	Interval  string       `json:"interval,omitempty"`
	Bars      []market.Bar `json:"bars,omitempty"`
	CSV       string       `json:"csv,omitempty"`
	CSVPath   string       `json:"csv_path,omitempty"`
	StartTime int64        `json:"start_ts,omitempty"`
	EndTime   int64        `json:"end_ts,omitempty"`
}

// ResolveStrategy 解析策略引用。
func (r *Runner) ResolveStrategy(ctx context.Context, ref StrategyRef) (strategy.Strategy, error) {
	switch {
	case len(ref.Document) > 0 && string(ref.Document) != "null":
		return strategy.DecodeDocument(ref.Document, "Custom Strategy")
	case ref.StrategyID != "":
		if r.store == nil {
			return strategy.Strategy{}, fmt.Errorf("strategy %s: %w (no store configured)", ref.StrategyID, errs.ErrNotFound)
		}
		return r.store.GetStrategy(ctx, ref.StrategyID)
	case strings.TrimSpace(ref.Name) != "":
		return r.strategyByName(ctx, strings.TrimSpace(ref.Name))
	}
	return strategy.Strategy{}, errs.InvalidStrategy("strategy, strategy_id or strategy_name is required", "")
}

func (r *Runner) strategyByName(ctx context.Context, name string) (strategy.Strategy, error) {
	if r.library != nil {
		if s, ok := r.library.Get(name); ok {
			return s, nil
		}
	}
	if s, ok := strategy.PrebuiltByName(name); ok {
		return s, nil
	}
	if r.store != nil {
		return r.store.GetStrategyByName(ctx, name)
	}
	return strategy.Strategy{}, fmt.Errorf("strategy %q: %w", name, errs.ErrNotFound)
}

// ResolveSeries 加载价格数据。
func (r *Runner) ResolveSeries(ctx context.Context, ref SeriesRef) (market.Series, error) {
	var (
		s   market.Series
		err error
	)
	switch {
	case len(ref.Bars) > 0:
		return market.NewSeries(ref.Symbol, ref.Interval, ref.Bars)
	case strings.TrimSpace(ref.CSV) != "":
		s, err = market.LoadCSV(strings.NewReader(ref.CSV))
	case ref.CSVPath != "":
		path, perr := r.csvPath(ref.CSVPath)
		if perr != nil {
			return market.Series{}, perr
		}
		s, err = market.LoadCSVFile(path)
	case ref.Symbol != "" && ref.Interval != "":
		if r.market == nil {
			return market.Series{}, fmt.Errorf("market data service is not configured")
		}
		end := ref.EndTime
		if end == 0 {
			end = time.Now().UnixMilli()
		}
		return r.market.LoadSeries(ctx, ref.Symbol, ref.Interval, ref.StartTime, end)
	default:
		return market.Series{}, errs.InsufficientData("price data (bars, csv, csv_path or symbol+interval)", 1, 0)
	}
	if err != nil {
		return market.Series{}, err
	}
	if ref.Symbol != "" {
		s.Symbol = ref.Symbol
	}
	if ref.Interval != "" {
		s.Interval = ref.Interval
	}
	return s, nil
}

// IsZero 表示没有指定任何策略来源。
func (ref StrategyRef) IsZero() bool {
	return (len(ref.Document) == 0 || string(ref.Document) == "null") && ref.StrategyID == "" && strings.TrimSpace(ref.Name) == ""
}

// IsZero 表示没有指定任何数据来源。
func (ref SeriesRef) IsZero() bool {
	return len(ref.Bars) == 0 && strings.TrimSpace(ref.CSV) == "" && ref.CSVPath == "" && (ref.Symbol == "" || ref.Interval == "")
}

// csvPath 把 csv_path 限定在 CSVRoot 内，符号链接解析后再检查。
func (r *Runner) csvPath(p string) (string, error) {
	if r.localFiles {
		return p, nil
	}
	if r.csvRoot == "" {
		return "", errs.InvalidData(errors.New("csv_path is not enabled on this server"))
	}
	if filepath.IsAbs(p) {
		return "", errs.InvalidData(errors.New("csv_path must be relative to the data root"))
	}
	joined := filepath.Join(r.csvRoot, p)
	if !within(r.csvRoot, joined) {
		return "", errs.InvalidData(fmt.Errorf("csv_path %q is outside the data root", p))
	}
	full, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("csv file %q: %w", p, errs.ErrNotFound)
		}
		return "", errs.InvalidData(fmt.Errorf("csv_path %q is not readable", p))
	}
	if !within(r.csvRoot, full) {
		return "", errs.InvalidData(fmt.Errorf("csv_path %q is outside the data root", p))
	}
	return full, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func resolveRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
