package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stratlab/internal/backtest"
	"stratlab/internal/kvstore"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/report"
	"stratlab/internal/store/gormstore"
	"stratlab/internal/strategy"
)

// BacktestRequest 是一次回测请求。
type BacktestRequest struct {
	StrategyRef
	Data     SeriesRef         `json:"data"`
	Settings *SettingsOverride `json:"settings,omitempty"`
	// Params 在运行前覆盖可优化参数的默认值。
	Params map[string]float64 `json:"params,omitempty"`
	Save   bool               `json:"save"`
	Report bool               `json:"report"`
}

// BacktestResponse 是一次回测的输出。ID 仅在落库后存在。
type BacktestResponse struct {
	ID         string           `json:"id,omitempty"`
	Strategy   string           `json:"strategy"`
	StrategyID string           `json:"strategy_id,omitempty"`
	Symbol     string           `json:"symbol,omitempty"`
	Interval   string           `json:"interval,omitempty"`
	Cached     bool             `json:"cached"`
	Result     *backtest.Result `json:"result"`
	Report     *report.Files    `json:"report,omitempty"`
}

// Backtest 解析策略与数据并执行回测，结果按数据指纹缓存。
func (r *Runner) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	st, err := r.ResolveStrategy(ctx, req.StrategyRef)
	if err != nil {
		return nil, err
	}
	series, err := r.ResolveSeries(ctx, req.Data)
	if err != nil {
		return nil, err
	}
	return r.BacktestSeries(ctx, st, series, req)
}

// BacktestSeries 在已加载的数据上回测，供编排器复用上一步的数据。
func (r *Runner) BacktestSeries(ctx context.Context, st strategy.Strategy, series market.Series, req BacktestRequest) (*BacktestResponse, error) {
	settings := req.Settings.apply(r.settings)
	cfg := st.Config
	if len(req.Params) > 0 {
		applied, err := st.Config.Apply(st.OptimizableParams, req.Params)
		if err != nil {
			return nil, err
		}
		cfg = applied
	}
	res, cached, err := r.run(ctx, series, cfg, settings)
	if err != nil {
		return nil, err
	}
	out := &BacktestResponse{
		Strategy:   st.Name,
		StrategyID: st.ID,
		Symbol:     series.Symbol,
		Interval:   series.Interval,
		Cached:     cached,
		Result:     res,
	}
	if req.Save && r.store != nil {
		rec := &gormstore.BacktestRecord{
			StrategyID:   st.ID,
			StrategyName: st.Name,
			Symbol:       series.Symbol,
			Interval:     series.Interval,
			Config:       cfg,
			Result:       res,
		}
		if err := r.store.SaveBacktest(ctx, rec); err != nil {
			return nil, fmt.Errorf("save backtest: %w", err)
		}
		out.ID = rec.ID
	}
	if req.Report && r.reports != nil {
		id := out.ID
		if id == "" {
			id = uuid.NewString()
		}
		files, err := r.reports.Write(ctx, id, report.Input{Title: st.Name, Symbol: series.Symbol, Interval: series.Interval, Result: res})
		if err != nil {
			logger.Warnf("[report] backtest %s: %v", id, err)
		} else {
			out.Report = &files
		}
	}
	return out, nil
}

func (r *Runner) run(ctx context.Context, series market.Series, cfg strategy.Config, settings backtest.Settings) (*backtest.Result, bool, error) {
	key, err := CacheKey(series, cfg, settings)
	if err != nil {
		return nil, false, err
	}
	var cached backtest.Result
	switch err := kvstore.GetJSON(ctx, r.cache, key, &cached); {
	case err == nil:
		logger.Debugf("[backtest] cache hit %s", key)
		return &cached, true, nil
	case !errors.Is(err, kvstore.ErrMiss):
		logger.Warnf("[backtest] cache read %s: %v", key, err)
	}
	engine, err := backtest.NewEngine(settings)
	if err != nil {
		return nil, false, err
	}
	res, err := engine.Run(series, cfg)
	if err != nil {
		return nil, false, err
	}
	if err := kvstore.SetJSON(ctx, r.cache, key, res, r.ttl); err != nil {
		logger.Warnf("[backtest] cache write %s: %v", key, err)
	}
	return res, false, nil
}

// CacheKey 由数据指纹、策略配置与回测参数的 sha256 组成。
func CacheKey(series market.Series, cfg strategy.Config, settings backtest.Settings) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	setJSON, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(series.Fingerprint()))
	h.Write([]byte{0})
	h.Write(cfgJSON)
	h.Write([]byte{0})
	h.Write(setJSON)
	return "backtest:" + hex.EncodeToString(h.Sum(nil)), nil
}

// BacktestReport 渲染已保存回测的 HTML 报告。
func (r *Runner) BacktestReport(ctx context.Context, id string) ([]byte, error) {
	if r.store == nil {
		return nil, fmt.Errorf("backtest store is not configured")
	}
	rec, err := r.store.GetBacktest(ctx, id)
	if err != nil {
		return nil, err
	}
	renderer := r.reports
	if renderer == nil {
		renderer = report.NewRenderer(report.Options{})
	}
	return renderer.HTML(report.Input{Title: rec.StrategyName, Symbol: rec.Symbol, Interval: rec.Interval, Result: rec.Result})
}
