package runner

import (
	"context"

	"stratlab/internal/backtest"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/optimizer"
	"stratlab/internal/store/gormstore"
	storemodel "stratlab/internal/store/model"
	"stratlab/internal/strategy"
)

// OptimizeRequest 是一次参数优化或多代演化请求。
type OptimizeRequest struct {
	StrategyRef
	Data     SeriesRef         `json:"data"`
	Settings *SettingsOverride `json:"settings,omitempty"`
	OptimizeOverride
	// Generations 仅用于演化，0 表示使用配置默认值。
	Generations int `json:"generations,omitempty"`
}

// OptimizeResponse 是优化的输出，ID 为落库记录。
type OptimizeResponse struct {
	ID     string            `json:"id,omitempty"`
	Result *optimizer.Result `json:"result"`
}

// EvolveResponse 是多代演化的输出。
type EvolveResponse struct {
	ID        string               `json:"id,omitempty"`
	Evolution *optimizer.Evolution `json:"evolution"`
}

func (r *Runner) prepare(ctx context.Context, req OptimizeRequest) (strategy.Strategy, market.Series, error) {
	st, err := r.ResolveStrategy(ctx, req.StrategyRef)
	if err != nil {
		return strategy.Strategy{}, market.Series{}, err
	}
	series, err := r.ResolveSeries(ctx, req.Data)
	if err != nil {
		return strategy.Strategy{}, market.Series{}, err
	}
	return st, series, nil
}

func (r *Runner) optimizerFor(req OptimizeRequest) (*optimizer.Optimizer, optimizer.Options, error) {
	engine, err := backtest.NewEngine(req.Settings.apply(r.settings))
	if err != nil {
		return nil, optimizer.Options{}, err
	}
	return optimizer.New(engine), req.OptimizeOverride.apply(r.optDefaults), nil
}

// Optimize 执行一次参数搜索，并在配置了存储时记录任务。
func (r *Runner) Optimize(ctx context.Context, req OptimizeRequest) (*OptimizeResponse, error) {
	st, series, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.OptimizeSeries(ctx, st, series, req)
}

// OptimizeSeries 在已加载的数据上执行参数搜索。
func (r *Runner) OptimizeSeries(ctx context.Context, st strategy.Strategy, series market.Series, req OptimizeRequest) (*OptimizeResponse, error) {
	opt, opts, err := r.optimizerFor(req)
	if err != nil {
		return nil, err
	}
	rec := r.startRecord(ctx, st, series, storemodel.RunKindGrid, opts)
	res, runErr := opt.Optimize(ctx, series, st, opts)
	out := &OptimizeResponse{Result: res}
	if rec != nil {
		rec.Result = res
		r.finishRecord(ctx, rec, runErr)
		out.ID = rec.ID
	}
	if runErr != nil {
		return nil, runErr
	}
	return out, nil
}

// Evolve 执行多代演化，每代最优策略写入存储（存在时）。
func (r *Runner) Evolve(ctx context.Context, req OptimizeRequest) (*EvolveResponse, error) {
	st, series, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.EvolveSeries(ctx, st, series, req)
}

// EvolveSeries 在已加载的数据上执行多代演化。
func (r *Runner) EvolveSeries(ctx context.Context, st strategy.Strategy, series market.Series, req OptimizeRequest) (*EvolveResponse, error) {
	opt, opts, err := r.optimizerFor(req)
	if err != nil {
		return nil, err
	}
	generations := req.Generations
	if generations <= 0 {
		generations = r.generations
	}
	var sink optimizer.GenerationSink
	if r.store != nil {
		sink = r.store
	}
	rec := r.startRecord(ctx, st, series, storemodel.RunKindEvolve, opts)
	evo, runErr := opt.Evolve(ctx, series, st, generations, opts, sink)
	out := &EvolveResponse{Evolution: evo}
	if rec != nil {
		rec.Evolution = evo
		r.finishRecord(ctx, rec, runErr)
		out.ID = rec.ID
	}
	if runErr != nil {
		return nil, runErr
	}
	return out, nil
}

func (r *Runner) startRecord(ctx context.Context, st strategy.Strategy, series market.Series, kind string, opts optimizer.Options) *gormstore.OptimizationRecord {
	if r.store == nil {
		return nil
	}
	rec := &gormstore.OptimizationRecord{
		StrategyID:    st.ID,
		StrategyName:  st.Name,
		Kind:          kind,
		Symbol:        series.Symbol,
		Metric:        opts.Metric,
		MaxIterations: opts.MaxIterations,
	}
	if err := r.store.StartOptimization(ctx, rec); err != nil {
		logger.Warnf("[optimizer] record %s run for %s: %v", kind, st.Name, err)
		return nil
	}
	return rec
}

func (r *Runner) finishRecord(ctx context.Context, rec *gormstore.OptimizationRecord, runErr error) {
	// 请求被取消时仍需要把状态写回。
	if err := r.store.FinishOptimization(context.WithoutCancel(ctx), rec, runErr); err != nil {
		logger.Warnf("[optimizer] finish record %s: %v", rec.ID, err)
	}
}
