package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stratlab/internal/analysis/pattern"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/marketdata"
	"stratlab/internal/optimizer"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/runner"
	"stratlab/internal/strategy"
)

const (
	previewBars  = 5
	pollInterval = 200 * time.Millisecond
)

func decodeTask(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.InvalidStrategy("malformed task: "+err.Error(), "")
	}
	return nil
}

// DataScout 加载价格数据，必要时先从交易所补齐本地 K 线。
type DataScout struct {
	Runner *runner.Runner
	Market *marketdata.Service
}

type scoutTask struct {
	runner.SeriesRef
	Timeframe string `json:"timeframe,omitempty"`
	Exchange  string `json:"exchange,omitempty"`
	Fetch     bool   `json:"fetch,omitempty"`
}

func (d *DataScout) Kind() string { return KindDataScout }

func (d *DataScout) Handle(ctx context.Context, st *State, raw json.RawMessage) (map[string]any, error) {
	var task scoutTask
	if err := decodeTask(raw, &task); err != nil {
		return nil, err
	}
	if task.Interval == "" {
		task.Interval = task.Timeframe
	}
	if task.Interval == "" && task.Symbol != "" {
		task.Interval = "1h"
	}
	summary := map[string]any{}
	if task.Fetch {
		job, err := d.fetch(ctx, task)
		if err != nil {
			return nil, err
		}
		summary["fetch_job"] = job.ID
		summary["fetch_status"] = job.Status
	}
	series, err := d.Runner.ResolveSeries(ctx, task.SeriesRef)
	if err != nil {
		return nil, err
	}
	st.Series = &series
	summary["symbol"] = series.Symbol
	summary["interval"] = series.Interval
	summary["rows"] = series.Len()
	summary["start"] = series.Start()
	summary["end"] = series.End()
	n := min(previewBars, series.Len())
	summary["head"] = series.Bars[:n]
	summary["pattern"] = pattern.Analyze(series.Bars)
	return summary, nil
}

func (d *DataScout) fetch(ctx context.Context, task scoutTask) (marketdata.FetchJob, error) {
	if d.Market == nil {
		return marketdata.FetchJob{}, fmt.Errorf("market data service is not configured")
	}
	end := task.EndTime
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	job, err := d.Market.SubmitFetch(marketdata.FetchParams{
		Symbol:    task.Symbol,
		Timeframe: task.Interval,
		Exchange:  task.Exchange,
		Start:     task.StartTime,
		End:       end,
	})
	if err != nil {
		return marketdata.FetchJob{}, err
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		snap, ok := d.Market.JobSnapshot(job.ID)
		if ok && snap.Finished() {
			if snap.Status == marketdata.JobStatusFailed {
				return snap, fmt.Errorf("fetch job %s failed: %s", snap.ID, snap.Message)
			}
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Backtest 运行回测。任务未给出策略或数据时沿用前面步骤的结果。
type Backtest struct {
	Runner *runner.Runner
}

func (b *Backtest) Kind() string { return KindBacktest }

func (b *Backtest) Handle(ctx context.Context, st *State, raw json.RawMessage) (map[string]any, error) {
	var req runner.BacktestRequest
	if err := decodeTask(raw, &req); err != nil {
		return nil, err
	}
	strat, series, err := resolveInputs(ctx, b.Runner, st, req.StrategyRef, req.Data)
	if err != nil {
		return nil, err
	}
	out, err := b.Runner.BacktestSeries(ctx, strat, series, req)
	if err != nil {
		return nil, err
	}
	summary := map[string]any{
		"strategy":   out.Strategy,
		"cached":     out.Cached,
		"num_trades": out.Result.NumTrades,
		"metrics":    out.Result.Metrics,
		"date_range": out.Result.DateRange,
	}
	if out.ID != "" {
		summary["backtest_id"] = out.ID
	}
	if out.Result.OpenPosition != nil {
		summary["open_position"] = out.Result.OpenPosition
	}
	if out.Report != nil {
		summary["report"] = out.Report
	}
	return summary, nil
}

// Optimize 运行参数搜索；generations > 0 时运行多代演化。最优策略交给后续步骤。
type Optimize struct {
	Runner *runner.Runner
}

func (o *Optimize) Kind() string { return KindOptimize }

func (o *Optimize) Handle(ctx context.Context, st *State, raw json.RawMessage) (map[string]any, error) {
	var req runner.OptimizeRequest
	if err := decodeTask(raw, &req); err != nil {
		return nil, err
	}
	strat, series, err := resolveInputs(ctx, o.Runner, st, req.StrategyRef, req.Data)
	if err != nil {
		return nil, err
	}
	if req.Generations > 0 {
		out, err := o.Runner.EvolveSeries(ctx, strat, series, req)
		if err != nil {
			return nil, err
		}
		evo := out.Evolution
		if evo.Best != nil {
			best := evo.Best.Clone()
			st.Strategy = &best
		}
		summary := map[string]any{
			"optimization_id":   out.ID,
			"total_generations": evo.TotalGenerations,
			"generations":       evo.Generations,
			"metric":            evo.Metric,
		}
		if evo.StoppedEarly != "" {
			summary["stopped_early"] = evo.StoppedEarly
		}
		if evo.Best != nil {
			summary["best_strategy"] = evo.Best.Name
		}
		return summary, nil
	}

	out, err := o.Runner.OptimizeSeries(ctx, strat, series, req)
	if err != nil {
		return nil, err
	}
	res := out.Result
	summary := map[string]any{
		"optimization_id": out.ID,
		"metric":          res.OptimizationMetric,
		"grid_size":       res.GridSize,
		"combinations":    res.Combinations,
		"total_tested":    res.TotalTested,
		"failed":          res.Failed,
	}
	if res.Statistics != nil {
		summary["statistics"] = res.Statistics
	}
	if best, ok := res.Best(); ok {
		summary["best_parameters"] = best.Parameters
		summary["best_metrics"] = best.Metrics
		next := withBest(strat, best)
		st.Strategy = &next
	}
	return summary, nil
}

func resolveInputs(ctx context.Context, r *runner.Runner, st *State, sref runner.StrategyRef, dref runner.SeriesRef) (strategy.Strategy, market.Series, error) {
	var (
		strat  strategy.Strategy
		series market.Series
		err    error
	)
	if sref.IsZero() && st.Strategy != nil {
		strat = st.Strategy.Clone()
		logger.Debugf("[orchestrator] trace=%s using strategy %s from a previous step", st.TraceID, strat.Name)
	} else if strat, err = r.ResolveStrategy(ctx, sref); err != nil {
		return strategy.Strategy{}, market.Series{}, err
	}
	if dref.IsZero() && st.Series != nil {
		series = *st.Series
	} else {
		if series, err = r.ResolveSeries(ctx, dref); err != nil {
			return strategy.Strategy{}, market.Series{}, err
		}
		st.Series = &series
	}
	return strat, series, nil
}

// withBest 以最优组合更新配置和参数默认值，参数空间不变。
func withBest(base strategy.Strategy, best optimizer.Candidate) strategy.Strategy {
	next := base.Clone()
	next.Config = best.Config.Clone()
	for name, p := range next.OptimizableParams {
		if v, ok := best.Parameters[name]; ok {
			p.Default = v
			next.OptimizableParams[name] = p
		}
	}
	return next
}
