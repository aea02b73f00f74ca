package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/metrics"
	"stratlab/internal/strategy"
)

// GenerationSink 持久化每一代的最优策略，返回落库后的记录（ID 与最终名称）。
// 调用是顺序的，每代一次。
type GenerationSink interface {
	SaveGeneration(ctx context.Context, s strategy.Strategy) (strategy.Strategy, error)
}

// Generation 是一代演化的摘要。
type Generation struct {
	Generation   int                `json:"generation"`
	StrategyID   string             `json:"strategy_id,omitempty"`
	StrategyName string             `json:"strategy_name"`
	Parameters   map[string]float64 `json:"parameters"`
	Metrics      metrics.Bundle     `json:"metrics"`
	NumTrades    int                `json:"num_trades"`
}

// Evolution 是多代演化的输出。
type Evolution struct {
	Success          bool               `json:"success"`
	BaseStrategy     string             `json:"base_strategy"`
	Metric           string             `json:"metric"`
	Generations      []Generation       `json:"generations"`
	TotalGenerations int                `json:"total_generations"`
	StoppedEarly     string             `json:"stopped_early,omitempty"`
	Best             *strategy.Strategy `json:"best_strategy,omitempty"`
	ExecutionTime    float64            `json:"execution_time"`
}

// Evolve 以上一代最优配置为基础重复优化 generations 代。
// 某一代失败时停止，已完成的代保留；第一代就失败时返回该错误。sink 可以为 nil。
func (o *Optimizer) Evolve(ctx context.Context, series market.Series, root strategy.Strategy, generations int, opts Options, sink GenerationSink) (*Evolution, error) {
	if generations <= 0 {
		return nil, fmt.Errorf("generations must be positive, got %d", generations)
	}
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	started := time.Now()
	out := &Evolution{BaseStrategy: root.Name, Metric: opts.Metric, Generations: []Generation{}}
	current := root.Clone()

	for g := 1; g <= generations; g++ {
		if err := ctx.Err(); err != nil {
			if g == 1 {
				return nil, err
			}
			out.StoppedEarly = err.Error()
			break
		}
		logger.Infof("[optimizer] %s: generation %d/%d", root.Name, g, generations)
		res, err := o.Optimize(ctx, series, current, opts)
		if err != nil {
			if g == 1 {
				return nil, err
			}
			logger.Warnf("[optimizer] %s: generation %d failed: %v", root.Name, g, err)
			out.StoppedEarly = fmt.Sprintf("generation %d: %v", g, err)
			break
		}
		best, _ := res.Best()
		evolved := Evolved(root, best, g, opts.Metric)
		if sink != nil {
			saved, err := sink.SaveGeneration(ctx, evolved)
			if err != nil {
				if g == 1 {
					return nil, err
				}
				logger.Warnf("[optimizer] %s: saving generation %d failed: %v", root.Name, g, err)
				out.StoppedEarly = fmt.Sprintf("generation %d: %v", g, err)
				break
			}
			evolved = saved
		}
		out.Generations = append(out.Generations, Generation{
			Generation:   g,
			StrategyID:   evolved.ID,
			StrategyName: evolved.Name,
			Parameters:   best.Parameters,
			Metrics:      best.Metrics,
			NumTrades:    best.NumTrades,
		})
		b := evolved.Clone()
		out.Best = &b
		if v, ok := best.Metrics.Value(opts.Metric); ok {
			logger.Infof("[optimizer] %s: generation %d complete %s=%.4f", root.Name, g, opts.Metric, v)
		}
		current = nextBase(current, best)
	}

	out.Success = true
	out.TotalGenerations = len(out.Generations)
	out.ExecutionTime = time.Since(started).Seconds()
	return out, nil
}

// Evolved 根据某一代最优结果生成新的策略记录。
func Evolved(root strategy.Strategy, best Candidate, generation int, metric string) strategy.Strategy {
	v, _ := best.Metrics.Value(metric)
	snapshot, err := json.Marshal(best.Metrics)
	if err != nil {
		logger.Warnf("[optimizer] encode performance snapshot: %v", err)
	}
	s := strategy.Strategy{
		Name:                fmt.Sprintf("%s (Gen %d)", root.Name, generation),
		Description:         fmt.Sprintf("Autonomous evolution of %s. Optimized for %s: %.2f", root.Name, metric, v),
		Category:            root.Category,
		RiskLevel:           strategy.RiskMedium,
		Tags:                []string{"evolved", "optimized", fmt.Sprintf("gen%d", generation)},
		Config:              best.Config.Clone(),
		OptimizableParams:   root.Clone().OptimizableParams,
		ParentStrategy:      root.Name,
		Generation:          generation,
		PerformanceSnapshot: snapshot,
		IsActive:            true,
	}
	for name, p := range s.OptimizableParams {
		if val, ok := best.Parameters[name]; ok {
			p.Default = val
			s.OptimizableParams[name] = p
		}
	}
	return s
}

// nextBase 用最优配置替换当前配置，参数空间不变，默认值更新为最优取值。
func nextBase(current strategy.Strategy, best Candidate) strategy.Strategy {
	next := current.Clone()
	next.Config = best.Config.Clone()
	for name, p := range next.OptimizableParams {
		if v, ok := best.Parameters[name]; ok {
			p.Default = v
			next.OptimizableParams[name] = p
		}
	}
	return next
}
