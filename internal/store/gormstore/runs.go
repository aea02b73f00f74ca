package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stratlab/internal/backtest"
	"stratlab/internal/optimizer"
	"stratlab/internal/pkg/errs"
	storemodel "stratlab/internal/store/model"
	"stratlab/internal/strategy"
)

// BacktestRecord 是一次持久化的回测。
type BacktestRecord struct {
	ID           string           `json:"id"`
	StrategyID   string           `json:"strategy_id,omitempty"`
	StrategyName string           `json:"strategy_name"`
	Symbol       string           `json:"symbol"`
	Interval     string           `json:"interval"`
	Config       strategy.Config  `json:"config"`
	Result       *backtest.Result `json:"result,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// BacktestSummary 是列表里展示的回测摘要。
type BacktestSummary struct {
	ID            string    `json:"id"`
	StrategyID    string    `json:"strategy_id,omitempty"`
	StrategyName  string    `json:"strategy_name"`
	Symbol        string    `json:"symbol"`
	Interval      string    `json:"interval"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	TotalReturn   float64   `json:"total_return"`
	SharpeRatio   float64   `json:"sharpe_ratio"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	WinRate       float64   `json:"win_rate"`
	NumTrades     int       `json:"num_trades"`
	ExecutionTime float64   `json:"execution_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// SaveBacktest 写入回测结果并回填 ID 与创建时间。
func (s *GormStore) SaveBacktest(ctx context.Context, rec *BacktestRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec == nil || rec.Result == nil {
		return fmt.Errorf("backtest result is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res := rec.Result
	m := backtestRunModel{
		ID:             rec.ID,
		StrategyID:     rec.StrategyID,
		StrategyName:   rec.StrategyName,
		Symbol:         rec.Symbol,
		Interval:       rec.Interval,
		StartDate:      res.DateRange.Start,
		EndDate:        res.DateRange.End,
		InitialCapital: res.Metrics.InitialCapital,
		TotalReturn:    res.Metrics.TotalReturn,
		SharpeRatio:    res.Metrics.SharpeRatio,
		MaxDrawdown:    res.Metrics.MaximumDrawdown,
		WinRate:        res.Metrics.WinRate,
		NumTrades:      res.NumTrades,
		ExecutionTime:  res.ExecutionTime,
		CreatedAt:      rec.CreatedAt,
	}
	var err error
	if m.ConfigJSON, err = toJSON(rec.Config); err != nil {
		return err
	}
	if m.ResultJSON, err = toJSON(res); err != nil {
		return fmt.Errorf("encode backtest result: %w", err)
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// GetBacktest 读取完整回测记录。
func (s *GormStore) GetBacktest(ctx context.Context, id string) (BacktestRecord, error) {
	if err := s.ready(); err != nil {
		return BacktestRecord{}, err
	}
	var m backtestRunModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return BacktestRecord{}, notFound(err, "backtest", id)
	}
	rec := BacktestRecord{
		ID:           m.ID,
		StrategyID:   m.StrategyID,
		StrategyName: m.StrategyName,
		Symbol:       m.Symbol,
		Interval:     m.Interval,
		CreatedAt:    m.CreatedAt,
		Result:       &backtest.Result{},
	}
	if err := fromJSON(m.ConfigJSON, &rec.Config); err != nil {
		return BacktestRecord{}, fmt.Errorf("backtest %s config: %w", id, err)
	}
	if err := fromJSON(m.ResultJSON, rec.Result); err != nil {
		return BacktestRecord{}, fmt.Errorf("backtest %s result: %w", id, err)
	}
	return rec, nil
}

// ListBacktests 按创建时间倒序返回摘要；strategyID 为空时不过滤。
func (s *GormStore) ListBacktests(ctx context.Context, strategyID string, offset, limit int) ([]BacktestSummary, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	q := s.db.WithContext(ctx).Model(&backtestRunModel{})
	if strategyID != "" {
		q = q.Where("strategy_id = ?", strategyID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit = clampPage(offset, limit)
	var models []backtestRunModel
	err := q.Omit("result_json", "config_json").Order("created_at DESC").Offset(offset).Limit(limit).Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	out := make([]BacktestSummary, 0, len(models))
	for _, m := range models {
		out = append(out, BacktestSummary{
			ID:            m.ID,
			StrategyID:    m.StrategyID,
			StrategyName:  m.StrategyName,
			Symbol:        m.Symbol,
			Interval:      m.Interval,
			StartDate:     m.StartDate,
			EndDate:       m.EndDate,
			TotalReturn:   m.TotalReturn,
			SharpeRatio:   m.SharpeRatio,
			MaxDrawdown:   m.MaxDrawdown,
			WinRate:       m.WinRate,
			NumTrades:     m.NumTrades,
			ExecutionTime: m.ExecutionTime,
			CreatedAt:     m.CreatedAt,
		})
	}
	return out, total, nil
}

// DeleteBacktest 删除一条回测记录。
func (s *GormStore) DeleteBacktest(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&backtestRunModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "backtest", id)
	}
	return nil
}

// StrategyComparison 是对比视图中的一行：策略元数据加最近一次回测摘要。
type StrategyComparison struct {
	StrategyID string           `json:"strategy_id"`
	Name       string           `json:"name"`
	Category   string           `json:"category,omitempty"`
	RiskLevel  string           `json:"risk_level,omitempty"`
	Generation int              `json:"generation"`
	Tags       []string         `json:"tags,omitempty"`
	LastRun    *BacktestSummary `json:"last_run,omitempty"`
}

// CompareStrategies 按传入顺序返回策略及其最近一次回测，不存在的 ID 跳过。
func (s *GormStore) CompareStrategies(ctx context.Context, ids []string) ([]StrategyComparison, error) {
	out := make([]StrategyComparison, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		st, err := s.GetStrategy(ctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		row := StrategyComparison{
			StrategyID: st.ID,
			Name:       st.Name,
			Category:   st.Category,
			RiskLevel:  st.RiskLevel,
			Generation: st.Generation,
			Tags:       st.Tags,
		}
		latest, _, err := s.ListBacktests(ctx, id, 0, 1)
		if err != nil {
			return nil, err
		}
		if len(latest) > 0 {
			row.LastRun = &latest[0]
		}
		out = append(out, row)
	}
	return out, nil
}

// OptimizationRecord 是一次优化或演化任务。
type OptimizationRecord struct {
	ID            string               `json:"id"`
	StrategyID    string               `json:"strategy_id,omitempty"`
	StrategyName  string               `json:"strategy_name"`
	Kind          string               `json:"kind"`
	Symbol        string               `json:"symbol,omitempty"`
	Metric        string               `json:"optimization_metric"`
	MaxIterations int                  `json:"max_iterations"`
	Status        string               `json:"status"`
	Error         string               `json:"error,omitempty"`
	Result        *optimizer.Result    `json:"result,omitempty"`
	Evolution     *optimizer.Evolution `json:"evolution,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// StartOptimization 以 RUNNING 状态登记一次任务。
func (s *GormStore) StartOptimization(ctx context.Context, rec *OptimizationRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Kind == "" {
		rec.Kind = storemodel.RunKindGrid
	}
	rec.Status = storemodel.RunStatusRunning
	rec.CreatedAt = time.Now().UTC()
	m, err := newOptimizationModel(*rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// FinishOptimization 记录任务结果；runErr 非空时标记为 FAILED。
func (s *GormStore) FinishOptimization(ctx context.Context, rec *OptimizationRecord, runErr error) error {
	if err := s.ready(); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.CompletedAt = &now
	rec.Status = storemodel.RunStatusCompleted
	if runErr != nil {
		rec.Status = storemodel.RunStatusFailed
		rec.Error = runErr.Error()
	}
	m, err := newOptimizationModel(*rec)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Save(&m)
	return res.Error
}

func newOptimizationModel(rec OptimizationRecord) (optimizationRunModel, error) {
	m := optimizationRunModel{
		ID:                 rec.ID,
		StrategyID:         rec.StrategyID,
		StrategyName:       rec.StrategyName,
		Kind:               rec.Kind,
		Symbol:             rec.Symbol,
		OptimizationMetric: rec.Metric,
		MaxIterations:      rec.MaxIterations,
		Status:             rec.Status,
		ErrorMessage:       rec.Error,
		CreatedAt:          rec.CreatedAt,
		CompletedAt:        rec.CompletedAt,
	}
	var (
		best    optimizer.Candidate
		hasBest bool
		payload any
	)
	switch {
	case rec.Result != nil:
		payload = rec.Result
		m.TotalTested = rec.Result.TotalTested
		m.ExecutionTime = rec.Result.ExecutionTime
		if rec.Result.Statistics != nil {
			m.Improvement = rec.Result.Statistics.Improvement
		}
		best, hasBest = rec.Result.Best()
	case rec.Evolution != nil:
		payload = rec.Evolution
		m.TotalTested = rec.Evolution.TotalGenerations
		m.ExecutionTime = rec.Evolution.ExecutionTime
		if n := len(rec.Evolution.Generations); n > 0 {
			last := rec.Evolution.Generations[n-1]
			best = optimizer.Candidate{Parameters: last.Parameters, Metrics: last.Metrics}
			hasBest = true
		}
	}
	var err error
	if hasBest {
		if m.BestParameters, err = toJSON(best.Parameters); err != nil {
			return m, err
		}
		m.BestMetric, _ = best.Metrics.Value(rec.Metric)
	}
	if payload != nil {
		if m.ResultJSON, err = toJSON(payload); err != nil {
			return m, fmt.Errorf("encode optimization result: %w", err)
		}
	}
	return m, nil
}

func optimizationFromModel(m optimizationRunModel, withResult bool) (OptimizationRecord, error) {
	rec := OptimizationRecord{
		ID:            m.ID,
		StrategyID:    m.StrategyID,
		StrategyName:  m.StrategyName,
		Kind:          m.Kind,
		Symbol:        m.Symbol,
		Metric:        m.OptimizationMetric,
		MaxIterations: m.MaxIterations,
		Status:        m.Status,
		Error:         m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
		CompletedAt:   m.CompletedAt,
	}
	if !withResult || len(m.ResultJSON) == 0 {
		return rec, nil
	}
	if m.Kind == storemodel.RunKindEvolve {
		rec.Evolution = &optimizer.Evolution{}
		return rec, fromJSON(m.ResultJSON, rec.Evolution)
	}
	rec.Result = &optimizer.Result{}
	return rec, fromJSON(m.ResultJSON, rec.Result)
}

// GetOptimization 读取任务与完整结果。
func (s *GormStore) GetOptimization(ctx context.Context, id string) (OptimizationRecord, error) {
	if err := s.ready(); err != nil {
		return OptimizationRecord{}, err
	}
	var m optimizationRunModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return OptimizationRecord{}, notFound(err, "optimization", id)
	}
	return optimizationFromModel(m, true)
}

// ListOptimizations 按创建时间倒序返回任务（不含结果正文）。
func (s *GormStore) ListOptimizations(ctx context.Context, strategyID string, offset, limit int) ([]OptimizationRecord, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	q := s.db.WithContext(ctx).Model(&optimizationRunModel{})
	if strategyID != "" {
		q = q.Where("strategy_id = ?", strategyID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit = clampPage(offset, limit)
	var models []optimizationRunModel
	if err := q.Omit("result_json").Order("created_at DESC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]OptimizationRecord, 0, len(models))
	for _, m := range models {
		rec, _ := optimizationFromModel(m, false)
		out = append(out, rec)
	}
	return out, total, nil
}
