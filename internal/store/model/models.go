package model

import (
	"time"

	"gorm.io/datatypes"
)

// 优化任务状态。
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// 优化任务类型。
const (
	RunKindGrid   = "grid"
	RunKindEvolve = "evolve"
)

// StrategyModel 对应 strategies 表。
type StrategyModel struct {
	ID                  string         `gorm:"column:id;primaryKey"`
	Name                string         `gorm:"column:name;uniqueIndex"`
	Description         string         `gorm:"column:description"`
	Category            string         `gorm:"column:category;index"`
	RiskLevel           string         `gorm:"column:risk_level"`
	Tags                datatypes.JSON `gorm:"column:tags;type:TEXT"`
	ConfigJSON          datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	ParamsJSON          datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	ParentStrategy      string         `gorm:"column:parent_strategy;index"`
	Generation          int            `gorm:"column:generation"`
	PerformanceSnapshot datatypes.JSON `gorm:"column:performance_snapshot;type:TEXT"`
	ExpectedWinRate     float64        `gorm:"column:expected_win_rate"`
	ExpectedSharpe      float64        `gorm:"column:expected_sharpe"`
	IsActive            bool           `gorm:"column:is_active;index"`
	CreatedAt           time.Time      `gorm:"column:created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at"`
}

func (StrategyModel) TableName() string { return "strategies" }

// BacktestRunModel 对应 backtest_runs 表，摘要字段便于列表查询，完整结果存 JSON。
type BacktestRunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	StrategyID     string         `gorm:"column:strategy_id;index"`
	StrategyName   string         `gorm:"column:strategy_name"`
	Symbol         string         `gorm:"column:symbol;index"`
	Interval       string         `gorm:"column:interval"`
	StartDate      time.Time      `gorm:"column:start_date"`
	EndDate        time.Time      `gorm:"column:end_date"`
	InitialCapital float64        `gorm:"column:initial_capital"`
	TotalReturn    float64        `gorm:"column:total_return"`
	SharpeRatio    float64        `gorm:"column:sharpe_ratio"`
	MaxDrawdown    float64        `gorm:"column:max_drawdown"`
	WinRate        float64        `gorm:"column:win_rate"`
	NumTrades      int            `gorm:"column:num_trades"`
	ExecutionTime  float64        `gorm:"column:execution_time"`
	ConfigJSON     datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	ResultJSON     datatypes.JSON `gorm:"column:result_json;type:TEXT"`
	CreatedAt      time.Time      `gorm:"column:created_at;index"`
}

func (BacktestRunModel) TableName() string { return "backtest_runs" }

// OptimizationRunModel 对应 optimization_runs 表。
type OptimizationRunModel struct {
	ID                 string         `gorm:"column:id;primaryKey"`
	StrategyID         string         `gorm:"column:strategy_id;index"`
	StrategyName       string         `gorm:"column:strategy_name"`
	Kind               string         `gorm:"column:kind"`
	Symbol             string         `gorm:"column:symbol"`
	OptimizationMetric string         `gorm:"column:optimization_metric"`
	MaxIterations      int            `gorm:"column:max_iterations"`
	TotalTested        int            `gorm:"column:total_tested"`
	BestParameters     datatypes.JSON `gorm:"column:best_parameters;type:TEXT"`
	BestMetric         float64        `gorm:"column:best_metric"`
	Improvement        float64        `gorm:"column:improvement"`
	ExecutionTime      float64        `gorm:"column:execution_time"`
	Status             string         `gorm:"column:status"`
	ErrorMessage       string         `gorm:"column:error_message"`
	ResultJSON         datatypes.JSON `gorm:"column:result_json;type:TEXT"`
	CreatedAt          time.Time      `gorm:"column:created_at;index"`
	CompletedAt        *time.Time     `gorm:"column:completed_at"`
}

func (OptimizationRunModel) TableName() string { return "optimization_runs" }
