// Package orchestrator 在同一个 trace 下顺序执行多步计划（取数、回测、优化），
// 前一步的输出作为后一步的输入。
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stratlab/internal/kvstore"
	"stratlab/internal/logger"
	"stratlab/internal/market"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/strategy"
	"stratlab/internal/usage"
)

// 步骤类型。
const (
	KindDataScout = "data_scout"
	KindBacktest  = "backtest"
	KindOptimize  = "optimize"
)

// 步骤状态。
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Step 是计划中的一步。
type Step struct {
	Kind           string          `json:"kind"`
	Name           string          `json:"name,omitempty"`
	Task           json.RawMessage `json:"task,omitempty"`
	StoreReport    bool            `json:"store_report,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
}

func (s Step) name() string {
	if strings.TrimSpace(s.Name) != "" {
		return s.Name
	}
	return s.Kind
}

// StepError 描述失败步骤的错误。
type StepError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Report 是单步执行报告。
type Report struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Summary    map[string]any `json:"summary"`
	Error      *StepError     `json:"error,omitempty"`
	ComputeMS  int64          `json:"compute_ms"`
}

// Output 是整个计划的执行结果。
type Output struct {
	TraceID    string      `json:"trace_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Steps      int         `json:"steps"`
	Reports    []Report    `json:"reports"`
	Usage      usage.Usage `json:"usage"`
}

// State 在步骤之间传递数据。
type State struct {
	TraceID  string
	Series   *market.Series
	Strategy *strategy.Strategy
}

// Handler 执行一种步骤。
type Handler interface {
	Kind() string
	Handle(ctx context.Context, st *State, task json.RawMessage) (map[string]any, error)
}

// ReportKey 是报告在 KV 中的键。
func ReportKey(traceID, name string) string {
	return fmt.Sprintf("report:%s:%s", traceID, name)
}

// Orchestrator 按顺序调度 Handler。
type Orchestrator struct {
	handlers map[string]Handler
	kv       kvstore.Store
	prices   usage.Prices
	ttl      time.Duration
}

// Config 描述 Orchestrator 的依赖。
type Config struct {
	Handlers  []Handler
	KV        kvstore.Store
	Prices    usage.Prices
	ReportTTL time.Duration
}

// New 构造 Orchestrator。
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{handlers: map[string]Handler{}, kv: cfg.KV, prices: cfg.Prices, ttl: cfg.ReportTTL}
	if o.kv == nil {
		o.kv = kvstore.Nop{}
	}
	for _, h := range cfg.Handlers {
		if h == nil {
			continue
		}
		o.handlers[h.Kind()] = h
	}
	return o
}

// Kinds 返回已注册的步骤类型。
func (o *Orchestrator) Kinds() []string {
	out := make([]string, 0, len(o.handlers))
	for k := range o.handlers {
		out = append(out, k)
	}
	return out
}

// Run 执行计划。traceID 为空时生成一个。单步失败只记入报告，计划继续执行。
func (o *Orchestrator) Run(ctx context.Context, traceID string, plan []Step) (*Output, error) {
	if len(plan) == 0 {
		return nil, errors.New("plan is empty")
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	tracker := usage.NewTracker(traceID, o.prices, o.kv)
	out := &Output{TraceID: traceID, StartedAt: time.Now().UTC(), Steps: len(plan), Reports: make([]Report, 0, len(plan))}
	state := &State{TraceID: traceID}
	logger.Infof("[orchestrator] trace=%s running %d steps", traceID, len(plan))

	for _, step := range plan {
		rep := o.runStep(ctx, state, step)
		tracker.AddCompute(rep.FinishedAt.Sub(rep.StartedAt))
		if step.StoreReport {
			o.storeReport(ctx, tracker, traceID, rep)
		}
		out.Reports = append(out.Reports, rep)
	}
	if err := tracker.Flush(ctx); err != nil {
		logger.Warnf("[orchestrator] trace=%s flush usage: %v", traceID, err)
	}
	out.Usage = tracker.Snapshot()
	out.FinishedAt = time.Now().UTC()
	return out, nil
}

func (o *Orchestrator) runStep(ctx context.Context, state *State, step Step) (rep Report) {
	rep = Report{
		ID:        uuid.NewString(),
		Name:      step.name(),
		Kind:      step.Kind,
		StartedAt: time.Now().UTC(),
		Summary:   map[string]any{},
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[orchestrator] step %s panic: %v", rep.Name, r)
			rep.Status = StatusFailed
			rep.Error = &StepError{Message: fmt.Sprint(r), Type: "panic"}
		}
		rep.FinishedAt = time.Now().UTC()
		rep.ComputeMS = rep.FinishedAt.Sub(rep.StartedAt).Milliseconds()
	}()

	h, ok := o.handlers[step.Kind]
	if !ok {
		rep.Status = StatusFailed
		rep.Error = &StepError{Message: fmt.Sprintf("unknown step kind %q", step.Kind), Type: "UnknownKind"}
		return rep
	}
	runCtx := ctx
	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	summary, err := h.Handle(runCtx, state, step.Task)
	if err != nil {
		logger.Warnf("[orchestrator] trace=%s step %s failed: %v", state.TraceID, rep.Name, err)
		rep.Status = StatusFailed
		rep.Error = &StepError{Message: err.Error(), Type: errorType(err)}
		return rep
	}
	if summary != nil {
		rep.Summary = summary
	}
	rep.Status = StatusCompleted
	return rep
}

// Usage 读取某次编排持久化的用量，并按当前单价重新计价。
func (o *Orchestrator) Usage(ctx context.Context, traceID string) (usage.Usage, error) {
	u, err := usage.Load(ctx, o.kv, traceID)
	if errors.Is(err, kvstore.ErrMiss) {
		return usage.Usage{}, fmt.Errorf("usage for trace %s: %w", traceID, errs.ErrNotFound)
	}
	if err != nil {
		return usage.Usage{}, err
	}
	u.Price = usage.Price(u, o.prices)
	return u, nil
}

func (o *Orchestrator) storeReport(ctx context.Context, tracker *usage.Tracker, traceID string, rep Report) {
	raw, err := json.Marshal(rep)
	if err != nil {
		logger.Warnf("[orchestrator] encode report %s: %v", rep.Name, err)
		return
	}
	if err := o.kv.Set(ctx, ReportKey(traceID, rep.Name), raw, o.ttl); err != nil {
		logger.Warnf("[orchestrator] store report %s: %v", rep.Name, err)
		return
	}
	tracker.AddIO(int64(len(raw)), 0, 1, 0)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	case errors.Is(err, errs.ErrInvalidStrategy):
		return "InvalidStrategy"
	case errors.Is(err, errs.ErrInsufficientData):
		return "InsufficientData"
	case errors.Is(err, errs.ErrNotFound):
		return "NotFound"
	case errors.Is(err, errs.ErrOptimizationFailure):
		return "OptimizationFailure"
	case errors.Is(err, errs.ErrBacktestFailure):
		return "BacktestFailure"
	}
	return "Error"
}
