package gormstore

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/backtest"
	"stratlab/internal/metrics"
	"stratlab/internal/optimizer"
	"stratlab/internal/pkg/errs"
	storemodel "stratlab/internal/store/model"
	"stratlab/internal/strategy"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "data", "stratlab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func smaStrategy(t *testing.T) strategy.Strategy {
	t.Helper()
	st, ok := strategy.PrebuiltByName("sma crossover")
	require.True(t, ok)
	return st
}

func TestStrategyCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateStrategy(ctx, smaStrategy(t))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.GetStrategy(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, created.Config, got.Config)
	assert.Equal(t, created.OptimizableParams, got.OptimizableParams)
	assert.Equal(t, created.Tags, got.Tags)

	byName, err := s.GetStrategyByName(ctx, "SMA CROSSOVER")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	_, err = s.CreateStrategy(ctx, smaStrategy(t))
	assert.True(t, errors.Is(err, errs.ErrInvalidStrategy), "duplicate name")

	got.Description = "edited"
	updated, err := s.UpdateStrategy(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Description)
	assert.Equal(t, created.CreatedAt.Unix(), updated.CreatedAt.Unix())

	list, total, err := s.ListStrategies(ctx, StrategyFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, "edited", list[0].Description)

	inactive := false
	list, total, err = s.ListStrategies(ctx, StrategyFilter{Active: &inactive})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	require.NoError(t, s.DeleteStrategy(ctx, created.ID))
	_, err = s.GetStrategy(ctx, created.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteStrategy(ctx, created.ID), errs.ErrNotFound))
}

func TestCreateStrategyValidates(t *testing.T) {
	st := smaStrategy(t)
	st.Name = " "
	_, err := newTestStore(t).CreateStrategy(context.Background(), st)
	assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
}

func TestSaveGenerationSuffixesNames(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := smaStrategy(t)
	best := optimizer.Candidate{
		Parameters: root.Defaults(),
		Metrics:    metrics.Bundle{SharpeRatio: 1.25},
		Config:     root.Config,
	}
	gen := optimizer.Evolved(root, best, 1, "sharpe_ratio")

	first, err := s.SaveGeneration(ctx, gen)
	require.NoError(t, err)
	assert.Equal(t, "SMA Crossover (Gen 1)", first.Name)
	second, err := s.SaveGeneration(ctx, gen)
	require.NoError(t, err)
	assert.Equal(t, "SMA Crossover (Gen 1) (2)", second.Name)
	third, err := s.SaveGeneration(ctx, gen)
	require.NoError(t, err)
	assert.Equal(t, "SMA Crossover (Gen 1) (3)", third.Name)

	got, err := s.GetStrategy(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "SMA Crossover", got.ParentStrategy)
	assert.Equal(t, 1, got.Generation)
	assert.JSONEq(t, string(first.PerformanceSnapshot), string(got.PerformanceSnapshot))

	children, total, err := s.ListStrategies(ctx, StrategyFilter{Parent: "SMA Crossover"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, children, 3)
}

func sampleResult() *backtest.Result {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &backtest.Result{
		Success:   true,
		NumTrades: 1,
		Metrics: metrics.Bundle{
			TotalReturn:    0.1,
			SharpeRatio:    1.1,
			InitialCapital: 100000,
			FinalCapital:   110000,
			NumTrades:      1,
			ProfitFactor:   metrics.Ratio(math.Inf(1)),
		},
		Trades: []backtest.Trade{{
			EntryDate: t0, ExitDate: t0.AddDate(0, 0, 3), EntryPrice: 100, ExitPrice: 110,
			Return: 0.097, ProfitLoss: 9700, Duration: 3, Type: backtest.TradeLong, EntryIndex: 1, ExitIndex: 4,
		}},
		EquityCurve: []backtest.EquityPoint{{Timestamp: t0, Equity: 100000, MarketEquity: 100000}},
		DataPoints:  60,
		DateRange:   backtest.DateRange{Start: t0, End: t0.AddDate(0, 0, 59)},
	}
}

func TestBacktestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	st := smaStrategy(t)
	rec := &BacktestRecord{StrategyID: "s-1", StrategyName: st.Name, Symbol: "BTCUSDT", Interval: "1d", Config: st.Config, Result: sampleResult()}
	require.NoError(t, s.SaveBacktest(ctx, rec))
	require.NotEmpty(t, rec.ID)
	require.NoError(t, s.SaveBacktest(ctx, &BacktestRecord{StrategyID: "s-2", StrategyName: "other", Result: sampleResult()}))

	got, err := s.GetBacktest(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Config, got.Config)
	assert.Equal(t, rec.Result.Trades, got.Result.Trades)
	assert.True(t, math.IsInf(float64(got.Result.Metrics.ProfitFactor), 1))

	list, total, err := s.ListBacktests(ctx, "s-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, 0.1, list[0].TotalReturn)
	assert.Equal(t, 1, list[0].NumTrades)

	_, err = s.GetBacktest(ctx, "missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Error(t, s.SaveBacktest(ctx, &BacktestRecord{}))
}

func TestDeleteBacktest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := &BacktestRecord{StrategyName: "x", Result: sampleResult()}
	require.NoError(t, s.SaveBacktest(ctx, rec))
	require.NoError(t, s.DeleteBacktest(ctx, rec.ID))
	_, err := s.GetBacktest(ctx, rec.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBacktest(ctx, rec.ID), errs.ErrNotFound)
}

func TestCompareStrategies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, err := s.CreateStrategy(ctx, smaStrategy(t))
	require.NoError(t, err)
	rsi, ok := strategy.PrebuiltByName("rsi mean reversion")
	require.True(t, ok)
	b, err := s.CreateStrategy(ctx, rsi)
	require.NoError(t, err)

	older := &BacktestRecord{StrategyID: a.ID, StrategyName: a.Name, Result: sampleResult(), CreatedAt: time.Now().Add(-time.Hour).UTC()}
	require.NoError(t, s.SaveBacktest(ctx, older))
	newer := &BacktestRecord{StrategyID: a.ID, StrategyName: a.Name, Result: sampleResult()}
	require.NoError(t, s.SaveBacktest(ctx, newer))

	rows, err := s.CompareStrategies(ctx, []string{b.ID, "missing", a.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "RSI Mean Reversion", rows[0].Name)
	assert.Nil(t, rows[0].LastRun)
	assert.Equal(t, a.ID, rows[1].StrategyID)
	require.NotNil(t, rows[1].LastRun)
	assert.Equal(t, newer.ID, rows[1].LastRun.ID)
}

func TestOptimizationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := &OptimizationRecord{StrategyName: "SMA Crossover", Metric: "sharpe_ratio", MaxIterations: 10}
	require.NoError(t, s.StartOptimization(ctx, rec))
	running, err := s.GetOptimization(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, storemodel.RunStatusRunning, running.Status)
	assert.Nil(t, running.CompletedAt)

	rec.Result = &optimizer.Result{
		Success:            true,
		OptimizationMetric: "sharpe_ratio",
		TotalTested:        4,
		TopStrategies: []optimizer.Candidate{{
			Parameters: map[string]float64{"fast": 10},
			Metrics:    metrics.Bundle{SharpeRatio: 2},
		}},
		Statistics: &optimizer.Stats{Max: 2, Mean: 1, Improvement: 1},
	}
	require.NoError(t, s.FinishOptimization(ctx, rec, nil))

	done, err := s.GetOptimization(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, storemodel.RunStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, 4, done.Result.TotalTested)
	require.NotNil(t, done.CompletedAt)

	failed := &OptimizationRecord{StrategyName: "x", Kind: storemodel.RunKindEvolve, Metric: "total_return"}
	require.NoError(t, s.StartOptimization(ctx, failed))
	require.NoError(t, s.FinishOptimization(ctx, failed, errors.New("all combinations failed")))

	list, total, err := s.ListOptimizations(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	byID := map[string]OptimizationRecord{}
	for _, r := range list {
		byID[r.ID] = r
		assert.Nil(t, r.Result)
	}
	assert.Equal(t, storemodel.RunStatusFailed, byID[failed.ID].Status)
	assert.Equal(t, "all combinations failed", byID[failed.ID].Error)

	_, err = s.GetOptimization(ctx, "nope")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}
