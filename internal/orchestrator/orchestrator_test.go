package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/analysis/pattern"
	"stratlab/internal/backtest"
	"stratlab/internal/kvstore"
	"stratlab/internal/market"
	"stratlab/internal/pkg/errs"
	"stratlab/internal/runner"
	"stratlab/internal/usage"
)

func waveBars(n int) []market.Bar {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		c := 100 + 15*math.Sin(float64(i)/12) + 0.05*float64(i)
		bars[i] = market.Bar{Time: t0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return bars
}

func newOrchestrator(t *testing.T, kv kvstore.Store) *Orchestrator {
	t.Helper()
	r, err := runner.New(runner.Config{Settings: backtest.DefaultSettings()})
	require.NoError(t, err)
	return New(Config{
		Handlers: []Handler{&DataScout{Runner: r}, &Backtest{Runner: r}, &Optimize{Runner: r}},
		KV:       kv,
		Prices:   usage.Prices{PerKBWrite: 0.01, PerSecondCompute: 0.5},
	})
}

func task(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestRunPlanFlowsDataForward(t *testing.T) {
	kv := kvstore.NewMemory("")
	o := newOrchestrator(t, kv)
	plan := []Step{
		{Kind: KindDataScout, Name: "scout", Task: task(t, map[string]any{"symbol": "WAVE", "interval": "1d", "bars": waveBars(250)}), StoreReport: true},
		{Kind: KindBacktest, Name: "baseline", Task: task(t, map[string]any{"strategy_name": "SMA Crossover"})},
		{Kind: KindOptimize, Name: "tune", Task: task(t, map[string]any{"strategy_name": "SMA Crossover", "max_iterations": 4, "top_n": 2}), StoreReport: true},
		{Kind: KindBacktest, Name: "tuned"},
	}
	out, err := o.Run(context.Background(), "trace-1", plan)
	require.NoError(t, err)

	assert.Equal(t, "trace-1", out.TraceID)
	assert.Equal(t, 4, out.Steps)
	require.Len(t, out.Reports, 4)
	for _, rep := range out.Reports {
		assert.Equal(t, StatusCompleted, rep.Status, "step %s: %+v", rep.Name, rep.Error)
		assert.NotEmpty(t, rep.ID)
		assert.False(t, rep.FinishedAt.Before(rep.StartedAt))
	}
	assert.Equal(t, 250, out.Reports[0].Summary["rows"])
	assert.IsType(t, pattern.Result{}, out.Reports[0].Summary["pattern"])
	assert.Equal(t, "SMA Crossover", out.Reports[1].Summary["strategy"])
	assert.Contains(t, out.Reports[2].Summary, "best_parameters")
	assert.Equal(t, "SMA Crossover", out.Reports[3].Summary["strategy"])
	assert.False(t, out.FinishedAt.Before(out.StartedAt))

	ctx := context.Background()
	raw, err := kv.Get(ctx, ReportKey("trace-1", "scout"))
	require.NoError(t, err)
	var stored Report
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "scout", stored.Name)
	_, err = kv.Get(ctx, ReportKey("trace-1", "baseline"))
	assert.ErrorIs(t, err, kvstore.ErrMiss)

	assert.EqualValues(t, 2, out.Usage.ObjectsWritten)
	assert.Positive(t, out.Usage.BytesWritten)
	persisted, err := usage.Load(ctx, kv, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, out.Usage.BytesWritten, persisted.BytesWritten)
}

func TestUsageLookup(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory("")
	o := newOrchestrator(t, kv)
	_, err := o.Run(ctx, "trace-u", []Step{{Kind: KindDataScout, Name: "scout", Task: task(t, map[string]any{"bars": waveBars(60)}), StoreReport: true}})
	require.NoError(t, err)

	u, err := o.Usage(ctx, "trace-u")
	require.NoError(t, err)
	assert.Equal(t, "trace-u", u.TraceID)
	assert.EqualValues(t, 1, u.ObjectsWritten)
	assert.InDelta(t, usage.Price(u, usage.Prices{PerKBWrite: 0.01, PerSecondCompute: 0.5}), u.Price, 1e-12)

	_, err = o.Usage(ctx, "unknown")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRunPlanContinuesAfterFailure(t *testing.T) {
	o := newOrchestrator(t, nil)
	plan := []Step{
		{Kind: "teleport"},
		{Kind: KindBacktest, Name: "no-data", Task: task(t, map[string]any{"strategy_name": "SMA Crossover"})},
		{Kind: KindBacktest, Name: "bad-task", Task: json.RawMessage(`[1,2]`)},
		{Kind: KindDataScout, Task: task(t, map[string]any{"bars": waveBars(60)})},
		{Kind: KindBacktest, Name: "short", Task: task(t, map[string]any{"strategy_name": "SMA Crossover", "settings": map[string]any{"min_bars": 100}})},
	}
	out, err := o.Run(context.Background(), "", plan)
	require.NoError(t, err)
	assert.NotEmpty(t, out.TraceID)
	require.Len(t, out.Reports, 5)

	assert.Equal(t, StatusFailed, out.Reports[0].Status)
	assert.Equal(t, "UnknownKind", out.Reports[0].Error.Type)
	assert.Equal(t, "teleport", out.Reports[0].Name)

	assert.Equal(t, StatusFailed, out.Reports[1].Status)
	assert.Equal(t, "InsufficientData", out.Reports[1].Error.Type)

	assert.Equal(t, StatusFailed, out.Reports[2].Status)
	assert.Equal(t, "InvalidStrategy", out.Reports[2].Error.Type)

	assert.Equal(t, StatusCompleted, out.Reports[3].Status)
	assert.Equal(t, KindDataScout, out.Reports[3].Name)

	assert.Equal(t, StatusFailed, out.Reports[4].Status)
	assert.Equal(t, "InsufficientData", out.Reports[4].Error.Type)
}

func TestRunEmptyPlan(t *testing.T) {
	_, err := newOrchestrator(t, nil).Run(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestDataScoutFetchNeedsMarket(t *testing.T) {
	o := newOrchestrator(t, nil)
	out, err := o.Run(context.Background(), "", []Step{{Kind: KindDataScout, Task: task(t, map[string]any{"symbol": "BTCUSDT", "timeframe": "1h", "fetch": true})}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Reports[0].Status)
	assert.Contains(t, out.Reports[0].Error.Message, "not configured")
}
