package strategy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/analysis/indicator"
	"stratlab/internal/pkg/errs"
)

func TestPrebuiltLibrary(t *testing.T) {
	all, err := Prebuilt()
	require.NoError(t, err)
	require.Len(t, all, 6)
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
		assert.NoError(t, s.Validate(), s.Name)
		assert.True(t, s.IsActive)
		assert.NotEmpty(t, s.OptimizableParams, s.Name)
	}
	assert.Equal(t, []string{
		"SMA Crossover", "RSI Mean Reversion", "MACD Momentum",
		"Bollinger Bands Mean Reversion", "Triple EMA Trend", "RSI + Bollinger Combo",
	}, names)

	s, ok := PrebuiltByName("rsi mean reversion")
	require.True(t, ok)
	assert.Equal(t, 30.0, s.Config.Constants["oversold"])

	// 返回的是副本。
	s.Config.Constants["oversold"] = 1
	again, _ := PrebuiltByName("RSI Mean Reversion")
	assert.Equal(t, 30.0, again.Config.Constants["oversold"])

	_, ok = PrebuiltByName("nope")
	assert.False(t, ok)
}

func TestApplyRenamesColumns(t *testing.T) {
	s, ok := PrebuiltByName("SMA Crossover")
	require.True(t, ok)

	cfg, err := s.Config.Apply(s.OptimizableParams, map[string]float64{"SMA_fast_period": 15, "SMA_slow_period": 60})
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Indicators[0].Period)
	assert.Equal(t, 60, cfg.Indicators[1].Period)
	assert.Equal(t, "(SMA_15 > SMA_60) & (SMA_15.shift(1) <= SMA_60.shift(1))", cfg.EntryRules.Condition)
	assert.Equal(t, "(SMA_15 < SMA_60) & (SMA_15.shift(1) >= SMA_60.shift(1))", cfg.ExitRules.Condition)
	_, err = cfg.Compile()
	assert.NoError(t, err)

	// 原配置不受影响。
	assert.Equal(t, 20, s.Config.Indicators[0].Period)
	assert.Contains(t, s.Config.EntryRules.Condition, "SMA_20")
}

func TestApplySwapAndCollision(t *testing.T) {
	s, _ := PrebuiltByName("SMA Crossover")
	cfg, err := s.Config.Apply(s.OptimizableParams, map[string]float64{"SMA_fast_period": 50, "SMA_slow_period": 20})
	require.NoError(t, err)
	assert.Equal(t, "(SMA_50 > SMA_20) & (SMA_50.shift(1) <= SMA_20.shift(1))", cfg.EntryRules.Condition)

	ema, _ := PrebuiltByName("Triple EMA Trend")
	_, err = ema.Config.Apply(ema.OptimizableParams, map[string]float64{"EMA_short": 15, "EMA_medium": 15, "EMA_long": 50})
	var se *errs.StrategyError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "EMA_15", se.Token)
}

func TestApplyConstantsAndFields(t *testing.T) {
	rsi, _ := PrebuiltByName("RSI Mean Reversion")
	cfg, err := rsi.Config.Apply(rsi.OptimizableParams, map[string]float64{"oversold_threshold": 25, "RSI_period": 12.4})
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.Constants["oversold"])
	assert.Equal(t, 70.0, cfg.Constants["overbought"])
	assert.Equal(t, 12, cfg.Indicators[0].Period)
	assert.Equal(t, "(RSI_12 > $oversold) & (RSI_12.shift(1) <= $oversold)", cfg.EntryRules.Condition)

	bb, _ := PrebuiltByName("Bollinger Bands Mean Reversion")
	cfg, err = bb.Config.Apply(bb.OptimizableParams, map[string]float64{"BB_std_dev": 2.25})
	require.NoError(t, err)
	assert.Equal(t, 2.25, cfg.Indicators[0].Std())
	assert.Equal(t, 2.0, bb.Config.Indicators[0].Std(), "applying parameters does not touch the source config")
	assert.Equal(t, bb.Config.EntryRules, cfg.EntryRules)

	_, err = bb.Config.Apply(bb.OptimizableParams, map[string]float64{"nope": 1})
	assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
}

func TestCompileErrors(t *testing.T) {
	base := func() Config {
		return Config{
			Indicators: []indicator.Spec{{Type: "SMA", Period: 5}},
			EntryRules: Rule{Condition: "SMA_5 > Close"},
			ExitRules:  Rule{Condition: "SMA_5 < Close"},
		}
	}
	_, err := base().Compile()
	require.NoError(t, err)

	cfg := base()
	cfg.EntryRules.Condition = "SMA_200 > Close"
	_, err = cfg.Compile()
	var se *errs.StrategyError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "SMA_200", se.Token)

	cfg = base()
	cfg.ExitRules.Condition = "Close < $stop"
	_, err = cfg.Compile()
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "$stop", se.Token)

	cfg = base()
	cfg.Indicators = append(cfg.Indicators, cfg.Indicators[0])
	_, err = cfg.Compile()
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "SMA_5", se.Token)

	cfg = base()
	cfg.ExitRules.Condition = " "
	_, err = cfg.Compile()
	assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
}

func TestValidateBindings(t *testing.T) {
	s, _ := PrebuiltByName("MACD Momentum")
	p := s.OptimizableParams["MACD_fast"]
	idx := 3
	p.Bind.Indicator = &idx
	s.OptimizableParams["MACD_fast"] = p
	assert.ErrorContains(t, s.Validate(), "MACD_fast")

	s, _ = PrebuiltByName("MACD Momentum")
	p = s.OptimizableParams["MACD_fast"]
	p.Bind = Binding{}
	s.OptimizableParams["MACD_fast"] = p
	assert.ErrorContains(t, s.Validate(), "no binding")
}

func TestDecodeDocument(t *testing.T) {
	t.Run("wrapped", func(t *testing.T) {
		raw := `{"name":"X","risk_level":"high","tags":["a"],
			"config":{"indicators":[{"type":"SMA","period":5}],
			"entry_rules":{"condition":"Close > SMA_5"},"exit_rules":{"condition":"Close < SMA_5"}},
			"optimizable_params":{"p":{"min":3,"max":9,"step":3,"default":5,"bind":{"indicator":0,"field":"period"}}}}`
		s, err := DecodeDocument([]byte(raw), "")
		require.NoError(t, err)
		assert.Equal(t, "X", s.Name)
		assert.Equal(t, RiskHigh, s.RiskLevel)
		assert.True(t, s.IsActive)
		require.Contains(t, s.OptimizableParams, "p")
		assert.Equal(t, 0, *s.OptimizableParams["p"].Bind.Indicator)
	})

	t.Run("bare config", func(t *testing.T) {
		raw := `{"indicators":[{"type":"RSI","period":14}],
			"entry_rules":{"condition":"RSI_14 < 30"},"exit_rules":{"condition":"RSI_14 > 70"}}`
		cfg, err := DecodeConfig([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "RSI", cfg.Indicators[0].Type)
	})

	t.Run("legacy string config and tags", func(t *testing.T) {
		raw := `{"name":"L","tags":"trend, slow","config":"{\"indicators\":[],\"entry_rules\":{\"condition\":\"Close > 1\"},\"exit_rules\":{\"condition\":\"Close < 1\"}}"}`
		s, err := DecodeDocument([]byte(raw), "")
		require.NoError(t, err)
		assert.Equal(t, []string{"trend", "slow"}, s.Tags)
	})

	t.Run("schema violation", func(t *testing.T) {
		raw := `{"name":"X","config":{"indicators":[{"type":"SMA","period":0}],
			"entry_rules":{"condition":"Close > 1"},"exit_rules":{"condition":"Close < 1"}}}`
		_, err := DecodeDocument([]byte(raw), "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
		assert.Contains(t, err.Error(), "period")
	})

	t.Run("bind must pick one target", func(t *testing.T) {
		raw := `{"name":"X","config":{"indicators":[{"type":"SMA","period":5}],
			"entry_rules":{"condition":"Close > SMA_5"},"exit_rules":{"condition":"Close < SMA_5"}},
			"optimizable_params":{"p":{"min":3,"max":9,"step":3,"bind":{"indicator":0,"field":"period","constant":"x"}}}}`
		_, err := DecodeDocument([]byte(raw), "")
		assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeDocument([]byte(`{"name":`), "")
		assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
		_, err = DecodeDocument([]byte(`{"name":"X"}`), "")
		assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
	})
}

const libraryYAML = `strategies:
  - name: Custom Cross
    risk_level: high
    config:
      indicators:
        - {type: EMA, period: 10}
      entry_rules: {condition: Close > EMA_10}
      exit_rules: {condition: Close < EMA_10}
`

func TestLibraryLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(libraryYAML), 0o644))

	lib, err := OpenLibrary(path, false)
	require.NoError(t, err)
	s, ok := lib.Get("custom cross")
	require.True(t, ok)
	assert.Equal(t, RiskHigh, s.RiskLevel)
	assert.Equal(t, []string{"Custom Cross"}, lib.Names())

	got := make(chan Snapshot, 1)
	lib.Subscribe(func(s Snapshot) { got <- s })
	updated := libraryYAML + `  - name: Second
    config:
      indicators: []
      entry_rules: {condition: Close > 1}
      exit_rules: {condition: Close < 1}
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, lib.Reload())
	select {
	case snap := <-got:
		assert.Equal(t, int64(2), snap.Version)
		assert.Len(t, snap.Strategies, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not notified")
	}
}

func TestLibraryRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategies:\n  - name: X\n    colour: red\n"), 0o644))
	_, err := OpenLibrary(path, false)
	assert.ErrorContains(t, err, "colour")
}
