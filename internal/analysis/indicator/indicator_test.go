package indicator

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/pkg/errs"
)

func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i)
		out[i] = 100 + 10*math.Sin(x/7) + 3*math.Cos(x/3) + 0.05*x
	}
	return out
}

func countLeadingNaN(s []float64) int {
	n := 0
	for _, v := range s {
		if !math.IsNaN(v) {
			break
		}
		n++
	}
	return n
}

func TestSMALeadingUndefined(t *testing.T) {
	src := wave(120)
	for _, p := range []int{1, 5, 20, 50} {
		out, err := SMA(src, p)
		require.NoError(t, err)
		require.Len(t, out, len(src))
		assert.Equal(t, p-1, countLeadingNaN(out), "period %d", p)
	}
	out, err := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)
}

func TestEMASeedAndRecurrence(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5, 6}
	out, err := EMA(src, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, countLeadingNaN(out))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	alpha := 2.0 / 4.0
	want := out[2]
	for i := 3; i < len(src); i++ {
		want = alpha*src[i] + (1-alpha)*want
		assert.InDelta(t, want, out[i], 1e-9)
	}
}

func TestRSIRange(t *testing.T) {
	src := wave(300)
	out, err := RSI(src, 14)
	require.NoError(t, err)
	assert.Equal(t, 14, countLeadingNaN(out))
	for i := 14; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i], 0.0)
		assert.LessOrEqual(t, out[i], 100.0)
	}
	ref := talib.Rsi(src, 14)
	for i := 14; i < len(out); i++ {
		assert.InDelta(t, ref[i], out[i], 1e-6, "index %d", i)
	}
}

func TestRSIFlatAndRising(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 50
	}
	out, err := RSI(flat, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, out[29])

	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(i + 1)
	}
	out, err = RSI(rising, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, out[20])
}

func TestMACD(t *testing.T) {
	src := wave(200)
	res, err := MACD(src, 12, 26, 9)
	require.NoError(t, err)
	assert.Equal(t, 25, countLeadingNaN(res.Line))
	assert.Equal(t, 33, countLeadingNaN(res.Signal))
	for i := 33; i < len(src); i++ {
		assert.InDelta(t, res.Line[i]-res.Signal[i], res.Histogram[i], 1e-12)
	}

	_, err = MACD(src[:34], 12, 26, 9)
	assert.True(t, errors.Is(err, errs.ErrInsufficientData))
	_, err = MACD(src[:35], 12, 26, 9)
	assert.NoError(t, err)
}

func TestBollingerOrdering(t *testing.T) {
	src := wave(150)
	res, err := Bollinger(src, 20, 2)
	require.NoError(t, err)
	assert.Equal(t, 19, countLeadingNaN(res.Upper))
	for i := 19; i < len(src); i++ {
		assert.GreaterOrEqual(t, res.Upper[i], res.Middle[i])
		assert.GreaterOrEqual(t, res.Middle[i], res.Lower[i])
	}

	// 样本标准差：窗口 {1,2,3} 的标准差为 1。
	bands, err := Bollinger([]float64{1, 2, 3}, 3, 1)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, bands.Upper[2], 1e-9)
	assert.InDelta(t, 1.0, bands.Lower[2], 1e-9)
}

func TestIndicatorErrors(t *testing.T) {
	cases := []struct {
		name string
		run  func() error
		want error
	}{
		{"sma short", func() error { _, err := SMA([]float64{1, 2}, 5); return err }, errs.ErrInsufficientData},
		{"rsi short", func() error { _, err := RSI(make([]float64, 14), 14); return err }, errs.ErrInsufficientData},
		{"zero period", func() error { _, err := EMA([]float64{1, 2}, 0); return err }, errs.ErrIndicatorCalculation},
		{"bb period 1", func() error { _, err := Bollinger([]float64{1, 2}, 1, 2); return err }, errs.ErrIndicatorCalculation},
		{"bb negative std", func() error { _, err := Bollinger([]float64{1, 2, 3}, 2, -1); return err }, errs.ErrIndicatorCalculation},
		{"nan input", func() error { _, err := SMA([]float64{1, math.NaN(), 3}, 2); return err }, errs.ErrIndicatorCalculation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), err.Error())
		})
	}
}

func TestSpecColumns(t *testing.T) {
	cases := []struct {
		spec Spec
		want []string
	}{
		{Spec{Type: "sma", Period: 20}, []string{"SMA_20"}},
		{Spec{Type: "EMA", Period: 9}, []string{"EMA_9"}},
		{Spec{Type: "RSI"}, []string{"RSI_14"}},
		{Spec{Type: "MACD"}, []string{"MACD_Line", "MACD_Signal", "MACD_Histogram"}},
		{Spec{Type: "bb", Period: 20}, []string{"BB_Upper", "BB_Middle", "BB_Lower"}},
		{Spec{Type: "SMA", Period: 5, Name: "fast"}, []string{"fast"}},
		{Spec{Type: "BOLLINGER", Name: "Band"}, []string{"Band_Upper", "Band_Middle", "Band_Lower"}},
		{Spec{Type: "VWAP"}, nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.spec.Columns(), tc.spec.Type)
	}
}

func TestCompute(t *testing.T) {
	src := wave(100)
	out, err := Compute(Spec{Type: "MACD", FastPeriod: 5, SlowPeriod: 10, SignalPeriod: 3}, src)
	require.NoError(t, err)
	require.Len(t, out, 3)

	out, err = Compute(Spec{Type: "bb", Period: 10}, src)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Greater(t, out[0][50], out[2][50])

	_, err = Compute(Spec{Type: "ATR"}, src)
	assert.True(t, errors.Is(err, errs.ErrInvalidStrategy))
}

func TestBollingerZeroWidth(t *testing.T) {
	var spec Spec
	require.NoError(t, json.Unmarshal([]byte(`{"type":"BOLLINGER","period":10,"num_std":0}`), &spec))
	require.NotNil(t, spec.NumStd)
	assert.Equal(t, 0.0, spec.Normalized().Std())
	assert.Equal(t, DefaultNumStd, Spec{Type: "BOLLINGER"}.Normalized().Std())

	out, err := Compute(spec, wave(60))
	require.NoError(t, err)
	for i := 9; i < 60; i++ {
		assert.Equal(t, out[1][i], out[0][i], "bar %d", i)
		assert.Equal(t, out[1][i], out[2][i], "bar %d", i)
	}

	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"num_std":0`)
}
