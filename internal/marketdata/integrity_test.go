package marketdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindGaps(t *testing.T) {
	step := int64(10)
	cases := []struct {
		name  string
		times []int64
		want  []Gap
	}{
		{"complete", []int64{0, 10, 20, 30}, nil},
		{"empty", nil, []Gap{{From: 0, To: 30}}},
		{"middle", []int64{0, 30}, []Gap{{From: 10, To: 20}}},
		{"edges", []int64{10, 20}, []Gap{{From: 0, To: 0}, {From: 30, To: 30}}},
		{"off grid ignored", []int64{0, 5, 10, 20, 30}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := findGaps(tc.times, step, 0, 30)
			assert.Equal(t, int64(4), r.Expected)
			assert.Equal(t, tc.want, r.Gaps)
			assert.Equal(t, len(tc.want) == 0, r.Complete())
		})
	}
}

func TestCheckIntegrity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	candles := hourly(0, 6)
	candles = append(candles[:2], candles[4:]...)
	_, err := store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)

	tf, _ := ParseTimeframe("1h")
	r, err := CheckIntegrity(ctx, store, "BTCUSDT", "1h", tf, 0, 7*hourMs)
	require.NoError(t, err)
	assert.Equal(t, int64(8), r.Expected)
	assert.Equal(t, int64(4), r.Present)
	assert.Equal(t, []Gap{{From: 2 * hourMs, To: 3 * hourMs}, {From: 6 * hourMs, To: 7 * hourMs}}, r.Gaps)
}
