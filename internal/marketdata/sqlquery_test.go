package marketdata

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"stratlab/internal/market"
)

func TestCandleSQLWindow(t *testing.T) {
	cases := []struct {
		name       string
		start, end int64
		wantWhere  string
		wantArgs   []any
		wantLatest bool
	}{
		{"range", 10, 20, "symbol = $1 AND timeframe = $2 AND open_time BETWEEN $3 AND $4", []any{"BTCUSDT", "1h", int64(10), int64(20), 50}, false},
		{"swapped range", 20, 10, "symbol = $1 AND timeframe = $2 AND open_time BETWEEN $3 AND $4", []any{"BTCUSDT", "1h", int64(10), int64(20), 50}, false},
		{"from start", 10, 0, "symbol = $1 AND timeframe = $2 AND open_time >= $3", []any{"BTCUSDT", "1h", int64(10), 50}, false},
		{"until end", 0, 20, "symbol = $1 AND timeframe = $2 AND open_time <= $3", []any{"BTCUSDT", "1h", int64(20), 50}, true},
		{"latest", 0, 0, "symbol = $1 AND timeframe = $2", []any{"BTCUSDT", "1h", 50}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := newCandleSQL(dialectPostgres, "BTCUSDT", "1h")
			latest := q.window(tc.start, tc.end)
			query, args := q.query(candleColumns, latest, 50)
			order := "open_time LIMIT"
			if latest {
				order = "open_time DESC LIMIT"
			}
			assert.Equal(t, "SELECT "+candleColumns+" FROM candles WHERE "+tc.wantWhere+" ORDER BY "+order+" $"+strconv.Itoa(len(tc.wantArgs)), query)
			assert.Equal(t, tc.wantArgs, args)
			assert.Equal(t, tc.wantLatest, latest)
		})
	}
}

func TestCandleSQLSQLite(t *testing.T) {
	q := newCandleSQL(dialectSQLite, "BTCUSDT", "1h").between(5, 1)
	query, args := q.query("open_time", false, 0)
	assert.Equal(t, "SELECT open_time FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time", query)
	assert.Equal(t, []any{int64(1), int64(5)}, args)

	query, args = newCandleSQL(dialectSQLite, "BTCUSDT", "1h").manifest()
	assert.Equal(t, "SELECT "+manifestColumns+" FROM candles", query)
	assert.Empty(t, args)

	// 追加 LIMIT 不改写构建器自身的参数。
	q = newCandleSQL(dialectSQLite, "", "")
	q.window(0, 9)
	_, first := q.query(candleColumns, true, 3)
	_, second := q.query(candleColumns, true, 4)
	assert.Equal(t, []any{int64(9), 3}, first)
	assert.Equal(t, []any{int64(9), 4}, second)
}

func TestUpsertSQL(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO candles (open_time, close_time, open, high, low, close, volume, trades, synced_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (open_time) DO UPDATE SET "+
			"close_time = excluded.close_time, open = excluded.open, high = excluded.high, low = excluded.low, "+
			"close = excluded.close, volume = excluded.volume, trades = excluded.trades, synced_at = excluded.synced_at",
		dialectSQLite.upsertSQL())

	pg := dialectPostgres.upsertSQL()
	assert.Contains(t, pg, "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)")
	assert.Contains(t, pg, "ON CONFLICT (symbol, timeframe, open_time) DO UPDATE SET close_time = excluded.close_time")
	assert.NotContains(t, pg, "symbol = excluded")

	c := market.Candle{OpenTime: 1, CloseTime: 2, Open: 3, High: 4, Low: 5, Close: 6, Volume: 7, Trades: 8}
	assert.Len(t, dialectSQLite.upsertArgs("X", "1h", c, 9), 9)
	args := dialectPostgres.upsertArgs("X", "1h", c, 9)
	assert.Equal(t, []any{"X", "1h", int64(1), int64(2), 3.0, 4.0, 5.0, 6.0, 7.0, int64(8), int64(9)}, args)
}

func TestReverseCandles(t *testing.T) {
	list := hourly(0, 3)
	reverseCandles(list)
	assert.Equal(t, 2*hourMs, list[0].OpenTime)
	assert.Equal(t, int64(0), list[2].OpenTime)
	reverseCandles(nil)
}
