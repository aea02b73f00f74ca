package marketdata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/market"
)

const hourMs = int64(time.Hour / time.Millisecond)

// hourly 生成从 from 开始的 n 根 1h K 线，收盘价 100+i。
func hourly(from int64, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := from + int64(i)*hourMs
		c := 100 + float64(i)
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hourMs - 1,
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    10,
			Trades:    int64(i),
		}
	}
	return out
}

func backends(t *testing.T) map[string]CandleStore {
	t.Helper()
	sqliteStore, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	parquetStore, err := NewParquetStore(t.TempDir())
	require.NoError(t, err)
	stores := map[string]CandleStore{
		BackendMemory:  NewMemoryStore(),
		BackendSQLite:  sqliteStore,
		BackendParquet: parquetStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

// 2023-12-31 22:00 UTC，跨年写入会落到两个分区。
var base = time.Date(2023, 12, 31, 22, 0, 0, 0, time.UTC).UnixMilli()

func TestCandleStoreBackends(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			n, err := store.InsertCandles(ctx, "btcusdt", "1h", hourly(base, 10))
			require.NoError(t, err)
			assert.Equal(t, 10, n)

			// 覆盖重叠部分
			update := hourly(base+5*hourMs, 10)
			for i := range update {
				update[i].Close = 500
			}
			_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", update)
			require.NoError(t, err)

			m, err := store.Manifest(ctx, "BTCUSDT", "1h")
			require.NoError(t, err)
			assert.Equal(t, int64(15), m.Rows)
			assert.Equal(t, base, m.MinTime)
			assert.Equal(t, base+14*hourMs, m.MaxTime)

			all, err := store.RangeCandles(ctx, "BTCUSDT", "1h", base, base+100*hourMs)
			require.NoError(t, err)
			require.Len(t, all, 15)
			for i := 1; i < len(all); i++ {
				assert.Less(t, all[i-1].OpenTime, all[i].OpenTime)
			}
			assert.Equal(t, 104.0, all[4].Close)
			assert.Equal(t, 500.0, all[5].Close)

			times, err := store.LoadOpenTimes(ctx, "BTCUSDT", "1h", base+2*hourMs, base+4*hourMs)
			require.NoError(t, err)
			assert.Equal(t, []int64{base + 2*hourMs, base + 3*hourMs, base + 4*hourMs}, times)

			latest, err := store.QueryCandles(ctx, "BTCUSDT", "1h", 0, 0, 3)
			require.NoError(t, err)
			require.Len(t, latest, 3)
			assert.Equal(t, base+12*hourMs, latest[0].OpenTime)

			head, err := store.QueryCandles(ctx, "BTCUSDT", "1h", base+hourMs, 0, 2)
			require.NoError(t, err)
			require.Len(t, head, 2)
			assert.Equal(t, base+hourMs, head[0].OpenTime)

			empty, err := store.RangeCandles(ctx, "ETHUSDT", "1h", base, base+hourMs)
			require.NoError(t, err)
			assert.Empty(t, empty)

			_, err = store.InsertCandles(ctx, "", "1h", hourly(base, 1))
			assert.Error(t, err)
		})
	}
}

func TestSQLiteManifest(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewSQLiteStore(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := s.Manifest(ctx, "ethusdt", "4H")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", m.Symbol)
	assert.Equal(t, "4h", m.Timeframe)
	assert.Zero(t, m.Rows)
	assert.Zero(t, m.LastSyncAt)
	assert.Equal(t, filepath.Join(root, "ETHUSDT", "4h.db"), m.Path)

	before := time.Now().UnixMilli()
	_, err = s.InsertCandles(ctx, "ETHUSDT", "4h", hourly(base, 3))
	require.NoError(t, err)
	m, err = s.Manifest(ctx, "ETHUSDT", "4h")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Rows)
	assert.GreaterOrEqual(t, m.LastSyncAt, before)
	assert.FileExists(t, m.Path)
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	_, err := OpenStore(context.Background(), StoreConfig{Backend: "mongo"})
	assert.Error(t, err)

	s, err := OpenStore(context.Background(), StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}

func TestSelectWindow(t *testing.T) {
	list := hourly(0, 10)
	assert.Len(t, selectWindow(list, 0, 0, 0), 10)
	w := selectWindow(list, 0, 5*hourMs, 2)
	require.Len(t, w, 2)
	assert.Equal(t, 4*hourMs, w[0].OpenTime)
	w = selectWindow(list, 8*hourMs, 2*hourMs, 100)
	assert.Len(t, w, 7)
}
