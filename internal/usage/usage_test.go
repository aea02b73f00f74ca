package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/kvstore"
)

func TestTrackerAccumulatesAndPrices(t *testing.T) {
	prices := Prices{PerKBWrite: 0.001, PerKBRead: 0.0005, PerSecondCompute: 0.01}
	tr := NewTracker("trace-1", prices, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.AddIO(1024, 2048, 1, 2)
			tr.AddCompute(250 * time.Millisecond)
		}()
	}
	wg.Wait()
	tr.AddCompute(-time.Second)

	u := tr.Snapshot()
	assert.Equal(t, "trace-1", u.TraceID)
	assert.Equal(t, int64(8*1024), u.BytesWritten)
	assert.Equal(t, int64(8*2048), u.BytesRead)
	assert.Equal(t, int64(8), u.ObjectsWritten)
	assert.Equal(t, int64(16), u.ObjectsRead)
	assert.Equal(t, int64(2000), u.ComputeMS)
	// 8KB*0.001 + 16KB*0.0005 + 2s*0.01
	assert.InDelta(t, 0.008+0.008+0.02, u.Price, 1e-12)
}

func TestTrackerFlushAndLoad(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory("test")
	tr := NewTracker("abc", Prices{PerSecondCompute: 1}, kv)
	tr.AddCompute(1500 * time.Millisecond)
	require.NoError(t, tr.Flush(ctx))

	u, err := Load(ctx, kv, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), u.ComputeMS)
	assert.InDelta(t, 1.5, u.Price, 1e-12)

	_, err = Load(ctx, kv, "missing")
	assert.True(t, errors.Is(err, kvstore.ErrMiss))
}
