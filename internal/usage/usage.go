// Package usage 按 trace 统计 IO 与计算耗时，并按配置单价折算费用。
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stratlab/internal/kvstore"
)

// Prices 是计费单价。
type Prices struct {
	PerKBWrite       float64 `json:"price_per_kb_write"`
	PerKBRead        float64 `json:"price_per_kb_read"`
	PerSecondCompute float64 `json:"price_per_second_compute"`
}

// Usage 是某个 trace 的累计用量。
type Usage struct {
	TraceID        string    `json:"trace_id"`
	BytesWritten   int64     `json:"bytes_written"`
	BytesRead      int64     `json:"bytes_read"`
	ObjectsWritten int64     `json:"objects_written"`
	ObjectsRead    int64     `json:"objects_read"`
	ComputeMS      int64     `json:"compute_ms"`
	Price          float64   `json:"price"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Key 是用量快照在 KV 中的 key。
func Key(traceID string) string { return "usage:" + traceID }

// Tracker 累计一个 trace 的用量，可并发调用。
type Tracker struct {
	prices Prices
	kv     kvstore.Store

	mu sync.Mutex
	u  Usage
}

// NewTracker 创建 tracker；kv 为 nil 时 Flush 不做任何事。
func NewTracker(traceID string, prices Prices, kv kvstore.Store) *Tracker {
	return &Tracker{prices: prices, kv: kv, u: Usage{TraceID: traceID, UpdatedAt: time.Now().UTC()}}
}

func (t *Tracker) TraceID() string { return t.u.TraceID }

// AddIO 记录读写的字节数与对象数。
func (t *Tracker) AddIO(bytesWritten, bytesRead, objectsWritten, objectsRead int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.u.BytesWritten += bytesWritten
	t.u.BytesRead += bytesRead
	t.u.ObjectsWritten += objectsWritten
	t.u.ObjectsRead += objectsRead
	t.u.UpdatedAt = time.Now().UTC()
}

// AddCompute 记录计算耗时，按毫秒截断。
func (t *Tracker) AddCompute(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.u.ComputeMS += d.Milliseconds()
	t.u.UpdatedAt = time.Now().UTC()
}

// Snapshot 返回带费用的当前用量。
func (t *Tracker) Snapshot() Usage {
	t.mu.Lock()
	out := t.u
	t.mu.Unlock()
	out.Price = Price(out, t.prices)
	return out
}

// Flush 把快照写入 KV。
func (t *Tracker) Flush(ctx context.Context) error {
	if t.kv == nil {
		return nil
	}
	return kvstore.SetJSON(ctx, t.kv, Key(t.TraceID()), t.Snapshot(), 0)
}

// Load 读取已持久化的快照。
func Load(ctx context.Context, kv kvstore.Store, traceID string) (Usage, error) {
	var u Usage
	err := kvstore.GetJSON(ctx, kv, Key(traceID), &u)
	return u, err
}

// Price = KB 写入*单价 + KB 读取*单价 + 计算秒数*单价，保留 8 位小数。
func Price(u Usage, p Prices) float64 {
	kb := decimal.NewFromInt(1024)
	written := decimal.NewFromInt(u.BytesWritten).Div(kb).Mul(decimal.NewFromFloat(p.PerKBWrite))
	read := decimal.NewFromInt(u.BytesRead).Div(kb).Mul(decimal.NewFromFloat(p.PerKBRead))
	compute := decimal.NewFromInt(u.ComputeMS).Div(decimal.NewFromInt(1000)).Mul(decimal.NewFromFloat(p.PerSecondCompute))
	f, _ := written.Add(read).Add(compute).Round(8).Float64()
	return f
}
