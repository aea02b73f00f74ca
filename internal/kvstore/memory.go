package kvstore

import (
	"context"
	"sync"
	"time"
)

const defaultShardCount = 32

type entry struct {
	value     []byte
	expiresAt time.Time
}

type shard struct {
	mu   sync.RWMutex
	data map[string]entry
}

// Memory 是按 key 分片的进程内存储，过期条目在读取时清理。
type Memory struct {
	prefix string
	shards []shard
	now    func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory(prefix string) *Memory {
	m := &Memory{prefix: prefix, shards: make([]shard, defaultShardCount), now: time.Now}
	for i := range m.shards {
		m.shards[i] = shard{data: make(map[string]entry)}
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	return &m.shards[hashKey(key)%uint32(len(m.shards))]
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	k := withPrefix(m.prefix, key)
	sh := m.shardFor(k)
	sh.mu.RLock()
	e, ok := sh.data[k]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		sh.mu.Lock()
		if cur, ok := sh.data[k]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(sh.data, k)
		}
		sh.mu.Unlock()
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	k := withPrefix(m.prefix, key)
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	sh := m.shardFor(k)
	sh.mu.Lock()
	sh.data[k] = e
	sh.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	k := withPrefix(m.prefix, key)
	sh := m.shardFor(k)
	sh.mu.Lock()
	delete(sh.data, k)
	sh.mu.Unlock()
	return nil
}

// Len 返回当前条目数（含尚未清理的过期条目）。
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		n += len(m.shards[i].data)
		m.shards[i].mu.RUnlock()
	}
	return n
}

func (m *Memory) Close() error { return nil }

// hashKey 是 FNV-1a。
func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
