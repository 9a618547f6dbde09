package cache

import (
	"sync"
	"time"
)

// Value 带 TTL 的单值缓存，支持显式失效。
// 热路径读缓存，变更路径调用 Invalidate 保证下一次读取回源。
type Value[T any] struct {
	mu        sync.RWMutex
	ttl       time.Duration
	data      T
	expiresAt time.Time
}

// NewValue 创建指定 TTL 的缓存
func NewValue[T any](ttl time.Duration) *Value[T] {
	return &Value[T]{ttl: ttl}
}

// Get 返回缓存值，未写入或已过期时 ok 为 false
func (v *Value[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.expiresAt.IsZero() || time.Now().After(v.expiresAt) {
		var zero T
		return zero, false
	}
	return v.data, true
}

// Set 写入缓存并重置过期时间
func (v *Value[T]) Set(data T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.data = data
	v.expiresAt = time.Now().Add(v.ttl)
}

// Invalidate 立即失效，下一次 Get 必然未命中
func (v *Value[T]) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.expiresAt = time.Time{}
}
