package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryReplayCache реализует ReplayCache в памяти процесса.
// Используется в dev-режиме и тестах, когда Redis недоступен.
type MemoryReplayCache struct {
	mu      sync.RWMutex
	items   map[string]memoryItem
	metrics *CacheMetrics
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero = без истечения
}

// NewMemoryReplayCache создаёт пустой in-memory кеш
func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{
		items:   make(map[string]memoryItem),
		metrics: &CacheMetrics{LastUpdate: time.Now()},
	}
}

// Get получает значение по ключу
func (m *MemoryReplayCache) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&m.metrics.TotalRequests, 1)

	m.mu.RLock()
	item, exists := m.items[key]
	m.mu.RUnlock()

	if !exists || (!item.expiresAt.IsZero() && time.Now().After(item.expiresAt)) {
		atomic.AddInt64(&m.metrics.CacheMisses, 1)
		return nil, ErrCacheMiss
	}

	atomic.AddInt64(&m.metrics.CacheHits, 1)
	return item.value, nil
}

// Set сохраняет значение с TTL
func (m *MemoryReplayCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// Delete удаляет ключ
func (m *MemoryReplayCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Exists проверяет существование ключа
func (m *MemoryReplayCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	item, exists := m.items[key]
	m.mu.RUnlock()

	if !exists {
		return false, nil
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		return false, nil
	}
	return true, nil
}

// InvalidateSession сбрасывает все ключи сессии
func (m *MemoryReplayCache) InvalidateSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.items {
		if strings.Contains(key, ":"+sessionID) {
			delete(m.items, key)
		}
	}
	return nil
}

// Close очищает кеш
func (m *MemoryReplayCache) Close() error {
	m.mu.Lock()
	m.items = make(map[string]memoryItem)
	m.mu.Unlock()
	return nil
}

// GetMetrics возвращает метрики кеша
func (m *MemoryReplayCache) GetMetrics() *CacheMetrics {
	hits := atomic.LoadInt64(&m.metrics.CacheHits)
	misses := atomic.LoadInt64(&m.metrics.CacheMisses)

	metrics := CacheMetrics{
		TotalRequests: atomic.LoadInt64(&m.metrics.TotalRequests),
		CacheHits:     hits,
		CacheMisses:   misses,
		LastUpdate:    time.Now(),
	}
	if total := hits + misses; total > 0 {
		metrics.HitRatio = float64(hits) / float64(total)
	}
	return &metrics
}
