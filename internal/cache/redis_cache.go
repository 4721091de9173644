package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/session-replay/internal/logging"
)

// RedisReplayCache реализует ReplayCache на Redis.
//
// Особенности:
// - Автоматические метрики (hit ratio, latency)
// - Инвалидация по префиксу сессии через SCAN
// - Рассылка инвалидаций другим узлам через CacheInvalidator
type RedisReplayCache struct {
	client      *redis.Client
	config      *CacheConfig
	invalidator CacheInvalidator

	// Метрики
	metrics      *CacheMetrics
	metricsMutex sync.RWMutex

	// Статистика latency
	latencySum   int64 // в наносекундах
	latencyCount int64
	maxLatency   int64
}

// NewRedisReplayCache создаёт новый Redis кеш.
//
// Параметры:
//
//	config - конфигурация Redis
//	invalidator - опциональный invalidator для Pub/Sub (может быть nil)
func NewRedisReplayCache(config *CacheConfig, invalidator CacheInvalidator) (*RedisReplayCache, error) {
	// Настройки по умолчанию
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.MaxTTL == 0 {
		config.MaxTTL = 1 * time.Hour
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.PoolTimeout == 0 {
		config.PoolTimeout = 30 * time.Second
	}

	// Создаём Redis клиент
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cache := &RedisReplayCache{
		client:      rdb,
		config:      config,
		invalidator: invalidator,
		metrics: &CacheMetrics{
			LastUpdate: time.Now(),
		},
	}

	// Применяем инвалидации, пришедшие от других узлов
	if invalidator != nil {
		err := invalidator.SubscribeInvalidations(context.Background(), func(sessionID string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return cache.dropSessionKeys(ctx, sessionID)
		})
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to subscribe to invalidations: %w", err)
		}
	}

	logging.Info("Redis replay cache initialized: %s", config.RedisURL)
	return cache, nil
}

// Get получает значение по ключу из Redis кеша.
func (r *RedisReplayCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer r.recordLatency(start)

	atomic.AddInt64(&r.metrics.TotalRequests, 1)

	val, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		atomic.AddInt64(&r.metrics.CacheHits, 1)
		r.updateHitRatio()
		return val, nil
	}

	atomic.AddInt64(&r.metrics.CacheMisses, 1)
	r.updateHitRatio()

	if err != redis.Nil {
		logging.Error("Redis Get error for key %s: %v", key, err)
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	return nil, ErrCacheMiss
}

// Set сохраняет значение в Redis кеше.
func (r *RedisReplayCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer r.recordLatency(start)

	// Валидация TTL
	if ttl == 0 {
		ttl = r.config.DefaultTTL
	}
	if ttl > r.config.MaxTTL {
		ttl = r.config.MaxTTL
	}

	err := r.client.Set(ctx, key, value, ttl).Err()
	if err != nil {
		logging.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

// Delete удаляет ключ из кеша.
func (r *RedisReplayCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer r.recordLatency(start)

	err := r.client.Del(ctx, key).Err()
	if err != nil {
		logging.Error("Redis Delete error for key %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}

	return nil
}

// Exists проверяет существование ключа в кеше.
func (r *RedisReplayCache) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	defer r.recordLatency(start)

	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}

	return count > 0, nil
}

// InvalidateSession сбрасывает все ключи сессии и уведомляет другие узлы.
func (r *RedisReplayCache) InvalidateSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	defer r.recordLatency(start)

	if err := r.dropSessionKeys(ctx, sessionID); err != nil {
		return err
	}

	// Уведомляем другие узлы
	if r.invalidator != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.invalidator.PublishInvalidation(ctx, sessionID); err != nil {
				logging.Error("Failed to publish invalidation for session %s: %v", sessionID, err)
			}
		}()
	}

	return nil
}

// dropSessionKeys удаляет ключи сессии по префиксу через SCAN
func (r *RedisReplayCache) dropSessionKeys(ctx context.Context, sessionID string) error {
	iter := r.client.Scan(ctx, 0, sessionKeyPattern(sessionID), 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logging.Error("Redis SCAN error for session %s: %v", sessionID, err)
		return fmt.Errorf("redis scan error: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		logging.Error("Redis Del error for session %s: %v", sessionID, err)
		return fmt.Errorf("redis delete error: %w", err)
	}

	logging.Debug("Invalidated %d cached keys for session %s", len(keys), sessionID)
	return nil
}

// Close закрывает соединение с Redis.
func (r *RedisReplayCache) Close() error {
	if r.invalidator != nil {
		if err := r.invalidator.Close(); err != nil {
			logging.Error("Error closing invalidator: %v", err)
		}
	}

	err := r.client.Close()
	if err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}

	logging.Info("Redis replay cache closed")
	return nil
}

// GetMetrics возвращает текущие метрики кеша.
func (r *RedisReplayCache) GetMetrics() *CacheMetrics {
	r.updateLatencyMetrics()

	r.metricsMutex.RLock()
	defer r.metricsMutex.RUnlock()

	// Копируем метрики для безопасности
	metrics := *r.metrics
	metrics.LastUpdate = time.Now()

	return &metrics
}

// recordLatency записывает latency метрику.
func (r *RedisReplayCache) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()

	atomic.AddInt64(&r.latencySum, latency)
	atomic.AddInt64(&r.latencyCount, 1)

	// Обновляем максимальную latency
	for {
		current := atomic.LoadInt64(&r.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&r.maxLatency, current, latency) {
			break
		}
	}
}

// updateLatencyMetrics обновляет метрики latency.
func (r *RedisReplayCache) updateLatencyMetrics() {
	count := atomic.LoadInt64(&r.latencyCount)
	if count == 0 {
		return
	}

	sum := atomic.LoadInt64(&r.latencySum)
	max := atomic.LoadInt64(&r.maxLatency)

	r.metricsMutex.Lock()
	r.metrics.AvgLatencyMs = float64(sum) / float64(count) / 1e6 // нс в мс
	r.metrics.MaxLatencyMs = float64(max) / 1e6
	r.metricsMutex.Unlock()
}

// updateHitRatio обновляет hit ratio в метриках.
func (r *RedisReplayCache) updateHitRatio() {
	hits := atomic.LoadInt64(&r.metrics.CacheHits)
	misses := atomic.LoadInt64(&r.metrics.CacheMisses)
	total := hits + misses

	if total > 0 {
		r.metricsMutex.Lock()
		r.metrics.HitRatio = float64(hits) / float64(total)
		r.metricsMutex.Unlock()
	}
}
