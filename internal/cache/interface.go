package cache

import (
	"context"
	"fmt"
	"time"
)

// ReplayCache определяет интерфейс горячего кеша страниц replay-событий.
// Холодным хранилищем выступает ReplayStore; кеш держит сериализованные
// страницы событий, которые плеер запрашивает многократно.
//
// Использование:
//
//	cache := NewRedisReplayCache(config, invalidator)
//	data, err := cache.Get(ctx, EventPageKey(sessionID, limit, offset))
//	err = cache.Set(ctx, key, data, 5*time.Minute)
//	err = cache.InvalidateSession(ctx, sessionID)
type ReplayCache interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// TTL = 0 означает отсутствие истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша.
	Delete(ctx context.Context, key string) error

	// Exists проверяет существование ключа в кеше.
	Exists(ctx context.Context, key string) (bool, error)

	// InvalidateSession сбрасывает все закешированные страницы сессии
	// и рассылает уведомление другим узлам. Вызывается при ingest
	// нового батча событий.
	InvalidateSession(ctx context.Context, sessionID string) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// CacheInvalidator управляет распределённой инвалидацией через Pub/Sub.
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации сессии.
	PublishInvalidation(ctx context.Context, sessionID string) error

	// SubscribeInvalidations подписывается на уведомления об инвалидации.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации.
type InvalidationHandler func(sessionID string) error

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	// Последнее обновление
	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию для кеша.
type CacheConfig struct {
	// Redis конфигурация
	RedisURL      string `yaml:"redis_url" env:"CACHE_REDIS_URL"`
	RedisPassword string `yaml:"redis_password" env:"CACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"CACHE_REDIS_DB"`

	// TTL настройки
	DefaultTTL time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL"`
	MaxTTL     time.Duration `yaml:"max_ttl" env:"CACHE_MAX_TTL"`

	// Производительность
	MaxConnections int           `yaml:"max_connections" env:"CACHE_MAX_CONNECTIONS"`
	PoolTimeout    time.Duration `yaml:"pool_timeout" env:"CACHE_POOL_TIMEOUT"`
}

// EventPageKey строит ключ страницы событий сессии.
// Все ключи одной сессии разделяют префикс, чтобы InvalidateSession
// мог сбросить их одним проходом.
func EventPageKey(sessionID string, limit, offset int) string {
	return fmt.Sprintf("replay:events:%s:%d:%d", sessionID, limit, offset)
}

// SessionKey строит ключ закешированной записи сессии.
func SessionKey(sessionID string) string {
	return fmt.Sprintf("replay:session:%s", sessionID)
}

// sessionKeyPattern возвращает glob-паттерн всех ключей сессии
func sessionKeyPattern(sessionID string) string {
	return fmt.Sprintf("replay:*:%s*", sessionID)
}

// Ошибки кеша
var (
	ErrCacheMiss    = NewCacheError("cache miss")
	ErrCacheTimeout = NewCacheError("cache timeout")
	ErrInvalidKey   = NewCacheError("invalid key")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}
