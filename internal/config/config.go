package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса воспроизведения сессий.

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Playback PlaybackConfig `yaml:"playback"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig содержит порты REST API и метрик
type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// StorageConfig выбирает backend хранилища replay-событий.
// Поддерживаются: memory, maria, mongo, badger.
type StorageConfig struct {
	Backend string `yaml:"backend"`

	Maria struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"maria"`

	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`

	Badger struct {
		Path string `yaml:"path"`
	} `yaml:"badger"`
}

// CacheConfig настраивает горячий кеш страниц событий (Redis)
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RedisURL   string `yaml:"redis_url"`
	RedisDB    int    `yaml:"redis_db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// EventBusConfig настраивает шину событий жизненного цикла воспроизведения
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// PlaybackConfig настраивает контроллеры воспроизведения
type PlaybackConfig struct {
	SampleIntervalMs int     `yaml:"sample_interval_ms"` // период опроса часов движка
	EngineSpeed      float64 `yaml:"engine_speed"`       // скорость воспроизведения движка
	FetchLimit       int     `yaml:"fetch_limit"`        // размер страницы выборки событий
}

// AuthConfig содержит настройки JWT
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // base64, минимум 32 байта
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "REPLAY_REST_PORT", 8090)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "REPLAY_METRICS_PORT", 2112)
}

// GetSampleIntervalMs возвращает период семплера (по умолчанию 250 мс)
func (p *PlaybackConfig) GetSampleIntervalMs() int {
	if p.SampleIntervalMs > 0 {
		return p.SampleIntervalMs
	}
	return 250
}

// GetFetchLimit возвращает размер страницы выборки (по умолчанию 1200 событий)
func (p *PlaybackConfig) GetFetchLimit() int {
	if p.FetchLimit > 0 {
		return p.FetchLimit
	}
	return 1200
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV REPLAY_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REPLAY_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
