package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/session-replay/internal/auth"
	"github.com/annel0/session-replay/internal/cache"
	"github.com/annel0/session-replay/internal/config"
	"github.com/annel0/session-replay/internal/eventbus"
	"github.com/annel0/session-replay/internal/logging"
	"github.com/annel0/session-replay/internal/replaystore"
)

// ServerIntegration собирает сервис целиком: хранилище, кеш, шину,
// репозиторий пользователей, менеджер воспроизведений и REST сервер.
type ServerIntegration struct {
	restServer *RestServer
	userRepo   auth.UserRepository
	events     *EventService
	playbacks  *PlaybackManager
	webhooks   *OutboundWebhookManager
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServerIntegration строит интеграцию по конфигурации.
// cfg == nil означает дефолты: in-memory хранилище, без кеша, memory-шина.
func NewServerIntegration(cfg *config.Config) (*ServerIntegration, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Auth.JWTSecret != "" {
		if err := auth.SetJWTSecret(cfg.Auth.JWTSecret); err != nil {
			cancel()
			return nil, fmt.Errorf("некорректный jwt_secret: %w", err)
		}
	}

	// === Шина событий ===
	initEventBus(cfg)

	// === Хранилище replay-событий ===
	store, err := buildStore(cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	// === Горячий кеш ===
	replayCache := buildCache(ctx, cfg)

	// === Репозиторий пользователей ===
	userRepo, err := buildUserRepo(cfg)
	if err != nil {
		store.Close()
		cancel()
		return nil, err
	}

	events := NewEventService(store, replayCache,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		cfg.Playback.GetFetchLimit())

	playbacks := NewPlaybackManager(events, PlaybackManagerConfig{
		EngineSpeed:    cfg.Playback.EngineSpeed,
		SampleInterval: time.Duration(cfg.Playback.GetSampleIntervalMs()) * time.Millisecond,
	})

	webhooks := NewOutboundWebhookManager("replay_"+uuid.NewString()[:8], "production")
	if err := webhooks.BridgeEventBus(ctx); err != nil {
		logging.Warn("Не удалось подписать webhook-менеджер на шину: %v", err)
	}

	restServer := NewRestServer(Config{
		Port:      fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		UserRepo:  userRepo,
		Events:    events,
		Playbacks: playbacks,
		Webhooks:  webhooks,
	})

	return &ServerIntegration{
		restServer: restServer,
		userRepo:   userRepo,
		events:     events,
		playbacks:  playbacks,
		webhooks:   webhooks,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// initEventBus устанавливает глобальную шину: JetStream или memory fallback
func initEventBus(cfg *config.Config) {
	if cfg.EventBus.URL != "" {
		stream := cfg.EventBus.Stream
		if stream == "" {
			stream = "REPLAY_EVENTS"
		}
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		bus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, stream, retention)
		if err == nil {
			eventbus.Init(bus)
			logging.Info("✅ Шина событий: JetStream (%s)", cfg.EventBus.URL)
			return
		}
		logging.Warn("⚠️ JetStream недоступен (%v), переключаемся на memory-шину", err)
	}
	eventbus.Init(eventbus.NewMemoryBus(1024))
	logging.Info("Шина событий: in-memory")
}

// buildStore выбирает backend хранилища по конфигурации
func buildStore(cfg *config.Config) (replaystore.ReplayStore, error) {
	switch cfg.Storage.Backend {
	case "maria":
		store, err := replaystore.NewMariaStore(replaystore.MariaConfig{
			Host:     cfg.Storage.Maria.Host,
			Port:     cfg.Storage.Maria.Port,
			Database: cfg.Storage.Maria.Database,
			Username: cfg.Storage.Maria.Username,
			Password: cfg.Storage.Maria.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
		}
		logging.Info("✅ Хранилище: MariaDB (%s)", cfg.Storage.Maria.Host)
		return store, nil

	case "mongo":
		store, err := replaystore.NewMongoStore(replaystore.MongoStoreConfig{
			URI:      cfg.Storage.Mongo.URI,
			Database: cfg.Storage.Mongo.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
		}
		logging.Info("✅ Хранилище: MongoDB (%s)", cfg.Storage.Mongo.Database)
		return store, nil

	case "badger":
		path := cfg.Storage.Badger.Path
		if path == "" {
			path = "./data/replay"
		}
		store, err := replaystore.NewBadgerStore(path)
		if err != nil {
			return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
		}
		logging.Info("✅ Хранилище: BadgerDB (%s)", path)
		return store, nil

	case "", "memory":
		logging.Warn("⚠️ Используется in-memory хранилище событий")
		return replaystore.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("неизвестный storage backend: %s", cfg.Storage.Backend)
	}
}

// buildCache поднимает Redis-кеш с NATS-инвалидацией; при любой
// ошибке сервис работает без кеша.
func buildCache(ctx context.Context, cfg *config.Config) cache.ReplayCache {
	if !cfg.Cache.Enabled {
		return nil
	}

	var invalidator cache.CacheInvalidator
	if cfg.EventBus.URL != "" {
		inv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{
			NATSURL: cfg.EventBus.URL,
		}, uuid.NewString())
		if err != nil {
			logging.Warn("⚠️ NATS-инвалидатор недоступен: %v", err)
		} else {
			invalidator = inv
		}
	}

	redisCache, err := cache.NewRedisReplayCache(&cache.CacheConfig{
		RedisURL:   cfg.Cache.RedisURL,
		RedisDB:    cfg.Cache.RedisDB,
		DefaultTTL: time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	}, invalidator)
	if err != nil {
		logging.Warn("⚠️ Redis недоступен (%v), сервис работает без кеша", err)
		if invalidator != nil {
			invalidator.Close()
		}
		return nil
	}

	logging.Info("✅ Кеш страниц событий: Redis (%s)", cfg.Cache.RedisURL)
	return redisCache
}

// buildUserRepo выбирает репозиторий пользователей: MariaDB при
// maria-backend хранилища, иначе in-memory.
func buildUserRepo(cfg *config.Config) (auth.UserRepository, error) {
	if cfg.Storage.Backend == "maria" {
		repo, err := auth.NewMariaUserRepoDSN(
			cfg.Storage.Maria.Host,
			cfg.Storage.Maria.Port,
			cfg.Storage.Maria.Database,
			cfg.Storage.Maria.Username,
			cfg.Storage.Maria.Password,
		)
		if err != nil {
			return nil, fmt.Errorf("не удалось подключить репозиторий пользователей: %w", err)
		}
		logging.Info("✅ Репозиторий пользователей: MariaDB")
		return repo, nil
	}

	repo, err := auth.NewMemoryUserRepo()
	if err != nil {
		return nil, fmt.Errorf("не удалось создать in-memory репозиторий: %w", err)
	}
	logging.Warn("⚠️ Используется in-memory репозиторий пользователей")
	return repo, nil
}

// Start запускает REST API сервер
func (si *ServerIntegration) Start() error {
	logging.Info("Запуск REST API сервера на порту %s", si.restServer.port)

	// HTTP сервер для graceful shutdown
	si.httpServer = &http.Server{
		Addr:    si.restServer.port,
		Handler: si.restServer.router,
	}

	go func() {
		if err := si.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ Ошибка REST API сервера: %v", err)
		}
	}()

	logging.Info("✅ REST API сервер запущен на http://localhost%s", si.restServer.port)
	logging.Info("📋 Доступные эндпоинты:")
	logging.Info("   GET  /health                        - Проверка состояния")
	logging.Info("   POST /api/auth/login                - Вход в систему")
	logging.Info("   POST /api/track/session/start       - Открытие записываемой сессии")
	logging.Info("   POST /api/track/session/:id/end     - Завершение сессии")
	logging.Info("   POST /api/track/replay              - Приём батча событий")
	logging.Info("   GET  /api/track/replay/:session_id  - Выборка событий")
	logging.Info("   GET  /api/sessions                  - Список сессий (требует JWT)")
	logging.Info("   POST /api/playbacks                 - Открытие воспроизведения (требует JWT)")
	logging.Info("   GET  /api/stats                     - Статистика сервиса (требует JWT)")

	return nil
}

// Stop останавливает REST API сервер и разбирает ресурсы
func (si *ServerIntegration) Stop() error {
	logging.Info("🛑 Остановка REST API сервера...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if si.httpServer != nil {
		if err := si.httpServer.Shutdown(ctx); err != nil {
			logging.Error("❌ Ошибка при остановке HTTP сервера: %v", err)
			return err
		}
	}

	// Разбираем активные воспроизведения
	si.playbacks.Shutdown()

	// Отписываем webhook-менеджер от шины
	si.webhooks.Stop()

	// Закрываем хранилище и кеш
	if err := si.events.Close(); err != nil {
		logging.Error("❌ Ошибка при закрытии хранилища: %v", err)
	}

	// Закрываем репозиторий пользователей
	if closer, ok := si.userRepo.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logging.Error("❌ Ошибка при закрытии репозитория: %v", err)
		}
	}

	si.cancel()

	logging.Info("✅ REST API сервер остановлен")
	return nil
}

// GetUserRepository возвращает репозиторий пользователей
func (si *ServerIntegration) GetUserRepository() auth.UserRepository {
	return si.userRepo
}

// GetRestServer возвращает REST сервер (для дополнительной настройки)
func (si *ServerIntegration) GetRestServer() *RestServer {
	return si.restServer
}

// GetOutboundWebhooks возвращает менеджер исходящих webhook'ов
func (si *ServerIntegration) GetOutboundWebhooks() *OutboundWebhookManager {
	return si.webhooks
}

// IsHealthy проверяет состояние интеграции
func (si *ServerIntegration) IsHealthy() bool {
	select {
	case <-si.ctx.Done():
		return false
	default:
	}
	return true
}
