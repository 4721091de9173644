package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/session-replay/internal/auth"
	"github.com/annel0/session-replay/internal/middleware"
	"github.com/annel0/session-replay/internal/replay"
	"github.com/annel0/session-replay/internal/replaystore"
)

// Prometheus-метрики регистрируются в глобальном регистре один раз
// на процесс: повторное создание сервера (тесты) не должно паниковать.
var (
	promOnce sync.Once
	promMw   *middleware.PrometheusMiddleware
)

// RestServer представляет REST API сервис записи и воспроизведения сессий
type RestServer struct {
	router           *gin.Engine
	userRepo         auth.UserRepository
	events           *EventService
	playbacks        *PlaybackManager
	port             string
	metrics          *ServerMetrics
	outboundWebhooks *OutboundWebhookManager
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port      string              // порт для запуска сервера
	UserRepo  auth.UserRepository // репозиторий пользователей
	Events    *EventService       // сервис событий (хранилище + кеш)
	Playbacks *PlaybackManager    // менеджер серверных воспроизведений
	Webhooks  *OutboundWebhookManager
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8090"
	}
	if config.Webhooks == nil {
		config.Webhooks = NewOutboundWebhookManager("replay_api_01", "development")
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("replay_api"))

	promOnce.Do(func() {
		promMw = middleware.NewPrometheusMiddleware("replay_api")
	})
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:           router,
		userRepo:         config.UserRepo,
		events:           config.Events,
		playbacks:        config.Playbacks,
		port:             config.Port,
		metrics:          NewServerMetrics(),
		outboundWebhooks: config.Webhooks,
	}

	// Настраиваем маршруты
	server.setupRoutes()

	return server
}

// Router возвращает gin-роутер (используется интеграцией и тестами)
func (rs *RestServer) Router() *gin.Engine {
	return rs.router
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Группа API
	api := rs.router.Group("/api")

	// Эндпоинт для аутентификации (без JWT защиты)
	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", rs.handleLogin)
	}

	// Трекинг: эндпоинты записывающего скрипта (без JWT — пишет браузер посетителя)
	track := api.Group("/track")
	{
		track.POST("/session/start", rs.handleSessionStart)
		track.POST("/session/:session_id/end", rs.handleSessionEnd)
		track.POST("/replay", rs.handleReplayIngest)
		track.GET("/replay/:session_id", rs.handleReplayFetch)
	}

	// Защищенные эндпоинты (требуют JWT): дашборд аналитика
	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/stats", rs.handleStats)
		protected.GET("/sessions", rs.handleListSessions)
		protected.GET("/sessions/:session_id", rs.handleGetSession)

		// Серверные воспроизведения
		protected.POST("/playbacks", rs.handleCreatePlayback)
		protected.GET("/playbacks/:id", rs.handlePlaybackStatus)
		protected.POST("/playbacks/:id/play-pause", rs.handlePlaybackPlayPause)
		protected.POST("/playbacks/:id/seek", rs.handlePlaybackSeek)
		protected.POST("/playbacks/:id/restart", rs.handlePlaybackRestart)
		protected.POST("/playbacks/:id/viewport", rs.handlePlaybackViewport)
		protected.DELETE("/playbacks/:id", rs.handleClosePlayback)

		// Административные эндпоинты (только для админов)
		admin := protected.Group("/admin")
		admin.Use(rs.adminMiddleware())
		{
			admin.POST("/register", rs.handleAdminRegister)

			// Управление исходящими webhook'ами
			admin.GET("/webhooks", rs.handleGetOutboundWebhooks)
			admin.POST("/webhooks", rs.handleCreateOutboundWebhook)
			admin.GET("/webhooks/:id", rs.handleGetOutboundWebhook)
			admin.PUT("/webhooks/:id", rs.handleUpdateOutboundWebhook)
			admin.DELETE("/webhooks/:id", rs.handleDeleteOutboundWebhook)
			admin.POST("/webhooks/:id/test", rs.handleTestOutboundWebhook)
			admin.GET("/webhooks/events", rs.handleGetWebhookEventTypes)
			admin.POST("/events/send", rs.handleSendEvent)
		}
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	UserID  uint64 `json:"user_id,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

// RegisterRequest представляет запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleLogin обрабатывает запрос на вход
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	user, err := rs.userRepo.ValidateCredentials(req.Username, req.Password)
	if errors.Is(err, auth.ErrUserNotFound) || errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	// Генерируем JWT токен
	token, err := auth.GenerateJWT(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Ошибка генерации токена",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		Message: "Успешная авторизация",
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
	})
}

// === ТРЕКИНГ ===

// SessionStartRequest запрос записывающего скрипта на открытие сессии
type SessionStartRequest struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	EntryURL  string            `json:"entry_url"`
	Referrer  string            `json:"referrer"`
	UserAgent string            `json:"user_agent"`
	Metadata  map[string]string `json:"metadata"`
}

// handleSessionStart регистрирует новую записываемую сессию.
// Если клиент не прислал session_id, генерируем сами.
func (rs *RestServer) handleSessionStart(c *gin.Context) {
	var req SessionStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.GetHeader("User-Agent")
	}

	rec := replaystore.SessionRecord{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		EntryURL:  req.EntryURL,
		Referrer:  req.Referrer,
		UserAgent: userAgent,
		Metadata:  req.Metadata,
		StartedAt: time.Now().UTC(),
	}

	err := rs.events.StartSession(c.Request.Context(), rec)
	if errors.Is(err, replaystore.ErrSessionExists) {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Сессия уже существует",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось создать сессию",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": rec.SessionID,
	})
}

// handleSessionEnd помечает сессию завершённой
func (rs *RestServer) handleSessionEnd(c *gin.Context) {
	sessionID := c.Param("session_id")

	err := rs.events.EndSession(c.Request.Context(), sessionID, time.Now().UTC())
	if errors.Is(err, replaystore.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Сессия не найдена",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось завершить сессию",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Сессия завершена"})
}

// ReplayIngestRequest батч replay-событий от записывающего скрипта
type ReplayIngestRequest struct {
	SessionID string            `json:"session_id" binding:"required"`
	Events    []json.RawMessage `json:"events" binding:"required"`
}

// handleReplayIngest принимает батч событий и возвращает sequence первого
func (rs *RestServer) handleReplayIngest(c *gin.Context) {
	var req ReplayIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Пустой батч событий",
		})
		return
	}

	events, err := replay.DecodeEvents(req.Events)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Некорректное событие: " + err.Error(),
		})
		return
	}

	start, err := rs.events.Ingest(c.Request.Context(), req.SessionID, events)
	if errors.Is(err, replaystore.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Сессия не найдена",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось сохранить события",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sequence_start": start,
	})
}

// handleReplayFetch возвращает страницу событий сессии в порядке записи
func (rs *RestServer) handleReplayFetch(c *gin.Context) {
	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > rs.events.FetchLimit() {
		limit = rs.events.FetchLimit()
	}
	if offset < 0 {
		offset = 0
	}

	events, err := rs.events.FetchEvents(c.Request.Context(), sessionID, limit, offset)
	if errors.Is(err, replaystore.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Сессия не найдена",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось прочитать события",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"offset":     offset,
		"count":      len(events),
		"events":     events,
	})
}

// === ДАШБОРД ===

// handleListSessions возвращает страницу сессий, новые первыми
func (rs *RestServer) handleListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	sessions, total, err := rs.events.ListSessions(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось получить список сессий",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список сессий",
		Data: map[string]interface{}{
			"sessions": sessions,
			"total":    total,
			"limit":    limit,
			"offset":   offset,
		},
	})
}

// handleGetSession возвращает запись одной сессии
func (rs *RestServer) handleGetSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	rec, err := rs.events.GetSession(c.Request.Context(), sessionID)
	if errors.Is(err, replaystore.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Сессия не найдена",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось прочитать сессию",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сессия найдена",
		Data:    rec,
	})
}

// === ВОСПРОИЗВЕДЕНИЕ ===

// CreatePlaybackRequest запрос на открытие воспроизведения
type CreatePlaybackRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// handleCreatePlayback строит серверный контроллер воспроизведения.
// Поток короче двух событий или без открывающего снапшота — 422.
func (rs *RestServer) handleCreatePlayback(c *gin.Context) {
	var req CreatePlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	viewerID := ""
	if id, ok := c.Get("user_id"); ok {
		viewerID = strconv.FormatUint(id.(uint64), 10)
	}

	playbackID, status, err := rs.playbacks.Create(c.Request.Context(), req.SessionID, viewerID)
	switch {
	case errors.Is(err, replaystore.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Сессия не найдена",
		})
		return
	case errors.Is(err, replay.ErrStreamTooShort), errors.Is(err, replay.ErrMissingSnapshot):
		c.JSON(http.StatusUnprocessableEntity, GenericResponse{
			Success: false,
			Message: "Поток не воспроизводим: " + err.Error(),
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось открыть воспроизведение",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"playback_id": playbackID,
		"status":      status,
	})
}

// handlePlaybackStatus возвращает наблюдаемое состояние воспроизведения
func (rs *RestServer) handlePlaybackStatus(c *gin.Context) {
	status, err := rs.playbacks.Status(c.Param("id"))
	rs.respondPlayback(c, status, err)
}

// handlePlaybackPlayPause переключает воспроизведение/паузу
func (rs *RestServer) handlePlaybackPlayPause(c *gin.Context) {
	status, err := rs.playbacks.PlayPause(c.Param("id"))
	rs.respondPlayback(c, status, err)
}

// SeekRequest запрос перемотки
type SeekRequest struct {
	TimeMs int64 `json:"time_ms"`
}

// handlePlaybackSeek перематывает воспроизведение
func (rs *RestServer) handlePlaybackSeek(c *gin.Context) {
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	status, err := rs.playbacks.Seek(c.Param("id"), req.TimeMs)
	rs.respondPlayback(c, status, err)
}

// handlePlaybackRestart запускает воспроизведение с начала
func (rs *RestServer) handlePlaybackRestart(c *gin.Context) {
	status, err := rs.playbacks.Restart(c.Param("id"))
	rs.respondPlayback(c, status, err)
}

// ViewportRequest размер контейнера зрителя
type ViewportRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// handlePlaybackViewport сообщает контроллеру размер viewport зрителя
func (rs *RestServer) handlePlaybackViewport(c *gin.Context) {
	var req ViewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	status, err := rs.playbacks.SetViewport(c.Param("id"), req.Width, req.Height)
	rs.respondPlayback(c, status, err)
}

// handleClosePlayback разбирает воспроизведение
func (rs *RestServer) handleClosePlayback(c *gin.Context) {
	err := rs.playbacks.Close(c.Param("id"))
	if errors.Is(err, ErrPlaybackNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Воспроизведение не найдено",
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Воспроизведение закрыто"})
}

// respondPlayback единообразно отвечает статусом воспроизведения
func (rs *RestServer) respondPlayback(c *gin.Context, status replay.Status, err error) {
	if errors.Is(err, ErrPlaybackNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Воспроизведение не найдено",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// === АДМИНИСТРИРОВАНИЕ ===

// handleAdminRegister обрабатывает регистрацию нового пользователя (только для админов)
func (rs *RestServer) handleAdminRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	// Валидация входных данных
	if len(req.Username) < 3 || len(req.Username) > 30 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Имя пользователя должно быть от 3 до 30 символов",
		})
		return
	}

	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Пароль должен быть минимум 6 символов",
		})
		return
	}

	// Хешируем пароль
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка обработки пароля",
		})
		return
	}

	// Создаем пользователя
	user, err := rs.userRepo.CreateUser(req.Username, passwordHash, req.IsAdmin)
	if errors.Is(err, auth.ErrUserExists) {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Пользователь уже существует",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка создания пользователя",
		})
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Пользователь успешно создан",
		Data: map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
	})
}

// handleStats возвращает статистику сервиса
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	// Метрики сервиса
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()
	systemCPU, _ := rs.metrics.GetSystemCPUUsage()

	stats["server"] = map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"system_cpu":  fmt.Sprintf("%.2f", systemCPU),
		"server_time": time.Now().Unix(),
	}

	// Активные воспроизведения
	if rs.playbacks != nil {
		stats["playbacks"] = map[string]interface{}{
			"active": rs.playbacks.Count(),
		}
	}

	// Детальная статистика памяти
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// handleHealth проверка состояния сервиса
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Start запускает REST сервер (блокирует). Интеграция использует
// Router() с собственным http.Server для graceful shutdown.
func (rs *RestServer) Start() error {
	return rs.router.Run(rs.port)
}

// === ОБРАБОТЧИКИ ИСХОДЯЩИХ WEBHOOK'ОВ ===

// handleGetOutboundWebhooks возвращает список исходящих webhook'ов
func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	webhooks := rs.outboundWebhooks.GetWebhooks()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список webhook'ов получен",
		Data: map[string]interface{}{
			"webhooks": webhooks,
			"total":    len(webhooks),
		},
	})
}

// handleCreateOutboundWebhook создает новый исходящий webhook
func (rs *RestServer) handleCreateOutboundWebhook(c *gin.Context) {
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат webhook'а: " + err.Error(),
		})
		return
	}

	// Валидация
	if webhook.Name == "" || webhook.URL == "" || len(webhook.Events) == 0 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Обязательные поля: name, url, events",
		})
		return
	}

	createdWebhook := rs.outboundWebhooks.AddWebhook(webhook)

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Webhook создан успешно",
		Data:    createdWebhook,
	})
}

// handleGetOutboundWebhook возвращает webhook по ID
func (rs *RestServer) handleGetOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	webhook := rs.outboundWebhooks.GetWebhook(id)
	if webhook == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook найден",
		Data:    webhook,
	})
}

// handleUpdateOutboundWebhook обновляет webhook
func (rs *RestServer) handleUpdateOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	var updates OutboundWebhook
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат обновлений: " + err.Error(),
		})
		return
	}

	updatedWebhook := rs.outboundWebhooks.UpdateWebhook(id, updates)
	if updatedWebhook == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook обновлен успешно",
		Data:    updatedWebhook,
	})
}

// handleDeleteOutboundWebhook удаляет webhook
func (rs *RestServer) handleDeleteOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	if !rs.outboundWebhooks.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook удален успешно",
	})
}

// handleTestOutboundWebhook тестирует webhook отправкой тестового события
func (rs *RestServer) handleTestOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	webhook := rs.outboundWebhooks.GetWebhook(id)
	if webhook == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	// Отправляем тестовое событие
	rs.outboundWebhooks.SendEvent("webhook.test", map[string]interface{}{
		"webhook_id":   id,
		"webhook_name": webhook.Name,
		"test_time":    time.Now().Unix(),
		"message":      "Это тестовое сообщение от сервиса воспроизведения сессий",
	})

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Тестовое событие отправлено",
		Data: map[string]interface{}{
			"webhook_id": id,
			"sent_at":    time.Now().Unix(),
		},
	})
}

// handleGetWebhookEventTypes возвращает доступные типы событий
func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	eventTypes := rs.outboundWebhooks.GetEventTypes()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Типы событий получены",
		Data: map[string]interface{}{
			"event_types": eventTypes,
			"total":       len(eventTypes),
		},
	})
}

// handleSendEvent позволяет админам отправлять кастомные события
func (rs *RestServer) handleSendEvent(c *gin.Context) {
	var request struct {
		EventType string                 `json:"event_type" binding:"required"`
		Data      map[string]interface{} `json:"data"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	// Отправляем событие через webhook менеджер
	rs.outboundWebhooks.SendEvent(request.EventType, request.Data)

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Событие отправлено",
		Data: map[string]interface{}{
			"event_type": request.EventType,
			"sent_at":    time.Now().Unix(),
		},
	})
}
