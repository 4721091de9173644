package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/session-replay/internal/logging"
)

// NATSInvalidator реализует CacheInvalidator используя NATS Pub/Sub.
// Обеспечивает распределённую инвалидацию кеша между узлами сервиса:
// ingest-узел сбрасывает страницы сессии, остальные узлы повторяют
// сброс у себя.
//
// Особенности:
// - Автоматическое переподключение при сбоях
// - Дедупликация сообщений
// - Graceful shutdown
type NATSInvalidator struct {
	conn    *nats.Conn
	config  *InvalidatorConfig
	subject string
	nodeID  string

	// Подписки
	subscription *nats.Subscription
	handler      InvalidationHandler

	// Graceful shutdown
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Дедупликация
	recentSessions map[string]time.Time
	sessionsMutex  sync.RWMutex

	// Метрики
	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	// NATS подключение
	NATSURL string `yaml:"nats_url" env:"CACHE_NATS_URL"`
	Subject string `yaml:"subject" env:"CACHE_NATS_SUBJECT"`

	// Retry настройки
	MaxReconnects int           `yaml:"max_reconnects" env:"CACHE_NATS_MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"CACHE_NATS_RECONNECT_WAIT"`

	// Дедупликация
	DedupeWindow time.Duration `yaml:"dedupe_window" env:"CACHE_NATS_DEDUPE_WINDOW"`

	// Timeouts
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"CACHE_NATS_PUBLISH_TIMEOUT"`
}

// InvalidationMessage представляет сообщение об инвалидации кеша.
type InvalidationMessage struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Reason    string    `json:"reason,omitempty"`
}

// NewNATSInvalidator создаёт новый NATS invalidator.
//
// Параметры:
//
//	config - конфигурация NATS соединения
//	nodeID - уникальный идентификатор узла
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	// Настройки по умолчанию
	if config.Subject == "" {
		config.Subject = "replay.cache.invalidate"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = 2 * time.Second
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = 5 * time.Second
	}

	// Настройки NATS соединения
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("NATS connection closed")
		}),
	}

	// Подключаемся к NATS
	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	invalidator := &NATSInvalidator{
		conn:           conn,
		config:         config,
		subject:        config.Subject,
		nodeID:         nodeID,
		stopCh:         make(chan struct{}),
		recentSessions: make(map[string]time.Time),
	}

	// Запускаем очистку дедупликации
	invalidator.startDedupeCleanup()

	logging.Info("NATS invalidator initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return invalidator, nil
}

// PublishInvalidation отправляет уведомление об инвалидации сессии.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, sessionID string) error {
	// Проверяем дедупликацию
	if n.isDuplicate(sessionID) {
		logging.Debug("Skipping duplicate invalidation for session: %s", sessionID)
		return nil
	}

	msg := &InvalidationMessage{
		SessionID: sessionID,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
		Reason:    "events_ingested",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	err = n.conn.Publish(n.subject, data)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Failed to publish invalidation for session %s: %v", sessionID, err)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	// Записываем в дедупликацию
	n.recordSession(sessionID)
	atomic.AddInt64(&n.publishedCount, 1)

	logging.Debug("Published invalidation for session: %s", sessionID)
	return nil
}

// SubscribeInvalidations подписывается на уведомления об инвалидации.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}

	n.handler = handler

	sub, err := n.conn.Subscribe(n.subject, n.handleInvalidationMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}

	n.subscription = sub

	// Мониторинг контекста для graceful shutdown
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
			n.unsubscribe()
		case <-n.stopCh:
			n.unsubscribe()
		}
	}()

	logging.Info("Subscribed to cache invalidations on subject: %s", n.subject)
	return nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	close(n.stopCh)
	n.wg.Wait()

	if n.subscription != nil {
		n.subscription.Unsubscribe()
	}

	n.conn.Close()
	logging.Info("NATS invalidator closed")
	return nil
}

// GetMetrics возвращает метрики invalidator.
func (n *NATSInvalidator) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": atomic.LoadInt64(&n.publishedCount),
		"received_count":  atomic.LoadInt64(&n.receivedCount),
		"errors_count":    atomic.LoadInt64(&n.errorsCount),
		"connected":       n.conn.IsConnected(),
		"status":          n.conn.Status(),
	}
}

// handleInvalidationMessage обрабатывает входящие сообщения об инвалидации.
func (n *NATSInvalidator) handleInvalidationMessage(msg *nats.Msg) {
	atomic.AddInt64(&n.receivedCount, 1)

	var invalidationMsg InvalidationMessage
	if err := json.Unmarshal(msg.Data, &invalidationMsg); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}

	// Своё собственное сообщение не обрабатываем
	if invalidationMsg.NodeID == n.nodeID {
		logging.Debug("Ignoring own invalidation for session: %s", invalidationMsg.SessionID)
		return
	}

	// Дедупликация
	if n.isDuplicate(invalidationMsg.SessionID) {
		logging.Debug("Ignoring duplicate invalidation for session: %s", invalidationMsg.SessionID)
		return
	}
	n.recordSession(invalidationMsg.SessionID)

	if n.handler != nil {
		if err := n.handler(invalidationMsg.SessionID); err != nil {
			atomic.AddInt64(&n.errorsCount, 1)
			logging.Error("Invalidation handler failed for session %s: %v", invalidationMsg.SessionID, err)
		} else {
			logging.Debug("Processed invalidation for session: %s", invalidationMsg.SessionID)
		}
	}
}

// unsubscribe отписывается от уведомлений.
func (n *NATSInvalidator) unsubscribe() {
	if n.subscription != nil {
		if err := n.subscription.Unsubscribe(); err != nil {
			logging.Error("Failed to unsubscribe from invalidations: %v", err)
		} else {
			logging.Info("Unsubscribed from cache invalidations")
		}
		n.subscription = nil
	}
}

// isDuplicate проверяет, попадает ли сессия в окно дедупликации.
func (n *NATSInvalidator) isDuplicate(sessionID string) bool {
	n.sessionsMutex.RLock()
	defer n.sessionsMutex.RUnlock()

	lastSeen, exists := n.recentSessions[sessionID]
	if !exists {
		return false
	}
	return time.Since(lastSeen) < n.config.DedupeWindow
}

// recordSession записывает сессию в дедупликацию.
func (n *NATSInvalidator) recordSession(sessionID string) {
	n.sessionsMutex.Lock()
	defer n.sessionsMutex.Unlock()

	n.recentSessions[sessionID] = time.Now()
}

// startDedupeCleanup запускает периодическую очистку дедупликации.
func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.cleanupDedupe()
			case <-n.stopCh:
				return
			}
		}
	}()
}

// cleanupDedupe удаляет старые записи из дедупликации.
func (n *NATSInvalidator) cleanupDedupe() {
	n.sessionsMutex.Lock()
	defer n.sessionsMutex.Unlock()

	now := time.Now()
	for sessionID, timestamp := range n.recentSessions {
		if now.Sub(timestamp) > n.config.DedupeWindow {
			delete(n.recentSessions, sessionID)
		}
	}
}
