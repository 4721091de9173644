package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/session-replay/internal/eventbus"
	"github.com/annel0/session-replay/internal/logging"
	"github.com/annel0/session-replay/internal/replay"
)

// ErrPlaybackNotFound воспроизведение с таким ID не существует
var ErrPlaybackNotFound = errors.New("playback not found")

// playbackEntry один зрительский контроллер и его метаданные
type playbackEntry struct {
	id         string
	sessionID  string
	viewerID   string
	controller *replay.Controller
	createdAt  time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (e *playbackEntry) touch() {
	e.mu.Lock()
	e.lastSeen = time.Now()
	e.mu.Unlock()
}

func (e *playbackEntry) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// PlaybackManager держит серверные контроллеры воспроизведения по одному
// на зрителя. Каждый контроллер владеет своим движком; простаивающие
// воспроизведения собираются фоновой горутиной.
type PlaybackManager struct {
	events  *EventService
	factory replay.EngineFactory
	speed   float64
	sample  time.Duration
	idleTTL time.Duration

	mu      sync.RWMutex
	entries map[string]*playbackEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PlaybackManagerConfig параметры менеджера воспроизведений
type PlaybackManagerConfig struct {
	EngineSpeed    float64       // скорость движка; 0 = 1x
	SampleInterval time.Duration // период семплера; 0 = 250 мс
	IdleTTL        time.Duration // простой до сборки; 0 = 10 минут
}

// NewPlaybackManager создаёт менеджер и запускает GC простаивающих воспроизведений
func NewPlaybackManager(events *EventService, cfg PlaybackManagerConfig) *PlaybackManager {
	if cfg.EngineSpeed <= 0 {
		cfg.EngineSpeed = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &PlaybackManager{
		events:  events,
		factory: replay.HeadlessFactory{},
		speed:   cfg.EngineSpeed,
		sample:  cfg.SampleInterval,
		idleTTL: cfg.IdleTTL,
		entries: make(map[string]*playbackEntry),
		ctx:     ctx,
		cancel:  cancel,
	}

	m.wg.Add(1)
	go m.gcLoop()
	return m
}

// Create строит контроллер для пары (сессия, зритель) и загружает в него
// весь поток событий. Ошибки валидации потока возвращаются как есть —
// REST-слой переводит их в коды ответа.
func (m *PlaybackManager) Create(ctx context.Context, sessionID, viewerID string) (string, replay.Status, error) {
	events, err := m.events.FetchAllEvents(ctx, sessionID)
	if err != nil {
		return "", replay.Status{}, err
	}

	id := uuid.NewString()
	entry := &playbackEntry{
		id:        id,
		sessionID: sessionID,
		viewerID:  viewerID,
		createdAt: time.Now(),
		lastSeen:  time.Now(),
	}

	entry.controller = replay.NewController(replay.ControllerConfig{
		Factory:        m.factory,
		Engine:         replay.EngineConfig{Speed: m.speed},
		SampleInterval: m.sample,
		OnFinished: func() {
			m.onFinished(entry)
		},
	})

	if err := entry.controller.Load(events); err != nil {
		entry.controller.Close()
		return "", replay.Status{}, err
	}

	m.mu.Lock()
	m.entries[id] = entry
	m.mu.Unlock()

	if err := eventbus.PublishEvent(context.Background(), eventbus.EventPlaybackStarted, eventbus.PlaybackStartedPayload{
		SessionID:  sessionID,
		ViewerID:   viewerID,
		PlaybackID: id,
	}); err != nil {
		logging.Warn("Не удалось опубликовать playback.started: %v", err)
	}

	logging.Info("▶️ Воспроизведение %s создано: session=%s viewer=%s events=%d", id, sessionID, viewerID, len(events))
	return id, entry.controller.Status(), nil
}

func (m *PlaybackManager) get(id string) (*playbackEntry, error) {
	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrPlaybackNotFound
	}
	entry.touch()
	return entry, nil
}

// Status возвращает наблюдаемое состояние воспроизведения
func (m *PlaybackManager) Status(id string) (replay.Status, error) {
	entry, err := m.get(id)
	if err != nil {
		return replay.Status{}, err
	}
	return entry.controller.Status(), nil
}

// PlayPause переключает воспроизведение/паузу
func (m *PlaybackManager) PlayPause(id string) (replay.Status, error) {
	entry, err := m.get(id)
	if err != nil {
		return replay.Status{}, err
	}
	entry.controller.PlayPause()
	return entry.controller.Status(), nil
}

// Seek перематывает на позицию tMs
func (m *PlaybackManager) Seek(id string, tMs int64) (replay.Status, error) {
	entry, err := m.get(id)
	if err != nil {
		return replay.Status{}, err
	}
	entry.controller.Seek(tMs)
	return entry.controller.Status(), nil
}

// Restart запускает воспроизведение с начала
func (m *PlaybackManager) Restart(id string) (replay.Status, error) {
	entry, err := m.get(id)
	if err != nil {
		return replay.Status{}, err
	}
	entry.controller.Restart()
	return entry.controller.Status(), nil
}

// SetViewport сообщает контроллеру размер контейнера зрителя
func (m *PlaybackManager) SetViewport(id string, width, height float64) (replay.Status, error) {
	entry, err := m.get(id)
	if err != nil {
		return replay.Status{}, err
	}
	entry.controller.SetViewportSize(replay.Size{Width: width, Height: height})
	return entry.controller.Status(), nil
}

// Close разбирает воспроизведение
func (m *PlaybackManager) Close(id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	if !ok {
		return ErrPlaybackNotFound
	}
	entry.controller.Close()
	logging.Info("⏹️ Воспроизведение %s закрыто (session=%s)", id, entry.sessionID)
	return nil
}

// Count возвращает число активных воспроизведений
func (m *PlaybackManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Shutdown останавливает GC и разбирает все воспроизведения
func (m *PlaybackManager) Shutdown() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*playbackEntry)
	m.mu.Unlock()

	for _, entry := range entries {
		entry.controller.Close()
	}
	if len(entries) > 0 {
		logging.Info("Разобрано %d воспроизведений при остановке", len(entries))
	}
}

// onFinished обрабатывает автоостановку на конце записи
func (m *PlaybackManager) onFinished(entry *playbackEntry) {
	status := entry.controller.Status()
	if err := eventbus.PublishEvent(context.Background(), eventbus.EventPlaybackFinished, eventbus.PlaybackFinishedPayload{
		SessionID:  entry.sessionID,
		ViewerID:   entry.viewerID,
		DurationMs: status.DurationMs,
	}); err != nil {
		logging.Warn("Не удалось опубликовать playback.finished: %v", err)
	}
	logging.Debug("Воспроизведение %s дошло до конца записи", entry.id)
}

// gcLoop собирает воспроизведения, к которым зритель давно не обращался
func (m *PlaybackManager) gcLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.collectIdle()
		}
	}
}

func (m *PlaybackManager) collectIdle() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []*playbackEntry
	for id, entry := range m.entries {
		if entry.idleSince().Before(cutoff) {
			expired = append(expired, entry)
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	for _, entry := range expired {
		entry.controller.Close()
		logging.Info("🗑️ Воспроизведение %s собрано по простою (session=%s)", entry.id, entry.sessionID)
	}
}
