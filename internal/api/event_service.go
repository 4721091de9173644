package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/session-replay/internal/cache"
	"github.com/annel0/session-replay/internal/eventbus"
	"github.com/annel0/session-replay/internal/logging"
	"github.com/annel0/session-replay/internal/replay"
	"github.com/annel0/session-replay/internal/replaystore"
)

// EventService объединяет хранилище replay-событий и горячий кеш.
// Все REST-обработчики и плеер ходят за событиями через него.
type EventService struct {
	store      replaystore.ReplayStore
	cache      cache.ReplayCache
	cacheTTL   time.Duration
	fetchLimit int
}

// NewEventService создаёт сервис. cache может быть nil — тогда каждая
// выборка идёт напрямую в хранилище.
func NewEventService(store replaystore.ReplayStore, replayCache cache.ReplayCache, cacheTTL time.Duration, fetchLimit int) *EventService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if fetchLimit <= 0 {
		fetchLimit = 1200
	}
	return &EventService{
		store:      store,
		cache:      replayCache,
		cacheTTL:   cacheTTL,
		fetchLimit: fetchLimit,
	}
}

// FetchLimit возвращает размер страницы по умолчанию
func (s *EventService) FetchLimit() int {
	return s.fetchLimit
}

// StartSession регистрирует новую записываемую сессию
func (s *EventService) StartSession(ctx context.Context, rec replaystore.SessionRecord) error {
	if err := s.store.StartSession(ctx, rec); err != nil {
		return err
	}

	if err := eventbus.PublishEvent(ctx, eventbus.EventSessionStarted, eventbus.SessionStartedPayload{
		SessionID: rec.SessionID,
		UserID:    rec.UserID,
		EntryURL:  rec.EntryURL,
	}); err != nil {
		logging.Warn("Не удалось опубликовать session.started: %v", err)
	}
	return nil
}

// EndSession помечает сессию завершённой
func (s *EventService) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	if err := s.store.EndSession(ctx, sessionID, endedAt); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.SessionKey(sessionID)); err != nil {
			logging.Warn("Не удалось сбросить кеш сессии %s: %v", sessionID, err)
		}
	}

	if err := eventbus.PublishEvent(ctx, eventbus.EventSessionEnded, eventbus.SessionEndedPayload{
		SessionID: sessionID,
		EndedAt:   endedAt.UnixMilli(),
	}); err != nil {
		logging.Warn("Не удалось опубликовать session.ended: %v", err)
	}
	return nil
}

// GetSession возвращает запись сессии
func (s *EventService) GetSession(ctx context.Context, sessionID string) (*replaystore.SessionRecord, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ListSessions возвращает страницу сессий, новые первыми
func (s *EventService) ListSessions(ctx context.Context, limit, offset int) ([]replaystore.SessionRecord, int64, error) {
	return s.store.ListSessions(ctx, limit, offset)
}

// Ingest дописывает батч событий и возвращает sequence первого.
// Сбрасывает закешированные страницы сессии: у потока появился хвост.
func (s *EventService) Ingest(ctx context.Context, sessionID string, events []replay.ReplayEvent) (int64, error) {
	start, err := s.store.AppendEvents(ctx, sessionID, events)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSession(ctx, sessionID); err != nil {
			logging.Warn("Не удалось инвалидировать кеш сессии %s: %v", sessionID, err)
		}
	}

	if err := eventbus.PublishEvent(ctx, eventbus.EventReplayIngested, eventbus.ReplayIngestedPayload{
		SessionID:     sessionID,
		SequenceStart: start,
		EventCount:    len(events),
	}); err != nil {
		logging.Warn("Не удалось опубликовать replay.ingested: %v", err)
	}

	return start, nil
}

// FetchEvents возвращает страницу событий с read-through кешем
func (s *EventService) FetchEvents(ctx context.Context, sessionID string, limit, offset int) ([]replay.ReplayEvent, error) {
	if limit <= 0 {
		limit = s.fetchLimit
	}

	if s.cache == nil {
		return s.store.GetEvents(ctx, sessionID, limit, offset)
	}

	key := cache.EventPageKey(sessionID, limit, offset)
	if data, err := s.cache.Get(ctx, key); err == nil {
		var events []replay.ReplayEvent
		if err := json.Unmarshal(data, &events); err == nil {
			return events, nil
		}
		// Повреждённая запись в кеше — сбрасываем и идём в хранилище
		_ = s.cache.Delete(ctx, key)
	} else if !cache.IsCacheMiss(err) {
		logging.Warn("Ошибка чтения кеша для %s: %v", key, err)
	}

	events, err := s.store.GetEvents(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(events); err == nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			logging.Warn("Не удалось записать страницу в кеш %s: %v", key, err)
		}
	}

	return events, nil
}

// FetchAllEvents выбирает весь поток сессии постранично.
// Используется плеером при создании воспроизведения.
func (s *EventService) FetchAllEvents(ctx context.Context, sessionID string) ([]replay.ReplayEvent, error) {
	total, err := s.store.CountEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	all := make([]replay.ReplayEvent, 0, total)
	for offset := 0; int64(offset) < total; offset += s.fetchLimit {
		page, err := s.FetchEvents(ctx, sessionID, s.fetchLimit, offset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
	}

	if int64(len(all)) != total {
		return nil, fmt.Errorf("поток сессии %s неполон: %d из %d событий", sessionID, len(all), total)
	}
	return all, nil
}

// CountEvents возвращает число событий сессии
func (s *EventService) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	return s.store.CountEvents(ctx, sessionID)
}

// Close закрывает хранилище и кеш
func (s *EventService) Close() error {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			logging.Error("Ошибка закрытия кеша: %v", err)
		}
	}
	return s.store.Close()
}
