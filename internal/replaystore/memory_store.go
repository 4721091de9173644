package replaystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/annel0/session-replay/internal/replay"
)

// MemoryStore потокобезопасное in-memory хранилище для тестов и
// single-instance разработки. Без персистентности.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	events   map[string][]replay.ReplayEvent
}

// NewMemoryStore создаёт пустое in-memory хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*SessionRecord),
		events:   make(map[string][]replay.ReplayEvent),
	}
}

// StartSession регистрирует сессию, если session_id свободен
func (m *MemoryStore) StartSession(ctx context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[rec.SessionID]; exists {
		return ErrSessionExists
	}
	copied := rec
	m.sessions[rec.SessionID] = &copied
	return nil
}

// EndSession помечает сессию завершённой
func (m *MemoryStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	rec.EndedAt = &endedAt
	return nil
}

// GetSession возвращает копию записи сессии
func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	copied := *rec
	copied.ReplayEventsCount = int64(len(m.events[sessionID]))
	return &copied, nil
}

// ListSessions возвращает страницу сессий, новые первыми
func (m *MemoryStore) ListSessions(ctx context.Context, limit, offset int) ([]SessionRecord, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]SessionRecord, 0, len(m.sessions))
	for id, rec := range m.sessions {
		copied := *rec
		copied.ReplayEventsCount = int64(len(m.events[id]))
		all = append(all, copied)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []SessionRecord{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// AppendEvents дописывает события в конец потока сессии
func (m *MemoryStore) AppendEvents(ctx context.Context, sessionID string, events []replay.ReplayEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return 0, ErrSessionNotFound
	}
	start := int64(len(m.events[sessionID]))
	m.events[sessionID] = append(m.events[sessionID], events...)
	return start, nil
}

// GetEvents возвращает упорядоченную страницу событий
func (m *MemoryStore) GetEvents(ctx context.Context, sessionID string, limit, offset int) ([]replay.ReplayEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return nil, ErrSessionNotFound
	}
	stream := m.events[sessionID]
	if offset >= len(stream) {
		return []replay.ReplayEvent{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(stream) {
		end = len(stream)
	}

	page := make([]replay.ReplayEvent, end-offset)
	copy(page, stream[offset:end])
	return page, nil
}

// CountEvents возвращает число событий сессии
func (m *MemoryStore) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return 0, ErrSessionNotFound
	}
	return int64(len(m.events[sessionID])), nil
}

// Close для in-memory хранилища ничего не делает
func (m *MemoryStore) Close() error {
	return nil
}
