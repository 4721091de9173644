// Package replaystore содержит хранилище записанных сессий и их
// replay-событий. Интерфейс позволяет менять backend (memory, MariaDB,
// MongoDB, Badger) без изменения остального кода.
package replaystore

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/session-replay/internal/replay"
)

// SessionRecord запись о записанной пользовательской сессии
type SessionRecord struct {
	SessionID         string            `json:"session_id"`
	UserID            string            `json:"user_id,omitempty"`
	EntryURL          string            `json:"entry_url"`
	Referrer          string            `json:"referrer,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	EndedAt           *time.Time        `json:"ended_at,omitempty"`
	ReplayEventsCount int64             `json:"replay_events_count"`
}

// ReplayStore определяет операции над сессиями и их событиями.
//
// События сессии хранятся упорядоченно по sequence (монотонный счётчик
// с нуля); порядок в хранилище — источник истины для воспроизведения.
type ReplayStore interface {
	// StartSession регистрирует новую сессию. Возвращает ErrSessionExists,
	// если session_id уже занят.
	StartSession(ctx context.Context, rec SessionRecord) error

	// EndSession помечает сессию завершённой.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error

	// GetSession возвращает сессию по идентификатору.
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)

	// ListSessions возвращает страницу сессий (новые первыми) и общее число.
	ListSessions(ctx context.Context, limit, offset int) ([]SessionRecord, int64, error)

	// AppendEvents дописывает батч событий в конец потока сессии и
	// возвращает sequence первого дописанного события.
	AppendEvents(ctx context.Context, sessionID string, events []replay.ReplayEvent) (int64, error)

	// GetEvents возвращает упорядоченную страницу событий сессии.
	GetEvents(ctx context.Context, sessionID string, limit, offset int) ([]replay.ReplayEvent, error)

	// CountEvents возвращает число событий сессии.
	CountEvents(ctx context.Context, sessionID string) (int64, error)

	// Close закрывает соединение с хранилищем.
	Close() error
}

// Доменные ошибки хранилища
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)
