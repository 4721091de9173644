package replaystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/session-replay/internal/replay"
)

// MariaConfig содержит настройки подключения к MariaDB
type MariaConfig struct {
	Host     string // например, localhost
	Port     int    // например, 3306
	Database string // например, session_replay
	Username string // пользователь БД
	Password string // пароль БД
}

// MariaStore реализует ReplayStore для MariaDB.
// Основное persistent-хранилище для production.
type MariaStore struct {
	db *sql.DB
}

// NewMariaStore создает новое подключение к MariaDB и возвращает хранилище
func NewMariaStore(cfg MariaConfig) (*MariaStore, error) {
	// Устанавливаем значения по умолчанию
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Database == "" {
		cfg.Database = "session_replay"
	}

	// Формируем DSN (Data Source Name)
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	// Открываем подключение
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}

	// Проверяем подключение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	store := &MariaStore{db: db}

	// Создаем таблицы, если их нет
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return store, nil
}

// createTables создает необходимые таблицы в БД
func (m *MariaStore) createTables() error {
	// Таблица сессий
	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id VARCHAR(64) NOT NULL PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL DEFAULT '',
		entry_url TEXT NOT NULL,
		referrer TEXT,
		user_agent TEXT,
		metadata JSON,
		started_at TIMESTAMP(3) NOT NULL,
		ended_at TIMESTAMP(3) NULL DEFAULT NULL,
		INDEX idx_started_at (started_at),
		INDEX idx_user_id (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createSessionsTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу sessions: %w", err)
	}

	// Таблица replay-событий: sequence — монотонный счётчик внутри сессии
	createEventsTable := `
	CREATE TABLE IF NOT EXISTS replay_events (
		session_id VARCHAR(64) NOT NULL,
		sequence BIGINT NOT NULL,
		event JSON NOT NULL,
		timestamp BIGINT NOT NULL,
		PRIMARY KEY (session_id, sequence)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createEventsTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу replay_events: %w", err)
	}

	return nil
}

// StartSession регистрирует новую сессию
func (m *MariaStore) StartSession(ctx context.Context, rec SessionRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации metadata: %w", err)
	}

	query := `INSERT INTO sessions (session_id, user_id, entry_url, referrer, user_agent, metadata, started_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = m.db.ExecContext(ctx, query,
		rec.SessionID, rec.UserID, rec.EntryURL, rec.Referrer, rec.UserAgent, metadata, rec.StartedAt)
	if err != nil {
		// Проверяем на дублирование session_id
		if strings.Contains(err.Error(), "Duplicate entry") {
			return ErrSessionExists
		}
		return fmt.Errorf("ошибка при создании сессии: %w", err)
	}

	return nil
}

// EndSession помечает сессию завершённой
func (m *MariaStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	query := `UPDATE sessions SET ended_at = ? WHERE session_id = ?`

	result, err := m.db.ExecContext(ctx, query, endedAt, sessionID)
	if err != nil {
		return fmt.Errorf("ошибка при завершении сессии: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка при проверке завершения сессии: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// GetSession возвращает сессию по идентификатору
func (m *MariaStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	query := `SELECT s.session_id, s.user_id, s.entry_url, s.referrer, s.user_agent, s.metadata,
				  s.started_at, s.ended_at,
				  (SELECT COUNT(*) FROM replay_events e WHERE e.session_id = s.session_id)
			  FROM sessions s WHERE s.session_id = ?`

	rec, err := m.scanSession(m.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении сессии: %w", err)
	}

	return rec, nil
}

// ListSessions возвращает страницу сессий, новые первыми
func (m *MariaStore) ListSessions(ctx context.Context, limit, offset int) ([]SessionRecord, int64, error) {
	var total int64
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка при получении числа сессий: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT s.session_id, s.user_id, s.entry_url, s.referrer, s.user_agent, s.metadata,
				  s.started_at, s.ended_at,
				  (SELECT COUNT(*) FROM replay_events e WHERE e.session_id = s.session_id)
			  FROM sessions s ORDER BY s.started_at DESC LIMIT ? OFFSET ?`

	rows, err := m.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка при получении списка сессий: %w", err)
	}
	defer rows.Close()

	sessions := make([]SessionRecord, 0, limit)
	for rows.Next() {
		rec, err := m.scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка при чтении сессии: %w", err)
		}
		sessions = append(sessions, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка при обходе сессий: %w", err)
	}

	return sessions, total, nil
}

// rowScanner покрывает *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (m *MariaStore) scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var referrer, userAgent sql.NullString
	var metadata []byte
	var endedAt sql.NullTime

	err := row.Scan(
		&rec.SessionID,
		&rec.UserID,
		&rec.EntryURL,
		&referrer,
		&userAgent,
		&metadata,
		&rec.StartedAt,
		&endedAt,
		&rec.ReplayEventsCount,
	)
	if err != nil {
		return nil, err
	}

	rec.Referrer = referrer.String
	rec.UserAgent = userAgent.String
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("ошибка разбора metadata: %w", err)
		}
	}

	return &rec, nil
}

// AppendEvents дописывает батч событий в транзакции и возвращает
// sequence первого дописанного события
func (m *MariaStore) AppendEvents(ctx context.Context, sessionID string, events []replay.ReplayEvent) (int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	// Блокируем хвост потока, чтобы конкурентные батчи не пересекались
	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ? FOR UPDATE", sessionID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("ошибка проверки сессии: %w", err)
	}
	if exists == 0 {
		return 0, ErrSessionNotFound
	}

	var start sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT MAX(sequence) + 1 FROM replay_events WHERE session_id = ?", sessionID).Scan(&start)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения sequence: %w", err)
	}

	seq := start.Int64 // NULL -> 0, первый батч
	query := `INSERT INTO replay_events (session_id, sequence, event, timestamp) VALUES (?, ?, ?, ?)`
	for i, ev := range events {
		payload := ev.Payload
		if len(payload) == 0 {
			payload, err = json.Marshal(ev)
			if err != nil {
				return 0, fmt.Errorf("ошибка сериализации события: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, query, sessionID, seq+int64(i), []byte(payload), ev.Timestamp); err != nil {
			return 0, fmt.Errorf("ошибка записи события: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return seq, nil
}

// GetEvents возвращает упорядоченную страницу событий сессии
func (m *MariaStore) GetEvents(ctx context.Context, sessionID string, limit, offset int) ([]replay.ReplayEvent, error) {
	var exists int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?", sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки сессии: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	if limit <= 0 {
		limit = 1200
	}

	query := `SELECT event FROM replay_events WHERE session_id = ?
			  ORDER BY sequence ASC LIMIT ? OFFSET ?`

	rows, err := m.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении событий: %w", err)
	}
	defer rows.Close()

	raw := make([]json.RawMessage, 0, limit)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("ошибка чтения события: %w", err)
		}
		raw = append(raw, json.RawMessage(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при обходе событий: %w", err)
	}

	return replay.DecodeEvents(raw)
}

// CountEvents возвращает число событий сессии
func (m *MariaStore) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	var exists int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?", sessionID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("ошибка проверки сессии: %w", err)
	}
	if exists == 0 {
		return 0, ErrSessionNotFound
	}

	var count int64
	err = m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM replay_events WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта событий: %w", err)
	}

	return count, nil
}

// Close закрывает подключение к БД
func (m *MariaStore) Close() error {
	return m.db.Close()
}
