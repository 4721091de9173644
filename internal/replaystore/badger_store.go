package replaystore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/session-replay/internal/replay"
)

// Префиксы ключей BadgerDB
const (
	badgerSessionPrefix = "session/" // session/<id> -> JSON SessionRecord
	badgerEventPrefix   = "event/"   // event/<id>/<seq(8 байт BE)> -> zstd батч из одного события
	badgerSeqPrefix     = "seq/"     // seq/<id> -> следующий sequence (8 байт BE)
)

// BadgerStore реализует ReplayStore на embedded BadgerDB.
// Подходит для single-node развёртываний без внешней БД.
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	codec   *EventCodec
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore создает новое embedded-хранилище
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "replays")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	codec, err := NewEventCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		codec:   codec,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	bs.codec.Close()
	return bs.db.Close()
}

func sessionKey(sessionID string) []byte {
	return []byte(badgerSessionPrefix + sessionID)
}

func seqKey(sessionID string) []byte {
	return []byte(badgerSeqPrefix + sessionID)
}

func eventKey(sessionID string, seq int64) []byte {
	key := make([]byte, 0, len(badgerEventPrefix)+len(sessionID)+9)
	key = append(key, badgerEventPrefix...)
	key = append(key, sessionID...)
	key = append(key, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return append(key, buf[:]...)
}

// StartSession регистрирует новую сессию
func (bs *BadgerStore) StartSession(ctx context.Context, rec SessionRecord) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	return bs.db.Update(func(txn *badger.Txn) error {
		key := sessionKey(rec.SessionID)
		if _, err := txn.Get(key); err == nil {
			return ErrSessionExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ошибка сериализации сессии: %w", err)
		}
		return txn.Set(key, data)
	})
}

// EndSession помечает сессию завершённой
func (bs *BadgerStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	return bs.db.Update(func(txn *badger.Txn) error {
		rec, err := bs.readSession(txn, sessionID)
		if err != nil {
			return err
		}
		rec.EndedAt = &endedAt

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ошибка сериализации сессии: %w", err)
		}
		return txn.Set(sessionKey(sessionID), data)
	})
}

func (bs *BadgerStore) readSession(txn *badger.Txn, sessionID string) (*SessionRecord, error) {
	item, err := txn.Get(sessionKey(sessionID))
	if err == badger.ErrKeyNotFound {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec SessionRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора сессии: %w", err)
	}
	return &rec, nil
}

func (bs *BadgerStore) readSeq(txn *badger.Txn, sessionID string) (int64, error) {
	item, err := txn.Get(seqKey(sessionID))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var seq int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("повреждён счётчик sequence")
		}
		seq = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return seq, err
}

// GetSession возвращает сессию по идентификатору
func (bs *BadgerStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var rec *SessionRecord
	err := bs.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = bs.readSession(txn, sessionID)
		if err != nil {
			return err
		}
		rec.ReplayEventsCount, err = bs.readSeq(txn, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListSessions возвращает страницу сессий, новые первыми.
// Badger перебирает все записи: backend рассчитан на умеренное число сессий.
func (bs *BadgerStore) ListSessions(ctx context.Context, limit, offset int) ([]SessionRecord, int64, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, 0, fmt.Errorf("хранилище не готово")
	}

	var all []SessionRecord
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerSessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec SessionRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("ошибка разбора сессии: %w", err)
			}
			count, err := bs.readSeq(txn, rec.SessionID)
			if err != nil {
				return err
			}
			rec.ReplayEventsCount = count
			all = append(all, rec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Новые первыми
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

// AppendEvents дописывает батч событий в конец потока сессии
func (bs *BadgerStore) AppendEvents(ctx context.Context, sessionID string, events []replay.ReplayEvent) (int64, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return 0, fmt.Errorf("хранилище не готово")
	}

	var start int64
	err := bs.db.Update(func(txn *badger.Txn) error {
		if _, err := bs.readSession(txn, sessionID); err != nil {
			return err
		}

		seq, err := bs.readSeq(txn, sessionID)
		if err != nil {
			return err
		}
		start = seq

		for i := range events {
			data, err := bs.codec.Encode(events[i : i+1])
			if err != nil {
				return err
			}
			if err := txn.Set(eventKey(sessionID, seq+int64(i)), data); err != nil {
				return err
			}
		}

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(seq+int64(len(events))))
		return txn.Set(seqKey(sessionID), buf[:])
	})
	if err != nil {
		return 0, err
	}
	return start, nil
}

// GetEvents возвращает упорядоченную страницу событий сессии
func (bs *BadgerStore) GetEvents(ctx context.Context, sessionID string, limit, offset int) ([]replay.ReplayEvent, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	if limit <= 0 {
		limit = 1200
	}

	var events []replay.ReplayEvent
	err := bs.db.View(func(txn *badger.Txn) error {
		if _, err := bs.readSession(txn, sessionID); err != nil {
			return err
		}

		// Ключи событий упорядочены big-endian sequence, итерация
		// по префиксу отдаёт их в порядке воспроизведения
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerEventPrefix + sessionID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(eventKey(sessionID, int64(offset)))
		for ; it.Valid() && len(events) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				batch, err := bs.codec.Decode(val)
				if err != nil {
					return err
				}
				events = append(events, batch...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []replay.ReplayEvent{}
	}
	return events, nil
}

// CountEvents возвращает число событий сессии
func (bs *BadgerStore) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return 0, fmt.Errorf("хранилище не готово")
	}

	var count int64
	err := bs.db.View(func(txn *badger.Txn) error {
		if _, err := bs.readSession(txn, sessionID); err != nil {
			return err
		}
		var err error
		count, err = bs.readSeq(txn, sessionID)
		return err
	})
	return count, err
}
