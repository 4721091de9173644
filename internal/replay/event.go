// Package replay содержит ядро воспроизведения записанных сессий:
// валидацию потока событий, адаптер внешнего движка воспроизведения,
// масштабирование viewport, семплер часов и контроллер состояния.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind тип записанного события. Нумерация совпадает с recorder'ом
// на стороне браузера, поэтому значения фиксированы.
type EventKind int

const (
	KindDOMContentLoaded    EventKind = 0
	KindLoad                EventKind = 1
	KindFullSnapshot        EventKind = 2 // полный снимок состояния документа
	KindIncrementalSnapshot EventKind = 3 // инкрементальная мутация
	KindMeta                EventKind = 4 // метаданные (url, размеры окна)
	KindCustom              EventKind = 5
)

// ReplayEvent одно записанное событие сессии.
// Payload — непрозрачный блоб движка; контроллер его не разбирает,
// только передаёт движку целиком.
type ReplayEvent struct {
	Kind      EventKind       `json:"type"`
	Timestamp int64           `json:"timestamp"` // мс относительно начала записи
	Payload   json.RawMessage `json:"data,omitempty"`
}

// Ошибки валидации потока
var (
	ErrStreamTooShort   = errors.New("replay stream has fewer than 2 events")
	ErrMissingSnapshot  = errors.New("replay stream does not start with a full snapshot")
	ErrMalformedPayload = errors.New("malformed replay event payload")
)

// Validate проверяет, что поток событий воспроизводим: минимум 2 события
// и первое — FullSnapshot. Никаких побочных эффектов при успехе.
// Невалидный поток нельзя передавать движку.
func Validate(events []ReplayEvent) error {
	if len(events) < 2 {
		return ErrStreamTooShort
	}
	if events[0].Kind != KindFullSnapshot {
		return ErrMissingSnapshot
	}
	return nil
}

// DecodeEvents разбирает сырые JSON-объекты recorder'а в ReplayEvent.
// Каждый блоб сохраняется целиком: движку нужен оригинальный объект,
// kind и timestamp извлекаются только для валидации и сортировки.
func DecodeEvents(raw []json.RawMessage) ([]ReplayEvent, error) {
	events := make([]ReplayEvent, 0, len(raw))
	for i, blob := range raw {
		var head struct {
			Type      *int  `json:"type"`
			Timestamp int64 `json:"timestamp"`
		}
		if err := json.Unmarshal(blob, &head); err != nil || head.Type == nil {
			return nil, fmt.Errorf("event %d: %w", i, ErrMalformedPayload)
		}
		events = append(events, ReplayEvent{
			Kind:      EventKind(*head.Type),
			Timestamp: head.Timestamp,
			Payload:   blob,
		})
	}
	return events, nil
}

// Duration возвращает длительность потока в мс по таймстампам крайних событий.
// Используется как fallback, когда движок не сообщил метаданные.
func Duration(events []ReplayEvent) int64 {
	if len(events) < 2 {
		return 0
	}
	d := events[len(events)-1].Timestamp - events[0].Timestamp
	if d < 0 {
		return 0
	}
	return d
}
