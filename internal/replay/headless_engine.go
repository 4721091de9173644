package replay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// HeadlessEngine серверный движок воспроизведения без отрисовки.
// Сервер не рендерит DOM: движок моделирует часы записи, а клиент
// получает позицию через Status и сам отображает события. Контракт
// Engine: создаётся на паузе на времени 0, время течёт только в
// playing, после Close все вызовы — no-op.
type HeadlessEngine struct {
	mu        sync.Mutex
	total     int64
	surface   Size
	speed     float64
	playing   bool
	offset    int64 // позиция на момент последнего Play
	startedAt time.Time
	closed    bool
	now       func() time.Time
}

// NewHeadlessEngine строит движок из потока событий: длительность — по
// таймстампам крайних событий, размер поверхности — из первого Meta
// события записи.
func NewHeadlessEngine(events []ReplayEvent, cfg EngineConfig) (*HeadlessEngine, error) {
	if len(events) == 0 {
		return nil, errors.New("headless engine: empty event stream")
	}

	speed := cfg.Speed
	if speed <= 0 {
		speed = 1
	}

	e := &HeadlessEngine{
		total:   Duration(events),
		surface: Size{Width: 1280, Height: 720},
		speed:   speed,
		now:     time.Now,
	}

	for _, ev := range events {
		if ev.Kind != KindMeta {
			continue
		}
		var meta struct {
			Data struct {
				Width  float64 `json:"width"`
				Height float64 `json:"height"`
			} `json:"data"`
		}
		if err := json.Unmarshal(ev.Payload, &meta); err == nil &&
			meta.Data.Width > 0 && meta.Data.Height > 0 {
			e.surface = Size{Width: meta.Data.Width, Height: meta.Data.Height}
		}
		break
	}

	return e, nil
}

// SetClock подменяет источник времени (для детерминированных тестов)
func (e *HeadlessEngine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// Play запускает часы с позиции atMs (atMs < 0 — с текущей)
func (e *HeadlessEngine) Play(atMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if atMs >= 0 {
		e.offset = atMs
	} else {
		e.offset = e.currentLocked()
	}
	e.startedAt = e.now()
	e.playing = true
}

// Pause фиксирует текущую позицию и останавливает часы
func (e *HeadlessEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.playing {
		return
	}
	e.offset = e.currentLocked()
	e.playing = false
}

// CurrentTime возвращает min(позиция, длительность)
func (e *HeadlessEngine) CurrentTime() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked()
}

func (e *HeadlessEngine) currentLocked() int64 {
	if !e.playing {
		return e.offset
	}
	elapsed := int64(float64(e.now().Sub(e.startedAt).Milliseconds()) * e.speed)
	pos := e.offset + elapsed
	if pos > e.total {
		return e.total
	}
	return pos
}

// Metadata возвращает длительность записи
func (e *HeadlessEngine) Metadata() Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Metadata{TotalTimeMs: e.total}
}

// SurfaceSize возвращает размер поверхности из Meta события
func (e *HeadlessEngine) SurfaceSize() Size {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.surface
}

// Close освобождает движок. Идемпотентен.
func (e *HeadlessEngine) Close() {
	e.mu.Lock()
	e.playing = false
	e.closed = true
	e.mu.Unlock()
}

// HeadlessFactory строит HeadlessEngine. Используется сервером для
// всех зрительских воспроизведений.
type HeadlessFactory struct{}

// New реализует EngineFactory
func (HeadlessFactory) New(events []ReplayEvent, cfg EngineConfig) (Engine, error) {
	return NewHeadlessEngine(events, cfg)
}
