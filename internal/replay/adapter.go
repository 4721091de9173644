package replay

import (
	"fmt"
	"sync"

	"github.com/annel0/session-replay/internal/logging"
)

// Adapter единоличный владелец одного экземпляра движка на поток событий.
// Все обращения контроллера и семплера к движку идут через адаптер:
// после Dispose любые вызовы становятся безопасными no-op'ами, поэтому
// запоздавший тик семплера не может тронуть уже уничтоженный движок.
type Adapter struct {
	mu      sync.Mutex
	engine  Engine
	factory EngineFactory
}

// NewAdapter создаёт адаптер поверх фабрики движков
func NewAdapter(factory EngineFactory) *Adapter {
	return &Adapter{factory: factory}
}

// Create строит движок для валидированного потока. Паника фабрики
// перехватывается и превращается в ошибку — хост не падает из-за
// битой записи. Ранее созданный движок уничтожается первым.
func (a *Adapter) Create(events []ReplayEvent, cfg EngineConfig) (err error) {
	a.Dispose()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ошибка построения движка: %v", r)
		}
	}()

	engine, err := a.factory.New(events, cfg)
	if err != nil {
		return fmt.Errorf("ошибка построения движка: %w", err)
	}

	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()

	logging.Debug("Движок воспроизведения создан: %d событий, duration=%d мс",
		len(events), engine.Metadata().TotalTimeMs)
	return nil
}

// Dispose ставит воспроизведение на паузу и освобождает движок.
// Идемпотентен: повторный вызов — no-op.
func (a *Adapter) Dispose() {
	a.mu.Lock()
	engine := a.engine
	a.engine = nil
	a.mu.Unlock()

	if engine != nil {
		engine.Pause()
		engine.Close()
		logging.Debug("Движок воспроизведения освобождён")
	}
}

// Active сообщает, владеет ли адаптер живым движком
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine != nil
}

// Play запускает воспроизведение с позиции atMs (atMs < 0 — с текущей)
func (a *Adapter) Play(atMs int64) {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	if engine != nil {
		engine.Play(atMs)
	}
}

// Pause приостанавливает воспроизведение
func (a *Adapter) Pause() {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	if engine != nil {
		engine.Pause()
	}
}

// CurrentTime возвращает позицию движка; 0 если движка нет
func (a *Adapter) CurrentTime() int64 {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	if engine == nil {
		return 0
	}
	return engine.CurrentTime()
}

// Metadata возвращает метаданные движка; нулевые если движка нет
func (a *Adapter) Metadata() Metadata {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	if engine == nil {
		return Metadata{}
	}
	return engine.Metadata()
}

// SurfaceSize возвращает размер отрисованной поверхности движка
func (a *Adapter) SurfaceSize() Size {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	if engine == nil {
		return Size{}
	}
	return engine.SurfaceSize()
}
