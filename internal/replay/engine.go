package replay

// Size размеры прямоугольной области в пикселях
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Metadata метаданные построенного движка. Читаются один раз после создания.
type Metadata struct {
	TotalTimeMs int64 // полная длительность воспроизведения
}

// EngineConfig детерминированная конфигурация движка воспроизведения.
// Контроллер всегда создаёт движок с одними и теми же настройками.
type EngineConfig struct {
	Speed          float64 // скорость воспроизведения (1 = реальное время)
	SkipInactivity bool    // пропускать периоды бездействия
	ShowMouseTrail bool    // рисовать след курсора
}

// DefaultEngineConfig возвращает конфигурацию, с которой контроллер
// создаёт каждый движок: speed=1, пропуск бездействия, без следа курсора.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Speed:          1,
		SkipInactivity: true,
		ShowMouseTrail: false,
	}
}

// Engine контракт внешнего движка воспроизведения. Сам алгоритм применения
// DOM-мутаций — вне этого ядра; здесь только поверхность управления.
//
// Гарантии реализации:
//   - после создания движок стоит на паузе на времени 0;
//   - Play/Pause/CurrentTime возвращаются немедленно (без блокировок);
//   - после Close все вызовы безопасны и ничего не делают.
type Engine interface {
	// Play запускает воспроизведение. atMs >= 0 — с указанной позиции,
	// atMs < 0 — продолжить с текущей.
	Play(atMs int64)

	// Pause приостанавливает воспроизведение.
	Pause()

	// CurrentTime возвращает текущую позицию воспроизведения в мс.
	CurrentTime() int64

	// Metadata возвращает метаданные записи.
	Metadata() Metadata

	// SurfaceSize возвращает собственный размер отрисованной поверхности.
	// Известен только после построения виртуального документа.
	SurfaceSize() Size

	// Close освобождает ресурсы движка. Идемпотентен.
	Close()
}

// EngineFactory строит движок из валидированного потока событий.
// Ошибка построения — штатная ситуация: контроллер её логирует
// и остаётся без сессии, не роняя процесс.
type EngineFactory interface {
	New(events []ReplayEvent, cfg EngineConfig) (Engine, error)
}

// EngineFactoryFunc адаптер функции под интерфейс EngineFactory
type EngineFactoryFunc func(events []ReplayEvent, cfg EngineConfig) (Engine, error)

func (f EngineFactoryFunc) New(events []ReplayEvent, cfg EngineConfig) (Engine, error) {
	return f(events, cfg)
}
