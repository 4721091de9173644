package replay

import (
	"sync"
	"time"

	"github.com/annel0/session-replay/internal/logging"
)

// State состояние контроллера воспроизведения
type State string

const (
	StateIdle    State = "idle"    // нет валидного потока
	StateInvalid State = "invalid" // поток не прошёл валидацию
	StateReady   State = "ready"   // движок построен, пауза на 0
	StatePlaying State = "playing" // время движется
	StatePaused  State = "paused"  // остановлен пользователем
	StateEnded   State = "ended"   // время = длительности, пауза
)

// Status наблюдаемое состояние для отрисовки UI
type Status struct {
	State         State   `json:"state"`
	Playing       bool    `json:"playing"`
	CurrentTimeMs int64   `json:"current_time_ms"`
	DurationMs    int64   `json:"duration_ms"`
	Clock         string  `json:"clock"`    // "м:сс" текущей позиции
	Duration      string  `json:"duration"` // "м:сс" полной длительности
	Scale         float64 `json:"scale"`    // коэффициент вписывания в viewport
}

// ControllerConfig конфигурация контроллера воспроизведения
type ControllerConfig struct {
	Factory        EngineFactory // фабрика внешнего движка (обязательно)
	Engine         EngineConfig  // конфигурация движка; нулевая = DefaultEngineConfig
	SampleInterval time.Duration // период семплера; 0 = 250 мс

	// OnMissingSnapshot вызывается один раз, когда поток не прошёл
	// валидацию. Встраивающий UI сам решает, что показать.
	OnMissingSnapshot func()

	// OnFinished вызывается при автоостановке на конце записи
	OnFinished func()
}

// playbackSession связка ресурсов одной сессии воспроизведения.
// Семплер, скейлер и движок создаются вместе и разбираются вместе:
// ручки принадлежат сессии, а не общим полям контроллера, поэтому
// запоздавший тик старой сессии не может изменить состояние новой.
type playbackSession struct {
	gen        uint64
	adapter    *Adapter
	sampler    *clockSampler
	scaler     *Scaler
	durationMs int64
}

// Controller публичный оркестратор воспроизведения: валидирует поток,
// владеет сессией, выполняет команды play/pause/seek/restart и
// гарантирует полный teardown на каждом пути выхода.
type Controller struct {
	cfg ControllerConfig

	mu            sync.Mutex
	state         State
	session       *playbackSession
	gen           uint64
	hostSize      Size // последний размер viewport, переживает смену потока
	currentTimeMs int64
	scale         float64
}

// NewController создаёт контроллер в состоянии Idle
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Engine == (EngineConfig{}) {
		cfg.Engine = DefaultEngineConfig()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 250 * time.Millisecond
	}
	return &Controller{
		cfg:   cfg,
		state: StateIdle,
		scale: 1,
	}
}

// Load заменяет текущий поток событий. Старая сессия разбирается
// целиком до создания новой. Невалидный поток переводит контроллер
// в Invalid и дёргает OnMissingSnapshot; ошибка построения движка
// оставляет контроллер в Idle без частичной сессии.
func (c *Controller) Load(events []ReplayEvent) error {
	c.teardown(StateIdle)

	if err := Validate(events); err != nil {
		c.mu.Lock()
		c.state = StateInvalid
		c.mu.Unlock()

		logging.Warn("Поток событий не прошёл валидацию: %v", err)
		if c.cfg.OnMissingSnapshot != nil {
			c.cfg.OnMissingSnapshot()
		}
		return err
	}

	adapter := NewAdapter(c.cfg.Factory)
	if err := adapter.Create(events, c.cfg.Engine); err != nil {
		logging.Error("Не удалось создать движок воспроизведения: %v", err)
		return err
	}

	durationMs := adapter.Metadata().TotalTimeMs
	if durationMs <= 0 {
		durationMs = Duration(events)
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	host := c.hostSize

	scaler := NewScaler(host, adapter.SurfaceSize(), func(scale float64) {
		c.applyScale(gen, scale)
	})
	sampler := newClockSampler(c.cfg.SampleInterval, adapter, func(nowMs int64) {
		c.onSample(gen, nowMs)
	})

	c.session = &playbackSession{
		gen:        gen,
		adapter:    adapter,
		sampler:    sampler,
		scaler:     scaler,
		durationMs: durationMs,
	}
	c.currentTimeMs = 0
	c.state = StateReady
	c.mu.Unlock()

	sampler.start()
	logging.Info("Сессия воспроизведения готова: duration=%d мс, events=%d", durationMs, len(events))
	return nil
}

// Play запускает воспроизведение. С начала или конца записи стартует
// с нуля, иначе продолжает с текущей позиции. В Playing — no-op.
func (c *Controller) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil || c.state == StatePlaying {
		return
	}

	if c.currentTimeMs == 0 || c.currentTimeMs >= s.durationMs {
		c.currentTimeMs = 0
		s.adapter.Play(0)
	} else {
		s.adapter.Play(-1)
	}
	c.state = StatePlaying
}

// Pause приостанавливает воспроизведение. В паузе — no-op.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil || c.state != StatePlaying {
		return
	}
	s.adapter.Pause()
	c.state = StatePaused
}

// PlayPause переключает воспроизведение/паузу
func (c *Controller) PlayPause() {
	c.mu.Lock()
	playing := c.state == StatePlaying
	c.mu.Unlock()

	if playing {
		c.Pause()
	} else {
		c.Play()
	}
}

// Seek перематывает на позицию t (мс, зажимается в [0, duration]).
// Скраббинг всегда возобновляет движение от новой точки, даже если
// до этого стояла пауза — осознанная политика UX, не побочный эффект.
func (c *Controller) Seek(tMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return
	}

	if tMs < 0 {
		tMs = 0
	}
	if tMs > s.durationMs {
		tMs = s.durationMs
	}

	s.adapter.Pause()
	s.adapter.Play(tMs)
	c.currentTimeMs = tMs
	c.state = StatePlaying
}

// Restart запускает воспроизведение с начала
func (c *Controller) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return
	}

	s.adapter.Pause()
	s.adapter.Play(0)
	c.currentTimeMs = 0
	c.state = StatePlaying
}

// SetViewportSize сообщает контроллеру новый размер host-контейнера.
// Размер запоминается и переживает смену потока.
func (c *Controller) SetViewportSize(host Size) {
	c.mu.Lock()
	c.hostSize = host
	scaler := (*Scaler)(nil)
	if c.session != nil {
		scaler = c.session.scaler
	}
	c.mu.Unlock()

	if scaler != nil {
		scaler.SetHostSize(host)
	}
}

// Status возвращает наблюдаемое состояние для UI
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var durationMs int64
	if c.session != nil {
		durationMs = c.session.durationMs
	}
	return Status{
		State:         c.state,
		Playing:       c.state == StatePlaying,
		CurrentTimeMs: c.currentTimeMs,
		DurationMs:    durationMs,
		Clock:         FormatClock(c.currentTimeMs),
		Duration:      FormatClock(durationMs),
		Scale:         c.scale,
	}
}

// Close разбирает сессию и возвращает контроллер в Idle.
// Безопасен при повторных вызовах.
func (c *Controller) Close() {
	c.teardown(StateIdle)
}

// onSample обрабатывает тик семплера. Тики чужого поколения игнорируются:
// они принадлежат уже разобранной сессии.
func (c *Controller) onSample(gen uint64, nowMs int64) {
	var finished bool

	c.mu.Lock()
	s := c.session
	if s == nil || s.gen != gen {
		c.mu.Unlock()
		return
	}

	if nowMs > s.durationMs {
		nowMs = s.durationMs
	}
	c.currentTimeMs = nowMs

	if c.state == StatePlaying && nowMs >= s.durationMs {
		s.adapter.Pause()
		c.state = StateEnded
		finished = true
	}
	c.mu.Unlock()

	if finished {
		logging.Debug("Воспроизведение дошло до конца записи (%d мс)", nowMs)
		if c.cfg.OnFinished != nil {
			c.cfg.OnFinished()
		}
	}
}

// applyScale применяет коэффициент, рассчитанный скейлером текущего поколения
func (c *Controller) applyScale(gen uint64, scale float64) {
	c.mu.Lock()
	if c.session != nil && c.session.gen == gen {
		c.scale = scale
	}
	c.mu.Unlock()
}

// teardown атомарно разбирает текущую сессию: останавливает семплер,
// скейлер и освобождает движок — строго до того, как может появиться
// новая сессия. Мьютекс на время ожидания горутины семплера не держится
// (тик защищён проверкой поколения).
func (c *Controller) teardown(next State) {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.gen++
	c.state = next
	c.currentTimeMs = 0
	c.scale = 1
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.sampler.stop()
	s.scaler.Stop()
	s.adapter.Dispose()
	logging.Debug("Сессия воспроизведения разобрана")
}
