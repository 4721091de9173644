package replay

import (
	"sync"
	"time"
)

// ComputeScale вычисляет равномерный коэффициент вписывания поверхности
// в host-контейнер без искажения пропорций. Кап в 1 запрещает увеличение
// сверх нативного разрешения (маленькие записи не размываются).
// ok=false при вырожденной геометрии (любое измерение нулевое) —
// пересчёт пропускается до прихода валидных размеров.
func ComputeScale(host, surface Size) (scale float64, ok bool) {
	if host.Width <= 0 || host.Height <= 0 || surface.Width <= 0 || surface.Height <= 0 {
		return 0, false
	}

	scale = host.Width / surface.Width
	if v := host.Height / surface.Height; v < scale {
		scale = v
	}
	if scale > 1 {
		scale = 1
	}
	return scale, true
}

// Scaler непрерывно держит поверхность движка вписанной в host-контейнер.
// Пересчёт запускают: обновление размера host (viewer сообщает resize),
// обновление размера поверхности (известен после построения документа)
// и один отложенный пересчёт сразу после создания — layout мог ещё
// не устояться в момент конструирования.
type Scaler struct {
	mu      sync.Mutex
	host    Size
	surface Size
	scale   float64
	apply   func(scale float64)
	stopped bool
	deferCh *time.Timer
}

// NewScaler создаёт Scaler и планирует отложенный первичный пересчёт.
// apply вызывается при каждом изменении коэффициента (под мьютексом не держится).
func NewScaler(host, surface Size, apply func(scale float64)) *Scaler {
	s := &Scaler{
		host:    host,
		surface: surface,
		scale:   1,
		apply:   apply,
	}
	s.deferCh = time.AfterFunc(16*time.Millisecond, s.recompute)
	return s
}

// SetHostSize обновляет размер host-контейнера и пересчитывает масштаб
func (s *Scaler) SetHostSize(host Size) {
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()
	s.recompute()
}

// SetSurfaceSize обновляет собственный размер поверхности и пересчитывает масштаб
func (s *Scaler) SetSurfaceSize(surface Size) {
	s.mu.Lock()
	s.surface = surface
	s.mu.Unlock()
	s.recompute()
}

// Scale возвращает последний применённый коэффициент
func (s *Scaler) Scale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}

// Stop отменяет отложенный пересчёт и блокирует дальнейшие применения.
// Вызывается при разборе сессии, идемпотентен.
func (s *Scaler) Stop() {
	s.mu.Lock()
	s.stopped = true
	t := s.deferCh
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (s *Scaler) recompute() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	scale, ok := ComputeScale(s.host, s.surface)
	if !ok || scale == s.scale {
		s.mu.Unlock()
		return
	}
	s.scale = scale
	apply := s.apply
	s.mu.Unlock()

	if apply != nil {
		apply(scale)
	}
}
