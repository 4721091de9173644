package replay

import (
	"time"
)

// clockSampler периодически опрашивает часы движка через адаптер и отдаёт
// значение контроллеру. Ручка остановки принадлежит сессии: остановка
// семплера входит в её атомарный teardown, поэтому после разбора сессии
// тики прекращаются и к освобождённому движку никто не обращается.
type clockSampler struct {
	interval time.Duration
	adapter  *Adapter
	onSample func(nowMs int64)
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// newClockSampler создаёт семплер, но не запускает его
func newClockSampler(interval time.Duration, adapter *Adapter, onSample func(nowMs int64)) *clockSampler {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &clockSampler{
		interval: interval,
		adapter:  adapter,
		onSample: onSample,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// start запускает периодический опрос в отдельной горутине
func (cs *clockSampler) start() {
	go func() {
		defer close(cs.doneCh)
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		for {
			select {
			case <-cs.stopCh:
				return
			case <-ticker.C:
				cs.onSample(cs.adapter.CurrentTime())
			}
		}
	}()
}

// stop останавливает опрос и дожидается выхода горутины. Идемпотентен.
func (cs *clockSampler) stop() {
	select {
	case <-cs.stopCh:
		// уже остановлен
	default:
		close(cs.stopCh)
	}
	<-cs.doneCh
}
