package replay

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestController создаёт контроллер с фабрикой-заглушкой и огромным
// периодом семплера: тики в тестах подаются вручную через tick().
func newTestController(t *testing.T, cfg ControllerConfig) (*Controller, *MockEngineFactory) {
	t.Helper()
	factory := NewMockEngineFactory()
	cfg.Factory = factory
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = time.Hour
	}
	c := NewController(cfg)
	t.Cleanup(c.Close)
	return c, factory
}

// tick симулирует один тик семплера текущей сессии
func tick(c *Controller) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.onSample(s.gen, s.adapter.CurrentTime())
}

func TestController_LoadValidStream(t *testing.T) {
	c, factory := newTestController(t, ControllerConfig{})

	events := makeStream(120, 250) // 121 событие, 30 000 мс
	require.NoError(t, c.Load(events))

	st := c.Status()
	assert.Equal(t, StateReady, st.State)
	assert.False(t, st.Playing)
	assert.Equal(t, int64(0), st.CurrentTimeMs)
	assert.Equal(t, int64(30000), st.DurationMs)
	assert.Equal(t, "0:00", st.Clock)
	assert.Equal(t, "0:30", st.Duration)
	assert.Equal(t, 1, factory.Created())
}

func TestController_InvalidStream(t *testing.T) {
	var missing int32
	c, factory := newTestController(t, ControllerConfig{
		OnMissingSnapshot: func() { atomic.AddInt32(&missing, 1) },
	})

	// Пустой поток: callback ровно один раз, ни одного движка
	err := c.Load(nil)
	assert.ErrorIs(t, err, ErrStreamTooShort)
	assert.Equal(t, int32(1), atomic.LoadInt32(&missing))
	assert.Equal(t, 0, factory.Created())
	assert.Equal(t, StateInvalid, c.Status().State)

	// Первый не FullSnapshot
	err = c.Load([]ReplayEvent{
		{Kind: KindIncrementalSnapshot},
		{Kind: KindIncrementalSnapshot, Timestamp: 100},
	})
	assert.ErrorIs(t, err, ErrMissingSnapshot)
	assert.Equal(t, int32(2), atomic.LoadInt32(&missing))
	assert.Equal(t, 0, factory.Created())

	// Команды без сессии — безопасные no-op'ы
	c.Play()
	c.Pause()
	c.Seek(1000)
	c.Restart()
	assert.Equal(t, StateInvalid, c.Status().State)
}

func TestController_EngineConstructionFailure(t *testing.T) {
	c, factory := newTestController(t, ControllerConfig{})
	factory.FailNext(errors.New("corrupt recording"))

	err := c.Load(makeStream(10, 100))
	require.Error(t, err)

	// Частичной сессии не остаётся, контроллер в Idle
	st := c.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Zero(t, st.DurationMs)

	c.Play() // no-op, не падает
	assert.Equal(t, StateIdle, c.Status().State)
}

func TestController_PlayPauseIdempotence(t *testing.T) {
	c, factory := newTestController(t, ControllerConfig{})
	require.NoError(t, c.Load(makeStream(120, 250)))

	// Pause без Play — состояние не меняется
	c.Pause()
	assert.Equal(t, StateReady, c.Status().State)

	c.Play()
	assert.Equal(t, StatePlaying, c.Status().State)

	// Повторный Play ничего не меняет и не создаёт второй движок
	c.Play()
	assert.Equal(t, StatePlaying, c.Status().State)
	assert.Equal(t, 1, factory.Created())

	c.Pause()
	assert.Equal(t, StatePaused, c.Status().State)

	c.Pause()
	assert.Equal(t, StatePaused, c.Status().State)
}

func TestController_PlayPauseToggle(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	require.NoError(t, c.Load(makeStream(120, 250)))

	c.PlayPause()
	assert.True(t, c.Status().Playing)
	c.PlayPause()
	assert.False(t, c.Status().Playing)
}

func TestController_SeekAlwaysResumes(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	require.NoError(t, c.Load(makeStream(120, 250)))

	// Скраббинг из паузы возобновляет движение — осознанная политика
	c.Seek(12000)
	st := c.Status()
	assert.True(t, st.Playing)
	assert.Equal(t, int64(12000), st.CurrentTimeMs)

	c.Pause()
	c.Seek(5000)
	st = c.Status()
	assert.True(t, st.Playing)
	assert.Equal(t, int64(5000), st.CurrentTimeMs)
}

func TestController_SeekClampsBounds(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	require.NoError(t, c.Load(makeStream(120, 250)))

	c.Seek(-500)
	assert.Equal(t, int64(0), c.Status().CurrentTimeMs)

	c.Seek(999999)
	assert.Equal(t, int64(30000), c.Status().CurrentTimeMs)
}

func TestController_EndOfStreamAutoPause(t *testing.T) {
	var finished int32
	c, factory := newTestController(t, ControllerConfig{
		OnFinished: func() { atomic.AddInt32(&finished, 1) },
	})

	// 121 событие с шагом 250 мс = 30 000 мс записи
	require.NoError(t, c.Load(makeStream(120, 250)))

	// Подменяем часы движка на ручные
	now := time.Unix(0, 0)
	engine := factory.Last()
	require.NotNil(t, engine)
	engine.SetClock(func() time.Time { return now })

	c.Restart()
	st := c.Status()
	assert.True(t, st.Playing)
	assert.Equal(t, int64(0), st.CurrentTimeMs)

	// 31 тик по 250 мс ≈ 7 750 мс — всё ещё играем
	for i := 0; i < 31; i++ {
		now = now.Add(250 * time.Millisecond)
		tick(c)
	}
	st = c.Status()
	assert.True(t, st.Playing)
	assert.Equal(t, int64(7750), st.CurrentTimeMs)

	// Доводим до конца записи: часы движка зажаты в min(elapsed, 30000)
	for i := 0; i < 90; i++ {
		now = now.Add(250 * time.Millisecond)
		tick(c)
	}
	st = c.Status()
	assert.False(t, st.Playing)
	assert.Equal(t, StateEnded, st.State)
	assert.Equal(t, int64(30000), st.CurrentTimeMs)
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))

	// Дальнейшие тики не уменьшают и не заворачивают время
	for i := 0; i < 5; i++ {
		now = now.Add(250 * time.Millisecond)
		tick(c)
	}
	st = c.Status()
	assert.Equal(t, int64(30000), st.CurrentTimeMs)
	assert.False(t, st.Playing)
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))

	// Restart с конца начинает с нуля
	c.Restart()
	st = c.Status()
	assert.True(t, st.Playing)
	assert.Equal(t, int64(0), st.CurrentTimeMs)
}

func TestController_PlayFromEndRestartsFromZero(t *testing.T) {
	c, factory := newTestController(t, ControllerConfig{})
	require.NoError(t, c.Load(makeStream(120, 250)))

	now := time.Unix(0, 0)
	factory.Last().SetClock(func() time.Time { return now })

	c.Seek(30000)
	tick(c)
	// Семплер видит конец записи и автоостанавливается
	assert.Equal(t, StateEnded, c.Status().State)

	c.Play()
	st := c.Status()
	assert.True(t, st.Playing)
	assert.Equal(t, int64(0), st.CurrentTimeMs)
}

func TestController_TeardownStopsStaleTicks(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	require.NoError(t, c.Load(makeStream(120, 250)))

	c.mu.Lock()
	oldGen := c.session.gen
	c.mu.Unlock()

	c.Play()
	c.Close()
	assert.Equal(t, StateIdle, c.Status().State)

	// Тик разобранной сессии не должен тронуть состояние
	c.onSample(oldGen, 12345)
	st := c.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, int64(0), st.CurrentTimeMs)

	// Повторный Close безопасен
	c.Close()
}

func TestController_StreamReplacedTearsDownOldSession(t *testing.T) {
	c, factory := newTestController(t, ControllerConfig{})
	require.NoError(t, c.Load(makeStream(120, 250)))

	c.mu.Lock()
	oldGen := c.session.gen
	c.mu.Unlock()
	c.Play()

	// Замена потока: старая сессия разбирается до создания новой
	require.NoError(t, c.Load(makeStream(40, 500))) // 20 000 мс
	assert.Equal(t, 2, factory.Created())

	st := c.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, int64(20000), st.DurationMs)
	assert.Equal(t, int64(0), st.CurrentTimeMs)

	// Запоздавший тик старого поколения игнорируется
	c.onSample(oldGen, 29000)
	assert.Equal(t, int64(0), c.Status().CurrentTimeMs)
}

func TestController_ViewportScaling(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})

	// Meta событие задаёт размер поверхности 1280x720
	events := makeStream(120, 250)
	events[1] = ReplayEvent{
		Kind:      KindMeta,
		Timestamp: 250,
		Payload:   []byte(`{"type":4,"timestamp":250,"data":{"width":1280,"height":720}}`),
	}

	c.SetViewportSize(Size{Width: 800, Height: 600})
	require.NoError(t, c.Load(events))

	assert.Eventually(t, func() bool {
		return c.Status().Scale == 0.625
	}, time.Second, 5*time.Millisecond)

	// Уменьшение host-контейнера пересчитывает коэффициент
	c.SetViewportSize(Size{Width: 400, Height: 300})
	assert.InDelta(t, 0.3125, c.Status().Scale, 1e-9)
}

func TestController_SamplerRunsPeriodically(t *testing.T) {
	factory := NewMockEngineFactory()
	c := NewController(ControllerConfig{
		Factory:        factory,
		SampleInterval: 10 * time.Millisecond,
	})
	defer c.Close()

	require.NoError(t, c.Load(makeStream(120, 250)))
	c.Play()

	// Семплер сам продвигает наблюдаемое время
	assert.Eventually(t, func() bool {
		return c.Status().CurrentTimeMs > 0
	}, time.Second, 5*time.Millisecond)
}
