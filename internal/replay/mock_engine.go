package replay

import "sync"

// MockEngine — HeadlessEngine с подменяемыми часами; в тестах
// управляется через SetClock.
type MockEngine = HeadlessEngine

// MockEngineFactory инструментированная фабрика для тестов: считает
// построенные движки и умеет инжектировать ошибку построения.
type MockEngineFactory struct {
	mu       sync.Mutex
	failNext error
	created  int
	last     *HeadlessEngine
}

// NewMockEngineFactory создаёт фабрику
func NewMockEngineFactory() *MockEngineFactory {
	return &MockEngineFactory{}
}

// FailNext заставляет следующий вызов New вернуть err
func (f *MockEngineFactory) FailNext(err error) {
	f.mu.Lock()
	f.failNext = err
	f.mu.Unlock()
}

// Created возвращает число построенных движков
func (f *MockEngineFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Last возвращает последний построенный движок (nil если не было)
func (f *MockEngineFactory) Last() *MockEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// New реализует EngineFactory
func (f *MockEngineFactory) New(events []ReplayEvent, cfg EngineConfig) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}

	engine, err := NewHeadlessEngine(events, cfg)
	if err != nil {
		return nil, err
	}
	f.created++
	f.last = engine
	return engine, nil
}
