package syncengine

import (
	"sync"
	"time"
)

// Scheduler abstracts the periodic sync trigger. The engine never touches
// the wall clock directly: production wires a TickerScheduler, tests wire
// a ManualScheduler and fire cycles deterministically.
type Scheduler interface {
	// Every invokes fn repeatedly at the given interval until the
	// returned cancel function is called. The scheduler is purely a
	// trigger: it must not assume fn is re-entrant, and the engine's
	// own in-flight flag makes overlapping triggers harmless no-ops.
	Every(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler triggers on a time.Ticker.
type TickerScheduler struct{}

// Every implements Scheduler.
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// ManualScheduler is a test scheduler: registered functions run only when
// Fire is called.
type ManualScheduler struct {
	mu  sync.Mutex
	fns map[int]func()
	seq int
}

// NewManualScheduler creates an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{fns: make(map[int]func())}
}

// Every implements Scheduler. The interval is ignored.
func (m *ManualScheduler) Every(_ time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.seq
	m.seq++
	m.fns[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.fns, id)
	}
}

// Fire runs every registered function once, synchronously.
func (m *ManualScheduler) Fire() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.fns))
	for _, fn := range m.fns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Active reports how many periodic registrations are live.
func (m *ManualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fns)
}
