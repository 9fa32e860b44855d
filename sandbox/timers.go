package sandbox

import (
	"sync"
	"time"

	"github.com/dop251/goja"
)

// timer is one outstanding setTimeout/setInterval handle.
type timer struct {
	id       int64
	fireAt   time.Time
	interval time.Duration // 0 for setTimeout, the repeat period for setInterval
	fn       goja.Callable
}

// timerSet tracks the artifact's outstanding timer handles. bindHostCalls
// populates it via setTimeout/setInterval; Executor.Run drains it after the
// artifact's top-level code returns and force-cancels everything still
// pending once the context or the execution budget expires (SPEC_FULL §4.4:
// "timers that are cancelled on exit").
type timerSet struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*timer
}

func newTimerSet() *timerSet {
	return &timerSet{pending: make(map[int64]*timer)}
}

func (s *timerSet) add(fn goja.Callable, delay, interval time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.pending[id] = &timer{id: id, fireAt: time.Now().Add(delay), interval: interval, fn: fn}
	return id
}

func (s *timerSet) cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

func (s *timerSet) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[int64]*timer)
}

// next returns the pending timer with the earliest fireAt, if any remain.
func (s *timerSet) next() (*timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *timer
	for _, t := range s.pending {
		if best == nil || t.fireAt.Before(best.fireAt) {
			best = t
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// reschedule pushes an interval timer's next fire time out by its period. A
// no-op if the timer was cancelled from within its own callback.
func (s *timerSet) reschedule(t *timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[t.id]; !ok {
		return
	}
	t.fireAt = time.Now().Add(t.interval)
}
