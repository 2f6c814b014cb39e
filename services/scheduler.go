package services

import (
	"runtime"
	"sync"
	"time"
)

// DefaultTick is the longest the scheduler sleeps before yielding
const DefaultTick = 100 * time.Millisecond

// Clock abstracts wall time so waits can be simulated in tests
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

// RealClock returns a Clock backed by the time package
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// TickHook runs at every cooperative yield point
type TickHook func(now time.Time)

// Scheduler is the single place the node waits. Every wait is a sequence of bounded
// sleeps, each followed by a Yield that hands time to the tick hooks (radio driver pump,
// watchdog keep-alive). A wait that skips Yield starves the radio stack.
type Scheduler struct {
	clock Clock
	tick  time.Duration

	mu    sync.Mutex
	hooks []TickHook
}

// NewScheduler creates a scheduler that yields at least every tick
func NewScheduler(clock Clock, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{clock: clock, tick: tick}
}

// OnTick registers a hook called at every yield point
func (s *Scheduler) OnTick(hook TickHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Now returns the scheduler clock's time
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Yield runs the tick hooks and lets other goroutines (the radio driver) run
func (s *Scheduler) Yield() {
	s.mu.Lock()
	hooks := make([]TickHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	now := s.clock.Now()
	for _, hook := range hooks {
		hook(now)
	}
	runtime.Gosched()
}

// Sleep waits d in tick-sized slices, yielding after each slice
func (s *Scheduler) Sleep(d time.Duration) {
	for d > 0 {
		step := s.tick
		if d < step {
			step = d
		}
		s.clock.Sleep(step)
		d -= step
		s.Yield()
	}
}

// Since returns the time elapsed since t on the scheduler clock
func (s *Scheduler) Since(t time.Time) time.Duration {
	return s.clock.Now().Sub(t)
}
