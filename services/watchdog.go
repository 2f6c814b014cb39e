package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"airnode/models"

	"go.uber.org/zap"
)

// ErrWatchdogArmed is returned when re-arming with a different timeout
var ErrWatchdogArmed = errors.New("watchdog already armed")

// HardwareWatchdog is the dead-man's switch timer. Once started it resets the
// device unless Feed is called before the timeout elapses.
type HardwareWatchdog interface {
	Configure(timeout time.Duration) error
	Start() error
	Feed()
}

// Watchdog wraps the hardware timer and tracks its state.
//
// Arming is a one-way decision: there is no Disarm. The only way to "disable" an armed
// watchdog is to stop feeding it, which ends in an unconditional hardware reset.
type Watchdog struct {
	hw      HardwareWatchdog
	clock   Clock
	metrics *Metrics

	mu    sync.Mutex
	state models.WatchdogState
}

// NewWatchdog creates an unarmed watchdog wrapper
func NewWatchdog(hw HardwareWatchdog, clock Clock, metrics *Metrics) *Watchdog {
	return &Watchdog{hw: hw, clock: clock, metrics: metrics}
}

// Arm configures and starts the hardware timer. Arming twice with the same timeout is a no-op.
func (w *Watchdog) Arm(timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Armed {
		if timeout == w.state.Timeout {
			return nil
		}
		return fmt.Errorf("%w with timeout %v", ErrWatchdogArmed, w.state.Timeout)
	}
	if timeout <= 0 {
		return fmt.Errorf("invalid watchdog timeout %v", timeout)
	}

	if err := w.hw.Configure(timeout); err != nil {
		return fmt.Errorf("failed to configure watchdog: %w", err)
	}
	if err := w.hw.Start(); err != nil {
		return fmt.Errorf("failed to start watchdog: %w", err)
	}

	w.state = models.WatchdogState{
		Timeout:  timeout,
		LastFeed: w.clock.Now(),
		Armed:    true,
	}
	return nil
}

// Feed resets the hardware timer. It must be called at intervals strictly shorter than the timeout.
func (w *Watchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.Armed {
		return
	}
	w.hw.Feed()
	w.state.LastFeed = w.clock.Now()
	w.metrics.watchdogFed()
}

// Status returns a snapshot of the watchdog state
func (w *Watchdog) Status() models.WatchdogState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SoftWatchdog emulates the hardware timer on a host. It trips once
// now - lastFeed reaches the timeout and then calls onExpire exactly once.
type SoftWatchdog struct {
	clock    Clock
	logger   *zap.Logger
	onExpire func()

	mu       sync.Mutex
	timeout  time.Duration
	lastFeed time.Time
	started  bool
	tripped  bool
}

// NewSoftWatchdog creates a host watchdog. onExpire performs the reset.
func NewSoftWatchdog(clock Clock, logger *zap.Logger, onExpire func()) *SoftWatchdog {
	return &SoftWatchdog{clock: clock, logger: logger, onExpire: onExpire}
}

func (s *SoftWatchdog) Configure(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("cannot reconfigure a running watchdog")
	}
	s.timeout = timeout
	return nil
}

func (s *SoftWatchdog) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeout <= 0 {
		return errors.New("watchdog timeout not configured")
	}
	s.started = true
	s.lastFeed = s.clock.Now()
	return nil
}

func (s *SoftWatchdog) Feed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tripped {
		return
	}
	s.lastFeed = s.clock.Now()
}

// Expired reports whether the timer has run out at now
func (s *SoftWatchdog) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLocked(now)
}

func (s *SoftWatchdog) expiredLocked(now time.Time) bool {
	if !s.started {
		return false
	}
	return s.tripped || now.Sub(s.lastFeed) >= s.timeout
}

// Check trips the watchdog if it has expired and reports whether it did
func (s *SoftWatchdog) Check() bool {
	s.mu.Lock()
	if s.tripped || !s.expiredLocked(s.clock.Now()) {
		s.mu.Unlock()
		return false
	}
	s.tripped = true
	starved := s.clock.Now().Sub(s.lastFeed)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Error("Watchdog expired, resetting device",
			zap.Duration("since_last_feed", starved),
			zap.Duration("timeout", s.timeout))
	}
	if s.onExpire != nil {
		s.onExpire()
	}
	return true
}

// Monitor checks for expiry at the given interval until ctx is done or the watchdog trips
func (s *SoftWatchdog) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Check() {
				return
			}
		}
	}
}
