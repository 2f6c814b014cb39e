package services

import (
	"time"

	"airnode/log"

	"go.uber.org/zap"
)

// LED is the status light
type LED interface {
	Set(on bool)
}

// LogLED is a host LED that only records its state in the log
type LogLED struct {
	logger *zap.Logger
	on     bool
}

// NewLogLED creates a log-backed LED
func NewLogLED(logger *zap.Logger) *LogLED {
	return &LogLED{logger: logger.Named("led")}
}

func (l *LogLED) Set(on bool) {
	if l.on == on {
		return
	}
	l.on = on
	log.Trace(l.logger, "LED", zap.Bool("on", on))
}

// Blink timings
const (
	blinkOn    = 200 * time.Millisecond
	blinkOff   = 200 * time.Millisecond
	blinkPause = 800 * time.Millisecond
	resetFlash = 100 * time.Millisecond
)

// Blinker signals error kinds and the reset countdown on the LED.
// All waits go through the scheduler.
type Blinker struct {
	led   LED
	sched *Scheduler
}

// NewBlinker creates a blinker. A nil led makes every pattern a no-op.
func NewBlinker(led LED, sched *Scheduler) *Blinker {
	return &Blinker{led: led, sched: sched}
}

// Blink flashes the LED n times followed by a pause
func (b *Blinker) Blink(n int) {
	if b.led == nil || n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		b.led.Set(true)
		b.sched.Sleep(blinkOn)
		b.led.Set(false)
		b.sched.Sleep(blinkOff)
	}
	b.sched.Sleep(blinkPause)
}

// CountdownSecond fills one second of the reset countdown with fast flashes
func (b *Blinker) CountdownSecond() {
	if b.led == nil {
		b.sched.Sleep(time.Second)
		return
	}
	for elapsed := time.Duration(0); elapsed < time.Second; elapsed += 2 * resetFlash {
		b.led.Set(true)
		b.sched.Sleep(resetFlash)
		b.led.Set(false)
		b.sched.Sleep(resetFlash)
	}
}
