package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy selects how a RetryPolicy is derived from the base policy
type Strategy string

const (
	StrategyStandard     Strategy = "standard"
	StrategyAggressive   Strategy = "aggressive"
	StrategyConservative Strategy = "conservative"
)

// ParseStrategy accepts the strategy names case-insensitively
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyStandard, "":
		return StrategyStandard, nil
	case StrategyAggressive:
		return StrategyAggressive, nil
	case StrategyConservative:
		return StrategyConservative, nil
	default:
		return StrategyStandard, fmt.Errorf("unknown retry strategy %q", s)
	}
}

// RetryPolicy parameterizes connect attempts. It is an immutable value.
type RetryPolicy struct {
	Strategy          Strategy
	MaxRetries        int
	RetryDelay        time.Duration
	ConnectionTimeout time.Duration
}

// BasePolicy returns a standard policy with the given parameters
func BasePolicy(maxRetries int, retryDelay, connectionTimeout time.Duration) RetryPolicy {
	return RetryPolicy{
		Strategy:          StrategyStandard,
		MaxRetries:        maxRetries,
		RetryDelay:        retryDelay,
		ConnectionTimeout: connectionTimeout,
	}
}

// Derive computes the policy for strategy from base. Durations are handled in whole
// seconds and halving truncates, so aggressive(30s, 5, 5s) is (15s, 10, 2s).
func Derive(strategy Strategy, base RetryPolicy) RetryPolicy {
	timeout := wholeSeconds(base.ConnectionTimeout)
	delay := wholeSeconds(base.RetryDelay)

	p := RetryPolicy{Strategy: strategy}
	switch strategy {
	case StrategyAggressive:
		p.ConnectionTimeout = seconds(max(15, timeout/2))
		p.MaxRetries = base.MaxRetries * 2
		p.RetryDelay = seconds(max(1, delay/2))
	case StrategyConservative:
		p.ConnectionTimeout = seconds(timeout * 2)
		p.MaxRetries = max(1, base.MaxRetries/2)
		p.RetryDelay = seconds(delay * 2)
	default:
		p = base
		p.Strategy = StrategyStandard
	}
	return p
}

// Attempts returns the number of connect attempts the policy allows, at least one
func (p RetryPolicy) Attempts() int {
	return max(1, p.MaxRetries)
}

// BackOff returns the progressive schedule between attempts: RetryDelay * attempt,
// stopping once Attempts() attempts have been made.
func (p RetryPolicy) BackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&progressiveBackOff{delay: p.RetryDelay}, uint64(p.Attempts()-1))
}

func (p RetryPolicy) String() string {
	return fmt.Sprintf("%s(timeout=%v retries=%d delay=%v)", p.Strategy, p.ConnectionTimeout, p.MaxRetries, p.RetryDelay)
}

type progressiveBackOff struct {
	delay   time.Duration
	attempt int
}

func (b *progressiveBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.delay * time.Duration(b.attempt)
}

func (b *progressiveBackOff) Reset() {
	b.attempt = 0
}

// schedulerTimer lets backoff wait through the Scheduler so the wait keeps yielding
type schedulerTimer struct {
	sched *Scheduler
	c     chan time.Time
}

func newSchedulerTimer(sched *Scheduler) *schedulerTimer {
	return &schedulerTimer{sched: sched, c: make(chan time.Time, 1)}
}

func (t *schedulerTimer) Start(d time.Duration) {
	t.sched.Sleep(d)
	select {
	case t.c <- t.sched.Now():
	default:
	}
}

func (t *schedulerTimer) Stop() {
	select {
	case <-t.c:
	default:
	}
}

func (t *schedulerTimer) C() <-chan time.Time {
	return t.c
}

func wholeSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
