package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"airnode/log"
	"airnode/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often a pending association is polled
const DefaultPollInterval = 500 * time.Millisecond

// weakSignalRSSI is the level below which the link is treated as marginal
const weakSignalRSSI int32 = -75

const (
	eventActivate    = "activate"
	eventConnect     = "connect"
	eventEstablished = "established"
	eventFail        = "fail"
	eventLost        = "lost"
	eventDisconnect  = "disconnect"
)

var (
	// ErrAttemptInFlight is returned when a connect is already running
	ErrAttemptInFlight = errors.New("connect attempt already in flight")
	// ErrNotConnected is returned when the radio has no link after all attempts
	ErrNotConnected = errors.New("wifi not connected")
)

// FaultReporter receives faults that a component has absorbed
type FaultReporter interface {
	HandleFault(err error, details map[string]string) models.Disposition
}

// ConnectionConfig holds the station credentials and the base retry policy
type ConnectionConfig struct {
	SSID         string
	Passphrase   string
	Base         RetryPolicy
	PollInterval time.Duration
}

// ConnectionManager drives the radio through
// idle -> activating -> connecting -> connected | failed.
// It is the only owner of the radio.
type ConnectionManager struct {
	radio    Radio
	cfg      ConnectionConfig
	sched    *Scheduler
	metrics  *Metrics
	logger   *zap.Logger
	reporter FaultReporter

	machine  *fsm.FSM
	inFlight atomic.Bool

	mu         sync.Mutex
	policy     RetryPolicy
	lastFailed bool
}

// NewConnectionManager creates a manager in the idle state using the standard policy
func NewConnectionManager(sctx *SupervisorContext, radio Radio, cfg ConnectionConfig) *ConnectionManager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	c := &ConnectionManager{
		radio:   radio,
		cfg:     cfg,
		sched:   sctx.Scheduler,
		metrics: sctx.Metrics,
		logger:  sctx.Logger.Named("conn"),
		policy:  Derive(StrategyStandard, cfg.Base),
	}

	idle := string(models.StateIdle)
	activating := string(models.StateActivating)
	connecting := string(models.StateConnecting)
	connected := string(models.StateConnected)
	failed := string(models.StateFailed)

	c.machine = fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: eventActivate, Src: []string{idle, failed}, Dst: activating},
			{Name: eventConnect, Src: []string{idle, activating, failed}, Dst: connecting},
			{Name: eventEstablished, Src: []string{connecting}, Dst: connected},
			{Name: eventFail, Src: []string{activating, connecting}, Dst: failed},
			{Name: eventLost, Src: []string{connected}, Dst: idle},
			{Name: eventDisconnect, Src: []string{activating, connecting, connected, failed}, Dst: idle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debug("Connection state changed",
					zap.String("event", e.Event),
					zap.String("from", e.Src),
					zap.String("to", e.Dst))
			},
		},
	)
	return c
}

// SetReporter wires the fault sink, normally the supervisor
func (c *ConnectionManager) SetReporter(r FaultReporter) {
	c.reporter = r
}

// State returns the current connection state
func (c *ConnectionManager) State() models.ConnectionState {
	return models.ConnectionState(c.machine.Current())
}

// Policy returns the active retry policy
func (c *ConnectionManager) Policy() RetryPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// SetStrategy derives and activates the policy for strategy
func (c *ConnectionManager) SetStrategy(strategy Strategy) RetryPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = Derive(strategy, c.cfg.Base)
	c.logger.Info("Retry strategy selected", zap.Stringer("policy", c.policy))
	return c.policy
}

// SelectStrategy picks a strategy from a diagnostics report and activates it.
// A missing or weak target gets conservative retries; a visible target after a
// failed connect gets aggressive ones.
func (c *ConnectionManager) SelectStrategy(report models.DiagnosticsReport) Strategy {
	c.mu.Lock()
	lastFailed := c.lastFailed
	c.mu.Unlock()

	strategy := StrategyStandard
	switch {
	case !report.TargetFound:
		strategy = StrategyConservative
	case report.TargetRSSI != nil && *report.TargetRSSI < weakSignalRSSI:
		strategy = StrategyConservative
	case lastFailed:
		strategy = StrategyAggressive
	}
	c.SetStrategy(strategy)
	return strategy
}

// IsConnected reports whether the state machine and the radio agree the link is up.
// A link the radio has dropped moves the machine back to idle.
func (c *ConnectionManager) IsConnected() bool {
	if c.State() != models.StateConnected {
		return false
	}
	if c.radio.IsConnected() {
		return true
	}
	c.logger.Warn("Wifi link lost", zap.Stringer("link_status", c.radio.Status()))
	c.fire(eventLost)
	return false
}

// ReconnectIfNeeded connects with the active policy unless the link is already up
func (c *ConnectionManager) ReconnectIfNeeded() bool {
	if c.IsConnected() {
		return true
	}
	return c.Connect(c.Policy())
}

// Connect brings the link up using policy. It returns true immediately, without
// touching the radio beyond a status check, when the link is already up.
// Radio errors never escape: a failed connect reports one Wifi fault and returns false.
func (c *ConnectionManager) Connect(policy RetryPolicy) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Warn("Connect rejected", zap.Error(ErrAttemptInFlight))
		return false
	}
	defer c.inFlight.Store(false)

	if c.IsConnected() {
		return true
	}

	c.logger.Info("Connecting to wifi",
		zap.String("ssid", c.cfg.SSID),
		zap.Stringer("policy", policy))

	attempt := 0
	operation := func() error {
		attempt++
		err := c.attempt(policy, attempt)
		c.metrics.connectAttempt(err == nil)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Wifi connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", policy.Attempts()),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotifyWithTimer(operation, policy.BackOff(), notify, newSchedulerTimer(c.sched))

	c.mu.Lock()
	c.lastFailed = err != nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Wifi connect failed",
			zap.Int("attempts", attempt),
			zap.Error(err))
		c.report(err, map[string]string{
			"ssid":     c.cfg.SSID,
			"attempts": strconv.Itoa(attempt),
			"strategy": string(policy.Strategy),
		})
		return false
	}

	c.logger.Info("Wifi connected", zap.Int("attempts", attempt))
	return true
}

// attempt runs one activate/connect/poll cycle
func (c *ConnectionManager) attempt(policy RetryPolicy, n int) error {
	if !c.radio.Active() {
		c.fire(eventActivate)
		if err := c.radio.Activate(); err != nil {
			c.fire(eventFail)
			return models.NewFault(models.KindWifi, "radio.activate", err)
		}
	}

	c.fire(eventConnect)

	if status := c.radio.Status(); status != models.LinkIdle {
		// clear a stuck session before issuing a new request
		log.Trace(c.logger, "Disconnecting stale session", zap.Stringer("link_status", status))
		if err := c.radio.Disconnect(); err != nil {
			c.logger.Warn("Failed to clear stale wifi session", zap.Error(err))
		}
	}

	if err := c.radio.Connect(c.cfg.SSID, c.cfg.Passphrase); err != nil {
		c.fire(eventFail)
		return models.NewFault(models.KindWifi, "radio.connect", err)
	}

	start := c.sched.Now()
	for {
		if c.radio.IsConnected() {
			c.fire(eventEstablished)
			return nil
		}

		status := c.radio.Status()
		switch status {
		case models.LinkWrongPassword, models.LinkNoAPFound, models.LinkConnectFail:
			c.fire(eventFail)
			return models.NewFault(models.KindWifi, "radio.connect",
				fmt.Errorf("%w: link status %s", ErrNotConnected, status))
		}

		elapsed := c.sched.Since(start)
		if elapsed >= policy.ConnectionTimeout {
			c.fire(eventFail)
			return models.NewFault(models.KindWifi, "radio.connect",
				fmt.Errorf("%w: connection timeout after %v (attempt %d)", ErrNotConnected, policy.ConnectionTimeout, n))
		}

		log.Trace(c.logger, "Waiting for association",
			zap.Int("attempt", n),
			zap.Stringer("link_status", status),
			zap.Duration("elapsed", elapsed))
		c.sched.Sleep(min(c.cfg.PollInterval, policy.ConnectionTimeout-elapsed))
	}
}

// Disconnect drops the link and returns the machine to idle
func (c *ConnectionManager) Disconnect() error {
	if c.State() == models.StateIdle {
		return nil
	}
	err := c.radio.Disconnect()
	c.fire(eventDisconnect)
	if err != nil {
		return models.NewFault(models.KindWifi, "radio.disconnect", err)
	}
	return nil
}

func (c *ConnectionManager) fire(event string) {
	err := c.machine.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	c.logger.Debug("Ignored connection state event",
		zap.String("event", event),
		zap.String("state", c.machine.Current()),
		zap.Error(err))
}

func (c *ConnectionManager) report(err error, ctx map[string]string) {
	if c.reporter == nil {
		return
	}
	c.reporter.HandleFault(err, ctx)
}
