package services

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"airnode/models"

	"go.uber.org/zap"
)

// SupervisorConfig holds the reset policy and the loop cadence
type SupervisorConfig struct {
	SSID                 string
	CollectorAddr        string
	TransmissionInterval time.Duration
	TransmissionRetries  int
	ResetThreshold       uint32
	ErrorWindow          time.Duration
	AutoReset            bool
	ResetDelay           time.Duration
	WatchdogTimeout      time.Duration
}

// SupervisorDeps are the components the supervisor drives
type SupervisorDeps struct {
	Watchdog    *Watchdog
	ErrorLog    *ErrorLog
	Blinker     *Blinker
	Resetter    Resetter
	Connection  *ConnectionManager
	Diagnostics *DiagnosticsProbe
	Transmitter *TransmissionClient
	Sensors     *SensorCollector
	Heartbeat   HeartbeatPublisher // optional
	Classifier  Classifier         // defaults to Classify
}

// Supervisor is the node's top-level loop. It feeds the watchdog, keeps the link up,
// ships readings and turns every fault into a logged, counted recovery decision.
type Supervisor struct {
	sctx   *SupervisorContext
	cfg    SupervisorConfig
	deps   SupervisorDeps
	logger *zap.Logger

	counter  *ErrorCounter
	classify Classifier
	feeding  atomic.Bool

	startedAt       time.Time
	lastDisposition models.Disposition
	lastStatus      string
	lastRSSI        *int32
}

// NewSupervisor wires the supervisor and registers the scheduler hook that keeps the
// watchdog fed through long cooperative waits
func NewSupervisor(sctx *SupervisorContext, cfg SupervisorConfig, deps SupervisorDeps) *Supervisor {
	if cfg.ResetThreshold == 0 {
		cfg.ResetThreshold = 5
	}
	if cfg.TransmissionRetries <= 0 {
		cfg.TransmissionRetries = 3
	}
	if deps.Classifier == nil {
		deps.Classifier = Classify
	}
	if deps.Blinker == nil {
		deps.Blinker = NewBlinker(nil, sctx.Scheduler)
	}

	s := &Supervisor{
		sctx:            sctx,
		cfg:             cfg,
		deps:            deps,
		logger:          sctx.Logger.Named("supervisor"),
		counter:         NewErrorCounter(cfg.ErrorWindow),
		classify:        deps.Classifier,
		startedAt:       sctx.Scheduler.Now(),
		lastDisposition: models.DispositionLogged,
	}
	s.feeding.Store(true)
	s.lastStatus = s.statusLine(models.DispositionLogged)

	if deps.Connection != nil {
		deps.Connection.SetReporter(s)
	}
	sctx.Scheduler.OnTick(func(time.Time) { s.Feed() })
	return s
}

// Feed feeds the watchdog unless feeding has been stopped
func (s *Supervisor) Feed() {
	if !s.feeding.Load() {
		return
	}
	s.deps.Watchdog.Feed()
}

// StopFeeding stops all watchdog feeding for good. Once the watchdog is armed this
// ends in a hardware reset after the watchdog timeout; there is no way back.
func (s *Supervisor) StopFeeding() {
	if s.feeding.Swap(false) {
		s.logger.Warn("Watchdog feeding stopped, hardware reset will follow",
			zap.Duration("timeout", s.deps.Watchdog.Status().Timeout))
	}
}

// HandleFault classifies err, persists it, signals it on the LED and counts it.
// When the kind reaches the reset threshold within the error window a reset is
// requested, or skipped if auto reset is off.
func (s *Supervisor) HandleFault(err error, details map[string]string) models.Disposition {
	if err == nil {
		return models.DispositionLogged
	}

	kind := s.classify(err)
	now := s.sctx.Scheduler.Now()

	ctx := make(map[string]string, len(details)+1)
	for k, v := range details {
		ctx[k] = v
	}
	ctx["boot_id"] = s.sctx.BootID

	s.appendRecord(models.ErrorRecord{
		Timestamp: now,
		Kind:      kind,
		Message:   err.Error(),
		Context:   ctx,
	})
	s.sctx.Metrics.fault(kind)

	s.deps.Blinker.Blink(kind.BlinkCode())

	count := s.counter.Increment(kind, now)
	s.logger.Warn("Fault handled",
		zap.String("kind", string(kind)),
		zap.Uint32("count", count),
		zap.Uint32("threshold", s.cfg.ResetThreshold),
		zap.Error(err))

	disposition := models.DispositionLogged
	if count >= s.cfg.ResetThreshold {
		reason := fmt.Sprintf("%s fault threshold reached (%d within %v)", kind, count, s.cfg.ErrorWindow)
		disposition = s.ResetDevice(s.cfg.ResetDelay, reason)
	}

	s.setDisposition(disposition)
	return disposition
}

// ResetDevice records the reset decision and, with auto reset enabled, counts down,
// syncs the error log and resets the device. On hardware it does not return on the
// reset path.
func (s *Supervisor) ResetDevice(delay time.Duration, reason string) models.Disposition {
	s.appendRecord(models.ErrorRecord{
		Timestamp: s.sctx.Scheduler.Now(),
		Kind:      models.KindSystem,
		Message:   "system reset requested: " + reason,
		Context:   map[string]string{"boot_id": s.sctx.BootID, "auto_reset": strconv.FormatBool(s.cfg.AutoReset)},
	})

	if !s.cfg.AutoReset {
		s.appendRecord(models.ErrorRecord{
			Timestamp: s.sctx.Scheduler.Now(),
			Kind:      models.KindSystem,
			Message:   "reset_skipped: " + reason,
			Context:   map[string]string{"boot_id": s.sctx.BootID},
		})
		s.logger.Warn("Auto reset disabled, reset skipped", zap.String("reason", reason))
		s.sctx.Metrics.resetDecision(models.DispositionResetSkipped)
		return models.DispositionResetSkipped
	}

	s.sctx.Metrics.resetDecision(models.DispositionResetRequested)
	s.logger.Error("Device reset requested",
		zap.String("reason", reason),
		zap.Duration("delay", delay))

	for remaining := int(delay / time.Second); remaining > 0; remaining-- {
		s.logger.Warn("Resetting device", zap.Int("seconds_remaining", remaining))
		s.deps.Blinker.CountdownSecond()
	}

	// the log must be on disk before the reset call
	if err := s.deps.ErrorLog.Sync(); err != nil {
		s.logger.Error("Failed to sync error log before reset", zap.Error(err))
	}

	if err := s.deps.Resetter.Reset(reason); err != nil {
		s.logger.Error("Reset did not happen", zap.Error(err))
	}
	return models.DispositionResetRequested
}

// RecentLogs returns the last n persisted records, most recent last
func (s *Supervisor) RecentLogs(n int) ([]models.ErrorRecord, error) {
	return s.deps.ErrorLog.Recent(n)
}

// RunDiagnostics probes the radio environment and the collector
func (s *Supervisor) RunDiagnostics() models.DiagnosticsReport {
	report := s.deps.Diagnostics.Run(s.cfg.SSID, s.cfg.CollectorAddr)
	s.lastRSSI = report.TargetRSSI
	return report
}

// Status returns the last status line, e.g. "faults wifi=2 sensor=1 | logged"
func (s *Supervisor) Status() string {
	return s.lastStatus
}

// Counts returns the per-kind fault counts in the current windows
func (s *Supervisor) Counts() map[models.ErrorKind]uint32 {
	return s.counter.Snapshot()
}

// Run arms the watchdog and runs cycles until ctx is done. ctx is only checked
// between cycles and during the interval sleep.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.deps.Watchdog.Arm(s.cfg.WatchdogTimeout); err != nil {
		return fmt.Errorf("failed to arm watchdog: %w", err)
	}
	s.startedAt = s.sctx.Scheduler.Now()

	s.logger.Info("Supervisor started",
		zap.String("boot_id", s.sctx.BootID),
		zap.Duration("watchdog_timeout", s.cfg.WatchdogTimeout),
		zap.Duration("interval", s.cfg.TransmissionInterval),
		zap.Uint32("reset_threshold", s.cfg.ResetThreshold),
		zap.Bool("auto_reset", s.cfg.AutoReset))

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Supervisor stopped")
			return nil
		}

		s.RunCycle()

		for waited := time.Duration(0); waited < s.cfg.TransmissionInterval; waited += time.Second {
			if ctx.Err() != nil {
				break
			}
			s.sctx.Scheduler.Sleep(min(time.Second, s.cfg.TransmissionInterval-waited))
		}
	}
}

// RunCycle runs one connect/collect/send/heartbeat pass
func (s *Supervisor) RunCycle() {
	s.Feed()

	if !s.deps.Connection.IsConnected() {
		report := s.RunDiagnostics()
		s.deps.Connection.SelectStrategy(report)

		if !s.deps.Connection.Connect(s.deps.Connection.Policy()) {
			report = s.RunDiagnostics()
			s.logger.Warn("Wifi unavailable this cycle", zap.String("diagnostics", report.Summary()))
		}
	}
	s.Feed()

	reading, faults := s.deps.Sensors.Collect()
	for _, f := range faults {
		s.HandleFault(f, map[string]string{"phase": "collect"})
	}
	s.Feed()

	if s.deps.Connection.IsConnected() {
		if ok, err := s.deps.Transmitter.Send(reading, s.cfg.TransmissionRetries); !ok {
			s.HandleFault(err, map[string]string{"phase": "transmit"})
		}
	}
	s.Feed()

	s.publishHeartbeat()
}

func (s *Supervisor) publishHeartbeat() {
	if s.deps.Heartbeat == nil {
		return
	}
	now := s.sctx.Scheduler.Now()
	hb := &models.NodeHeartbeat{
		DeviceID:      s.sctx.DeviceID,
		BootID:        s.sctx.BootID,
		Timestamp:     now,
		WiFiConnected: s.deps.Connection.IsConnected(),
		MQTTConnected: s.deps.Heartbeat.Connected(),
		UptimeMs:      now.Sub(s.startedAt).Milliseconds(),
		RSSI:          s.lastRSSI,
		State:         s.deps.Connection.State(),
		ErrorCounts:   s.counter.Snapshot(),
		Disposition:   s.lastDisposition,
		Status:        s.lastStatus,
	}
	if err := s.deps.Heartbeat.Publish(hb); err != nil {
		s.logger.Warn("Failed to publish heartbeat", zap.Error(err))
	}
}

// appendRecord persists a record. A failing log is reported here and never fed back
// into HandleFault.
func (s *Supervisor) appendRecord(record models.ErrorRecord) {
	if _, err := s.deps.ErrorLog.Append(record); err != nil {
		s.logger.Error("Failed to persist error record",
			zap.String("kind", string(record.Kind)),
			zap.String("message", record.Message),
			zap.Error(err))
	}
}

func (s *Supervisor) setDisposition(d models.Disposition) {
	s.lastDisposition = d
	s.lastStatus = s.statusLine(d)
	s.logger.Info(s.lastStatus)
}

func (s *Supervisor) statusLine(d models.Disposition) string {
	return fmt.Sprintf("faults %s | %s", s.counter.Summary(), d)
}
