package services

import (
	"context"
	"net"
	"time"

	"airnode/models"

	"go.uber.org/zap"
)

// DefaultProbeTimeout bounds the collector reachability handshake
const DefaultProbeTimeout = 5 * time.Second

// Dialer opens TCP connections; *net.Dialer satisfies it
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DiagnosticsProbe measures the radio environment and collector reachability.
// It only reads from the radio and never changes connection state.
type DiagnosticsProbe struct {
	radio   Radio
	dialer  Dialer
	timeout time.Duration
	sched   *Scheduler
	metrics *Metrics
	logger  *zap.Logger
}

// NewDiagnosticsProbe creates a probe. A nil dialer uses net.Dialer.
func NewDiagnosticsProbe(sctx *SupervisorContext, radio Radio, dialer Dialer, timeout time.Duration) *DiagnosticsProbe {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &DiagnosticsProbe{
		radio:   radio,
		dialer:  dialer,
		timeout: timeout,
		sched:   sctx.Scheduler,
		metrics: sctx.Metrics,
		logger:  sctx.Logger.Named("diag"),
	}
}

// Scan lists visible networks
func (p *DiagnosticsProbe) Scan() ([]models.Network, error) {
	networks, err := p.radio.Scan()
	if err != nil {
		return nil, models.NewFault(models.KindWifi, "radio.scan", err)
	}
	return networks, nil
}

// Probe attempts a TCP handshake with addr and reports the round-trip time
func (p *DiagnosticsProbe) Probe(addr string) (bool, *float64) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		p.logger.Debug("Collector unreachable", zap.String("addr", addr), zap.Error(err))
		return false, nil
	}
	rtt := float64(time.Since(start).Microseconds()) / 1000
	conn.Close()
	return true, &rtt
}

// Run produces a fresh report for the target ssid and collector addr
func (p *DiagnosticsProbe) Run(ssid, addr string) models.DiagnosticsReport {
	report := models.DiagnosticsReport{
		CheckedAt:   p.sched.Now(),
		RadioActive: p.radio.Active(),
	}

	networks, err := p.Scan()
	if err != nil {
		p.logger.Warn("Network scan failed", zap.Error(err))
	}
	report.Networks = networks
	report.NetworksFound = uint(len(networks))
	for _, n := range networks {
		if n.SSID != ssid {
			continue
		}
		// keep the strongest BSSID when the SSID is seen more than once
		if !report.TargetFound || n.RSSI > *report.TargetRSSI {
			rssi := n.RSSI
			report.TargetRSSI = &rssi
		}
		report.TargetFound = true
	}
	p.sched.Yield()

	if report.TargetRSSI != nil {
		p.metrics.targetRSSI(*report.TargetRSSI)
	}

	if addr != "" && p.radio.IsConnected() {
		report.ServerReachable, report.PingMs = p.Probe(addr)
	}

	p.logger.Info("Diagnostics", zap.String("summary", report.Summary()))
	return report
}
