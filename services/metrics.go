package services

import (
	"airnode/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the node's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	faults          *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	transmissions   *prometheus.CounterVec
	watchdogFeeds   prometheus.Counter
	errorLogEntries prometheus.Gauge
	rssi            prometheus.Gauge
	resets          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_faults_total",
			Help: "Faults handled by the supervisor, by error kind.",
		}, []string{"kind"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_connect_attempts_total",
			Help: "Radio connect attempts, by result.",
		}, []string{"result"}),
		transmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_transmission_attempts_total",
			Help: "Payload transmission attempts to the collector, by result.",
		}, []string{"result"}),
		watchdogFeeds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_watchdog_feeds_total",
			Help: "Number of times the hardware watchdog was fed.",
		}),
		errorLogEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_error_log_entries",
			Help: "Records currently held by the persistent error log.",
		}),
		rssi: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_target_rssi_dbm",
			Help: "Last measured RSSI of the target access point.",
		}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airnode_reset_decisions_total",
			Help: "Reset decisions, by disposition.",
		}, []string{"disposition"}),
	}

	reg.MustRegister(
		m.faults,
		m.connectAttempts,
		m.transmissions,
		m.watchdogFeeds,
		m.errorLogEntries,
		m.rssi,
		m.resets,
	)
	return m
}

func (m *Metrics) fault(kind models.ErrorKind) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) connectAttempt(ok bool) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) transmission(ok bool) {
	if m == nil {
		return
	}
	m.transmissions.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) watchdogFed() {
	if m == nil {
		return
	}
	m.watchdogFeeds.Inc()
}

func (m *Metrics) errorLogSize(n int) {
	if m == nil {
		return
	}
	m.errorLogEntries.Set(float64(n))
}

func (m *Metrics) targetRSSI(dbm int32) {
	if m == nil {
		return
	}
	m.rssi.Set(float64(dbm))
}

func (m *Metrics) resetDecision(d models.Disposition) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(string(d)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
