package services

import (
	"context"
	"sync"
	"time"

	"airnode/config"
	"airnode/models"

	"go.uber.org/zap"
)

// NodeHealthMonitor tracks when each node was last heard from, by reading or
// heartbeat, and alerts when a node goes silent or comes back.
type NodeHealthMonitor struct {
	config  *config.Config
	alerter Alerter
	logger  *zap.Logger
	now     func() time.Time
	devices map[string]*models.DeviceHealth
	mu      sync.RWMutex
}

// NewNodeHealthMonitor creates a monitor
func NewNodeHealthMonitor(cfg *config.Config, alerter Alerter, logger *zap.Logger) *NodeHealthMonitor {
	return &NodeHealthMonitor{
		config:  cfg,
		alerter: alerter,
		logger:  logger.Named("health"),
		now:     time.Now,
		devices: make(map[string]*models.DeviceHealth),
	}
}

// Start processes heartbeats until ctx is done and runs the timeout checker
func (h *NodeHealthMonitor) Start(ctx context.Context, heartbeats <-chan *models.NodeHeartbeat) {
	h.logger.Info("Starting node health monitor",
		zap.Duration("timeout", h.config.HealthCheckTimeout))

	go h.runTimeoutChecker(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Node health monitor stopped")
			return
		case hb, ok := <-heartbeats:
			if !ok {
				h.logger.Info("Heartbeat channel closed")
				return
			}
			h.RecordHeartbeat(hb)
		}
	}
}

// RecordHeartbeat marks the node alive and stores its last heartbeat
func (h *NodeHealthMonitor) RecordHeartbeat(hb *models.NodeHeartbeat) {
	h.mu.Lock()
	defer h.mu.Unlock()

	device := h.touch(hb.DeviceID)
	device.LastHeartbeat = hb

	h.logger.Debug("Heartbeat received",
		zap.String("device_id", hb.DeviceID),
		zap.Bool("wifi_connected", hb.WiFiConnected),
		zap.Int64("uptime_ms", hb.UptimeMs),
		zap.String("status", hb.Status))
}

// RecordReading marks the node alive and stores its last reading
func (h *NodeHealthMonitor) RecordReading(reading *models.SensorReading) {
	h.mu.Lock()
	defer h.mu.Unlock()

	device := h.touch(reading.DeviceID)
	device.LastReading = reading
}

// touch updates liveness; the caller holds the lock
func (h *NodeHealthMonitor) touch(deviceID string) *models.DeviceHealth {
	now := h.now()

	device, exists := h.devices[deviceID]
	if !exists {
		device = &models.DeviceHealth{
			DeviceID: deviceID,
			Status:   models.DeviceHealthy,
		}
		h.devices[deviceID] = device
		h.logger.Info("New node registered for health monitoring",
			zap.String("device_id", deviceID))
	}

	wasTimeout := device.Status == models.DeviceTimeout
	device.LastSeen = now
	device.Status = models.DeviceHealthy

	if wasTimeout {
		device.Status = models.DeviceRecovered
		downDuration := now.Sub(device.TimeoutAt)
		h.logger.Info("Node recovered from timeout",
			zap.String("device_id", deviceID),
			zap.Duration("down_duration", downDuration))

		if err := h.alerter.SendRecoveryAlert(deviceID, downDuration); err != nil {
			h.logger.Error("Failed to send recovery alert",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}
	return device
}

// runTimeoutChecker periodically checks for node timeouts
func (h *NodeHealthMonitor) runTimeoutChecker(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckTimeouts()
		}
	}
}

// CheckTimeouts flags every node silent for longer than the health check timeout
// and returns the ids newly flagged
func (h *NodeHealthMonitor) CheckTimeouts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	var timedOut []string

	for deviceID, device := range h.devices {
		// Skip if already in timeout state
		if device.Status == models.DeviceTimeout {
			continue
		}

		sinceLastSeen := now.Sub(device.LastSeen)
		if sinceLastSeen <= h.config.HealthCheckTimeout {
			continue
		}

		h.logger.Warn("Node timeout detected",
			zap.String("device_id", deviceID),
			zap.Time("last_seen", device.LastSeen),
			zap.Duration("time_since_last_seen", sinceLastSeen))

		device.Status = models.DeviceTimeout
		device.TimeoutAt = now
		timedOut = append(timedOut, deviceID)

		if err := h.alerter.SendTimeoutAlert(deviceID, device.LastSeen, sinceLastSeen, device.LastHeartbeat); err != nil {
			h.logger.Error("Failed to send timeout alert",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}
	return timedOut
}

// GetDeviceHealth returns a copy of the health of a node
func (h *NodeHealthMonitor) GetDeviceHealth(deviceID string) (models.DeviceHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	device, exists := h.devices[deviceID]
	if !exists {
		return models.DeviceHealth{}, false
	}
	return *device, true
}
