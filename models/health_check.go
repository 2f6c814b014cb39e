package models

import (
	"time"
)

// DeviceHealthStatus represents the health status of a node as seen by the collector
type DeviceHealthStatus string

const (
	DeviceHealthy   DeviceHealthStatus = "healthy"
	DeviceTimeout   DeviceHealthStatus = "timeout"
	DeviceRecovered DeviceHealthStatus = "recovered"
)

// NodeHeartbeat is the health message a node publishes after every cycle
type NodeHeartbeat struct {
	DeviceID      string               `json:"device_id"`
	BootID        string               `json:"boot_id"`
	Timestamp     time.Time            `json:"timestamp"`
	WiFiConnected bool                 `json:"wifi_connected"`
	MQTTConnected bool                 `json:"mqtt_connected"`
	UptimeMs      int64                `json:"uptime_ms"`
	RSSI          *int32               `json:"rssi,omitempty"`
	State         ConnectionState      `json:"state"`
	ErrorCounts   map[ErrorKind]uint32 `json:"error_counts"`
	Disposition   Disposition          `json:"disposition,omitempty"`
	Status        string               `json:"status"`
}

// DeviceHealth tracks the liveness of a node on the collector side
type DeviceHealth struct {
	DeviceID      string
	LastReading   *SensorReading
	LastHeartbeat *NodeHeartbeat
	LastSeen      time.Time
	Status        DeviceHealthStatus
	TimeoutAt     time.Time // When the node timed out (if applicable)
}
