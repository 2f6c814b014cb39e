package models

import (
	"fmt"
	"time"
)

// ConnectionState is the state of the radio connect state machine
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateActivating ConnectionState = "activating"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateFailed     ConnectionState = "failed"
)

// LinkStatus is the raw link status reported by the radio driver
type LinkStatus int

const (
	LinkIdle LinkStatus = iota
	LinkConnecting
	LinkWrongPassword
	LinkNoAPFound
	LinkConnectFail
	LinkGotIP
)

func (s LinkStatus) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkConnecting:
		return "connecting"
	case LinkWrongPassword:
		return "wrong_password"
	case LinkNoAPFound:
		return "no_ap_found"
	case LinkConnectFail:
		return "connect_fail"
	case LinkGotIP:
		return "got_ip"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Network is a single access point seen during a scan
type Network struct {
	SSID    string `json:"ssid"`
	BSSID   string `json:"bssid,omitempty"`
	Channel int    `json:"channel"`
	RSSI    int32  `json:"rssi"`
}

// DiagnosticsReport is produced fresh by every probe run and never mutated
type DiagnosticsReport struct {
	CheckedAt       time.Time `json:"checked_at"`
	RadioActive     bool      `json:"radio_active"`
	NetworksFound   uint      `json:"networks_found"`
	TargetFound     bool      `json:"target_found"`
	TargetRSSI      *int32    `json:"target_rssi,omitempty"`
	ServerReachable bool      `json:"server_reachable"`
	PingMs          *float64  `json:"ping_ms,omitempty"`
	Networks        []Network `json:"networks,omitempty"`
}

// Summary returns a one-line explanation of the report for logs
func (r DiagnosticsReport) Summary() string {
	rssi := "n/a"
	if r.TargetRSSI != nil {
		rssi = fmt.Sprintf("%ddBm", *r.TargetRSSI)
	}
	ping := "n/a"
	if r.PingMs != nil {
		ping = fmt.Sprintf("%.1fms", *r.PingMs)
	}
	return fmt.Sprintf("radio_active=%t networks=%d target_found=%t rssi=%s server_reachable=%t ping=%s",
		r.RadioActive, r.NetworksFound, r.TargetFound, rssi, r.ServerReachable, ping)
}
