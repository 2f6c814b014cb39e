package models

import "time"

// WatchdogState is a read-only snapshot of the hardware watchdog wrapper
type WatchdogState struct {
	Timeout  time.Duration `json:"timeout_ms"`
	LastFeed time.Time     `json:"last_feed"`
	Armed    bool          `json:"armed"`
}
