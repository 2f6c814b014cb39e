package services

import (
	"fmt"
	"strings"
	"time"

	"airnode/models"
)

type counterBucket struct {
	count       uint32
	windowStart time.Time
}

// ErrorCounter counts faults per kind inside a sliding error window.
// Buckets are independent: a fault of one kind never touches another kind's count.
type ErrorCounter struct {
	window  time.Duration
	buckets map[models.ErrorKind]*counterBucket
}

// NewErrorCounter creates a counter whose buckets restart after window
func NewErrorCounter(window time.Duration) *ErrorCounter {
	return &ErrorCounter{
		window:  window,
		buckets: make(map[models.ErrorKind]*counterBucket),
	}
}

// Increment records a fault of kind at now and returns the kind's count.
// The bucket restarts at 1 when now - windowStart exceeds the window.
func (c *ErrorCounter) Increment(kind models.ErrorKind, now time.Time) uint32 {
	b, ok := c.buckets[kind]
	if !ok {
		b = &counterBucket{windowStart: now}
		c.buckets[kind] = b
	}
	if now.Sub(b.windowStart) > c.window {
		b.count = 0
		b.windowStart = now
	}
	b.count++
	return b.count
}

// Count returns the current count for kind
func (c *ErrorCounter) Count(kind models.ErrorKind) uint32 {
	if b, ok := c.buckets[kind]; ok {
		return b.count
	}
	return 0
}

// Reset clears the bucket for kind
func (c *ErrorCounter) Reset(kind models.ErrorKind) {
	delete(c.buckets, kind)
}

// Snapshot returns the counts of every kind that has a bucket
func (c *ErrorCounter) Snapshot() map[models.ErrorKind]uint32 {
	out := make(map[models.ErrorKind]uint32, len(c.buckets))
	for kind, b := range c.buckets {
		out[kind] = b.count
	}
	return out
}

// Summary renders the counts as "wifi=5 sensor=1" in blink-code order
func (c *ErrorCounter) Summary() string {
	parts := make([]string, 0, len(c.buckets))
	for _, kind := range models.AllErrorKinds {
		if b, ok := c.buckets[kind]; ok && b.count > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(string(kind)), b.count))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}
