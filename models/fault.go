package models

import (
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the closed classification of a fault
type ErrorKind string

const (
	KindSensor    ErrorKind = "SENSOR"
	KindCo2Sensor ErrorKind = "CO2_SENSOR"
	KindI2c       ErrorKind = "I2C"
	KindUart      ErrorKind = "UART"
	KindWifi      ErrorKind = "WIFI"
	KindMemory    ErrorKind = "MEMORY"
	KindTimeout   ErrorKind = "TIMEOUT"
	KindFile      ErrorKind = "FILE"
	KindUnknown   ErrorKind = "UNKNOWN"

	// KindSystem marks supervisor bookkeeping records (resets, skipped resets).
	// It is never produced by the classifier and is not counted.
	KindSystem ErrorKind = "SYSTEM"
)

// AllErrorKinds lists the classifiable kinds in blink-code order
var AllErrorKinds = []ErrorKind{
	KindSensor,
	KindCo2Sensor,
	KindI2c,
	KindUart,
	KindWifi,
	KindMemory,
	KindTimeout,
	KindFile,
	KindUnknown,
}

// BlinkCode returns the number of LED blinks that signal this kind
func (k ErrorKind) BlinkCode() int {
	switch k {
	case KindSensor:
		return 1
	case KindCo2Sensor:
		return 2
	case KindI2c:
		return 3
	case KindUart:
		return 4
	case KindWifi:
		return 5
	case KindMemory:
		return 6
	case KindTimeout:
		return 7
	case KindFile:
		return 8
	case KindUnknown:
		return 9
	default:
		return 10
	}
}

// ParseErrorKind maps a persisted kind label back to an ErrorKind.
// Unrecognised labels become KindUnknown.
func ParseErrorKind(s string) ErrorKind {
	k := ErrorKind(strings.ToUpper(strings.TrimSpace(s)))
	if k == KindSystem {
		return k
	}
	for _, known := range AllErrorKinds {
		if k == known {
			return k
		}
	}
	return KindUnknown
}

// Fault is an error tagged with its kind at the point of failure
type Fault struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewFault tags err with kind. op names the failing operation, e.g. "radio.connect".
func NewFault(kind ErrorKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, strings.ToLower(string(f.Kind)))
	}
	if f.Op == "" {
		return f.Err.Error()
	}
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// ErrorRecord is one persisted fault. Records are immutable once written.
type ErrorRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      ErrorKind         `json:"kind"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Seq       uint64            `json:"seq"`
}

// Disposition is the outcome of handling a fault
type Disposition string

const (
	DispositionLogged         Disposition = "logged"
	DispositionResetRequested Disposition = "reset requested"
	DispositionResetSkipped   Disposition = "reset skipped"
)
