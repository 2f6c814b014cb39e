package services

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"airnode/models"
)

// DefaultMaxEntries bounds the error log when no limit is configured
const DefaultMaxEntries = 100

// ErrorStore persists the whole error log. Save must be durable when it returns.
type ErrorStore interface {
	Load() ([]models.ErrorRecord, error)
	Save(records []models.ErrorRecord) error
}

// Syncer is implemented by stores that buffer writes
type Syncer interface {
	Sync() error
}

// ErrorLog is a bounded, durable ring buffer of fault records.
// It is the only state shared between the normal loop and the reset path.
type ErrorLog struct {
	store      ErrorStore
	maxEntries int
	metrics    *Metrics

	mu sync.Mutex
}

// NewErrorLog creates a log holding at most maxEntries records
func NewErrorLog(store ErrorStore, maxEntries int, metrics *Metrics) *ErrorLog {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &ErrorLog{store: store, maxEntries: maxEntries, metrics: metrics}
}

// Append assigns the next sequence number to record, evicts the oldest entries
// beyond maxEntries and writes the log back. The record is durable on return.
func (l *ErrorLog) Append(record models.ErrorRecord) (models.ErrorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.store.Load()
	if err != nil {
		return record, models.NewFault(models.KindFile, "errorlog.load", err)
	}

	var last uint64
	if n := len(records); n > 0 {
		last = records[n-1].Seq
	}
	record.Seq = last + 1
	ctx := make(map[string]string, len(record.Context)+1)
	for k, v := range record.Context {
		ctx[k] = v
	}
	ctx["seq"] = strconv.FormatUint(record.Seq, 10)
	record.Context = ctx

	records = append(records, record)
	if over := len(records) - l.maxEntries; over > 0 {
		records = records[over:]
	}

	if err := l.store.Save(records); err != nil {
		return record, models.NewFault(models.KindFile, "errorlog.save", err)
	}
	l.metrics.errorLogSize(len(records))
	return record, nil
}

// Recent returns the last n records, most recent last
func (l *ErrorLog) Recent(n int) ([]models.ErrorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.store.Load()
	if err != nil {
		return nil, models.NewFault(models.KindFile, "errorlog.load", err)
	}
	if n < 0 {
		n = 0
	}
	if n < len(records) {
		records = records[len(records)-n:]
	}
	return records, nil
}

// Len returns the number of stored records
func (l *ErrorLog) Len() (int, error) {
	records, err := l.Recent(l.maxEntries)
	return len(records), err
}

// Sync flushes the store. Stores whose Save is already synchronous have nothing to do.
func (l *ErrorLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.store.(Syncer); ok {
		if err := s.Sync(); err != nil {
			return models.NewFault(models.KindFile, "errorlog.sync", err)
		}
	}
	return nil
}

// Close releases the store if it holds resources
func (l *ErrorLog) Close() error {
	if c, ok := l.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// OpenErrorStore builds the store for the configured backend
func OpenErrorStore(backend, path string) (ErrorStore, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path), nil
	case "bolt":
		return NewBoltStore(path)
	default:
		return nil, fmt.Errorf("unknown error log backend %q", backend)
	}
}

var errMalformedLogLine = errors.New("malformed error log line")
