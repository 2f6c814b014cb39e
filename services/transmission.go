package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"airnode/models"

	"go.uber.org/zap"
)

// ErrMalformedResponse is returned when the collector reply is not a valid status object
var ErrMalformedResponse = errors.New("malformed collector response")

// Reconnector restores the link before a send
type Reconnector interface {
	ReconnectIfNeeded() bool
}

// TransmissionConfig configures the collector exchange
type TransmissionConfig struct {
	Addr            string
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	// BackoffUnit is multiplied by the attempt number between attempts
	BackoffUnit time.Duration
}

// TransmissionClient delivers readings to the collector, one TCP connection per attempt
type TransmissionClient struct {
	cfg     TransmissionConfig
	conn    Reconnector
	dialer  Dialer
	sched   *Scheduler
	metrics *Metrics
	logger  *zap.Logger
}

// NewTransmissionClient creates a client. A nil dialer uses net.Dialer.
func NewTransmissionClient(sctx *SupervisorContext, conn Reconnector, dialer Dialer, cfg TransmissionConfig) *TransmissionClient {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Second
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = 2 * time.Second
	}
	return &TransmissionClient{
		cfg:     cfg,
		conn:    conn,
		dialer:  dialer,
		sched:   sctx.Scheduler,
		metrics: sctx.Metrics,
		logger:  sctx.Logger.Named("tx"),
	}
}

// Send delivers reading, trying at most maxRetries times. It returns true iff an
// attempt got a success status. On false the error is the last attempt's fault.
// No socket is opened when the link cannot be restored.
func (t *TransmissionClient) Send(reading *models.SensorReading, maxRetries int) (bool, error) {
	if !t.conn.ReconnectIfNeeded() {
		t.logger.Warn("Skipping transmission, wifi not connected")
		return false, models.NewFault(models.KindWifi, "tx.reconnect", ErrNotConnected)
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return false, models.NewFault(models.KindUnknown, "tx.encode", fmt.Errorf("failed to marshal reading: %w", err))
	}
	payload = append(payload, '\n')

	maxRetries = max(1, maxRetries)
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = t.exchange(payload)
		t.metrics.transmission(lastErr == nil)
		if lastErr == nil {
			t.logger.Info("Reading delivered",
				zap.Int("attempt", attempt),
				zap.Int("fields", len(reading.Fields)),
				zap.Uint32("sensor_errors", reading.SensorErrors))
			return true, nil
		}

		t.logger.Warn("Failed to deliver reading",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(lastErr))

		if attempt < maxRetries {
			t.sched.Sleep(time.Duration(attempt) * t.cfg.BackoffUnit)
		}
	}

	return false, fmt.Errorf("failed to deliver reading after %d attempts: %w", maxRetries, lastErr)
}

// exchange runs one request/response on a fresh connection. The connection is
// closed on every path out of this function.
func (t *TransmissionClient) exchange(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
	defer cancel()

	conn, err := t.dialer.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return faultFor("tx.dial", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(t.cfg.ResponseTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return models.NewFault(models.KindWifi, "tx.deadline", err)
	}

	if _, err := conn.Write(payload); err != nil {
		return faultFor("tx.write", err)
	}
	t.sched.Yield()

	var resp models.CollectorResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return models.NewFault(models.KindWifi, "tx.response", fmt.Errorf("%w: %v", ErrMalformedResponse, err))
		}
		return faultFor("tx.read", err)
	}

	switch resp.Status {
	case models.StatusSuccess:
		return nil
	case models.StatusError:
		return models.NewFault(models.KindWifi, "tx.response",
			fmt.Errorf("collector rejected reading: %s", strconv.Quote(resp.Message)))
	default:
		return models.NewFault(models.KindWifi, "tx.response",
			fmt.Errorf("%w: status %q", ErrMalformedResponse, resp.Status))
	}
}

// faultFor tags socket errors: deadlines become Timeout faults, the rest Wifi
func faultFor(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return models.NewFault(models.KindTimeout, op, err)
	}
	return models.NewFault(models.KindWifi, op, err)
}
