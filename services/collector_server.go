package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"airnode/models"

	"go.uber.org/zap"
)

// ReadingSink receives readings the collector accepted
type ReadingSink interface {
	Publish(reading *models.SensorReading) error
}

// AnomalyNotifier is told about out-of-range readings
type AnomalyNotifier interface {
	SendAnomalyAlert(anomalies []*models.Anomaly, reading *models.SensorReading) error
}

// CollectorServer is the reference wire peer: one JSON reading in, one status out,
// per connection
type CollectorServer struct {
	logger      *zap.Logger
	detector    *AnomalyDetector
	monitor     *NodeHealthMonitor
	sink        ReadingSink
	notifiers   []AnomalyNotifier
	readTimeout time.Duration

	wg sync.WaitGroup
}

// NewCollectorServer creates a server. sink may be nil.
func NewCollectorServer(logger *zap.Logger, detector *AnomalyDetector, monitor *NodeHealthMonitor, sink ReadingSink, notifiers ...AnomalyNotifier) *CollectorServer {
	return &CollectorServer{
		logger:      logger.Named("collector"),
		detector:    detector,
		monitor:     monitor,
		sink:        sink,
		notifiers:   notifiers,
		readTimeout: 10 * time.Second,
	}
}

// Serve accepts connections on ln until ctx is done
func (s *CollectorServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Collector listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				s.logger.Info("Collector stopped")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *CollectorServer) handleConn(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.logger.Warn("Failed to set connection deadline", zap.Error(err))
		return
	}

	resp := models.CollectorResponse{Status: models.StatusSuccess}

	var reading models.SensorReading
	if err := json.NewDecoder(conn).Decode(&reading); err != nil {
		s.logger.Warn("Invalid payload",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err))
		resp = models.CollectorResponse{Status: models.StatusError, Message: "invalid payload"}
	} else if err := s.HandleReading(&reading); err != nil {
		resp = models.CollectorResponse{Status: models.StatusError, Message: err.Error()}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		return
	}
	if _, err := conn.Write(append(body, '\n')); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

// HandleReading validates, records, checks and forwards one reading
func (s *CollectorServer) HandleReading(reading *models.SensorReading) error {
	if reading.DeviceID == "" {
		return errors.New("missing device_id")
	}
	if reading.Timestamp == 0 {
		reading.Timestamp = uint64(time.Now().Unix())
	}

	s.logger.Debug("Reading received",
		zap.String("device_id", reading.DeviceID),
		zap.Any("fields", reading.Fields),
		zap.Uint32("sensor_errors", reading.SensorErrors))

	if s.monitor != nil {
		s.monitor.RecordReading(reading)
	}

	if anomalies := s.detector.DetectAnomalies(reading); len(anomalies) > 0 {
		for _, n := range s.notifiers {
			if err := n.SendAnomalyAlert(anomalies, reading); err != nil {
				s.logger.Error("Failed to send anomaly alert",
					zap.String("device_id", reading.DeviceID),
					zap.Error(err))
			}
		}
	}

	if s.sink != nil {
		if err := s.sink.Publish(reading); err != nil {
			s.logger.Error("Failed to forward reading",
				zap.String("device_id", reading.DeviceID),
				zap.Error(err))
			return errors.New("forwarding failed")
		}
	}
	return nil
}
