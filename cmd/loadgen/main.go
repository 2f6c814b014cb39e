package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airnode/models"
	"airnode/services"

	"go.uber.org/zap"
)

var (
	devices    = flag.Int("devices", 3, "Number of simulated nodes")
	rps        = flag.Int("rps", 1, "Readings per second per node")
	prefix     = flag.String("prefix", "AIRNODE-MOCK", "Device ID prefix")
	anomaly    = flag.Float64("anomaly", 0.1, "Probability of anomaly (0.0-1.0)")
	failure    = flag.Float64("failure", 0.02, "Probability a sensor read fails (0.0-1.0)")
	collector  = flag.String("collector", "localhost:8080", "Collector address (host:port)")
	mqttBroker = flag.String("broker", "", "MQTT broker address (host:port), empty disables heartbeats")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	mqttTopic  = flag.String("topic", "airnode/heartbeat", "MQTT heartbeat topic")
)

// alwaysOnline stands in for the radio; the generator runs on a host network
type alwaysOnline struct{}

func (alwaysOnline) ReconnectIfNeeded() bool { return true }

// mockNode is one simulated node: sensors, the wire client and an optional heartbeat
type mockNode struct {
	sctx      *services.SupervisorContext
	sensors   *services.SensorCollector
	tx        *services.TransmissionClient
	heartbeat *services.MQTTHeartbeat
	startedAt time.Time
	sent      int
	failed    int
}

func newMockNode(index int, logger *zap.Logger, sched *services.Scheduler) (*mockNode, error) {
	deviceID := fmt.Sprintf("%s-%03d", *prefix, index+1)
	sctx := services.NewSupervisorContext(logger, sched, nil, deviceID)
	seed := time.Now().UnixNano() + int64(index)*7919

	n := &mockNode{
		sctx: sctx,
		sensors: services.NewSensorCollector(sctx,
			services.NewSimClimateSensor(seed, *anomaly, *failure),
			services.NewSimCO2Sensor(seed+1, *anomaly, *failure),
		),
		tx: services.NewTransmissionClient(sctx, alwaysOnline{}, &net.Dialer{}, services.TransmissionConfig{
			Addr:            *collector,
			DialTimeout:     2 * time.Second,
			ResponseTimeout: 5 * time.Second,
			BackoffUnit:     100 * time.Millisecond,
		}),
		startedAt: time.Now(),
	}

	if *mqttBroker != "" {
		hb, err := services.NewMQTTHeartbeat(services.MQTTConfig{
			Broker:   *mqttBroker,
			ClientID: deviceID + "-generator",
			Username: *mqttUser,
			Password: *mqttPass,
			Topic:    *mqttTopic,
		}, logger)
		if err != nil {
			return nil, err
		}
		n.heartbeat = hb
	}
	return n, nil
}

func (n *mockNode) tick() (faulted bool) {
	reading, faults := n.sensors.Collect()
	faulted = len(faults) > 0

	if ok, err := n.tx.Send(reading, 2); ok {
		n.sent++
	} else {
		n.failed++
		n.sctx.Logger.Debug("Reading rejected", zap.Error(err))
	}

	if n.heartbeat != nil {
		hb := &models.NodeHeartbeat{
			DeviceID:      n.sctx.DeviceID,
			BootID:        n.sctx.BootID,
			Timestamp:     time.Now(),
			WiFiConnected: true,
			UptimeMs:      time.Since(n.startedAt).Milliseconds(),
			State:         models.StateConnected,
			Disposition:   models.DispositionLogged,
			Status:        fmt.Sprintf("sent=%d failed=%d", n.sent, n.failed),
		}
		if err := n.heartbeat.Publish(hb); err != nil {
			n.sctx.Logger.Warn("Failed to publish heartbeat", zap.Error(err))
		}
	}
	return faulted
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Airnode load generator started",
		zap.Int("devices", *devices),
		zap.Int("rps", *rps),
		zap.Float64("anomaly_probability", *anomaly),
		zap.String("collector", *collector),
		zap.String("mqtt_broker", *mqttBroker),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	sched := services.NewScheduler(services.RealClock(), services.DefaultTick)

	nodes := make([]*mockNode, 0, *devices)
	for i := 0; i < *devices; i++ {
		n, err := newMockNode(i, logger, sched)
		if err != nil {
			logger.Fatal("Failed to create mock node", zap.Int("index", i), zap.Error(err))
		}
		if n.heartbeat != nil {
			defer n.heartbeat.Close()
		}
		nodes = append(nodes, n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	interval := time.Second / time.Duration(max(1, *rps))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()

	startTime := time.Now()
	faultCount := 0

	stats := func(msg string) {
		sent, failed := 0, 0
		for _, n := range nodes {
			sent += n.sent
			failed += n.failed
		}
		logger.Info(msg,
			zap.Int("sent", sent),
			zap.Int("failed", failed),
			zap.Int("sensor_faults", faultCount),
			zap.Float64("avg_rate", float64(sent)/time.Since(startTime).Seconds()),
			zap.Duration("uptime", time.Since(startTime)),
		)
	}

	for {
		select {
		case <-ctx.Done():
			stats("Shutdown complete")
			return
		case <-ticker.C:
			for _, n := range nodes {
				if n.tick() {
					faultCount++
				}
			}
		case <-statsTicker.C:
			stats("Statistics")
		}
	}
}
