package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airnode/config"
	"airnode/log"
	"airnode/models"
	"airnode/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for the simulated radio and sensors")
	connectRate := flag.Float64("connect-success", 0.8, "Probability a simulated connect request associates")
	dropRate := flag.Float64("drop-rate", 0.01, "Probability the simulated link drops on each check")
	sensorFailure := flag.Float64("sensor-failure", 0.05, "Probability a simulated sensor read fails")
	anomalyRate := flag.Float64("anomaly", 0.1, "Probability a simulated reading is out of range")
	rssi := flag.Int("rssi", -60, "Signal strength of the simulated access point in dBm")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := log.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Starting airnode", zap.Stringer("config", cfg))

	registry := prometheus.NewRegistry()
	metrics := services.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("Metrics endpoint stopped", zap.Error(err))
			}
		}()
		logger.Info("Metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
	}

	clock := services.RealClock()
	sched := services.NewScheduler(clock, services.DefaultTick)
	sctx := services.NewSupervisorContext(logger, sched, metrics, cfg.DeviceID)

	resetter := services.NewExecResetter(logger)

	soft := services.NewSoftWatchdog(clock, logger, func() {
		_ = resetter.Reset("watchdog expired")
	})
	watchdog := services.NewWatchdog(soft, clock, metrics)

	store, err := services.OpenErrorStore(cfg.ErrorLogBackend, cfg.ErrorLogPath)
	if err != nil {
		logger.Fatal("Failed to open error log", zap.Error(err))
	}
	errorLog := services.NewErrorLog(store, cfg.ErrorLogMaxEntries, metrics)
	defer errorLog.Close()

	radio := services.NewSimRadio(services.SimRadioConfig{
		Networks: []models.Network{
			{SSID: cfg.WiFiSSID, BSSID: "02:00:00:00:00:01", Channel: 6, RSSI: int32(*rssi)},
			{SSID: cfg.WiFiSSID, BSSID: "02:00:00:00:00:02", Channel: 11, RSSI: int32(*rssi) - 12},
			{SSID: "neighbour-guest", BSSID: "02:00:00:00:01:01", Channel: 1, RSSI: -71},
		},
		ConnectDelay: 2 * time.Second,
		SuccessRate:  *connectRate,
		DropRate:     *dropRate,
		RSSIJitter:   4,
	}, clock, *seed)

	strategy, err := services.ParseStrategy(cfg.RetryStrategy)
	if err != nil {
		logger.Fatal("Invalid retry strategy", zap.Error(err))
	}
	conn := services.NewConnectionManager(sctx, radio, services.ConnectionConfig{
		SSID:       cfg.WiFiSSID,
		Passphrase: cfg.WiFiPass,
		Base:       services.BasePolicy(cfg.MaxRetries, cfg.RetryDelay, cfg.ConnectionTimeout),
	})
	conn.SetStrategy(strategy)

	dialer := &net.Dialer{}
	diagnostics := services.NewDiagnosticsProbe(sctx, radio, dialer, cfg.ProbeTimeout)
	transmitter := services.NewTransmissionClient(sctx, conn, dialer, services.TransmissionConfig{
		Addr:            cfg.CollectorAddr(),
		DialTimeout:     cfg.DialTimeout,
		ResponseTimeout: cfg.ResponseTimeout,
	})
	sensors := services.NewSensorCollector(sctx,
		services.NewSimClimateSensor(*seed+1, *anomalyRate, *sensorFailure),
		services.NewSimCO2Sensor(*seed+2, *anomalyRate, *sensorFailure),
	)

	deps := services.SupervisorDeps{
		Watchdog:    watchdog,
		ErrorLog:    errorLog,
		Blinker:     services.NewBlinker(services.NewLogLED(logger), sched),
		Resetter:    resetter,
		Connection:  conn,
		Diagnostics: diagnostics,
		Transmitter: transmitter,
		Sensors:     sensors,
	}

	if cfg.MQTTBroker != "" {
		heartbeat, err := services.NewMQTTHeartbeat(services.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.DeviceID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, logger)
		if err != nil {
			logger.Warn("Heartbeats disabled", zap.Error(err))
		} else {
			defer heartbeat.Close()
			deps.Heartbeat = heartbeat
		}
	}

	supervisor := services.NewSupervisor(sctx, services.SupervisorConfig{
		SSID:                 cfg.WiFiSSID,
		CollectorAddr:        cfg.CollectorAddr(),
		TransmissionInterval: cfg.TransmissionInterval,
		TransmissionRetries:  cfg.TransmissionRetries,
		ResetThreshold:       uint32(cfg.ResetThreshold),
		ErrorWindow:          cfg.ErrorWindow,
		AutoReset:            cfg.AutoReset,
		ResetDelay:           cfg.ResetDelay,
		WatchdogTimeout:      cfg.WatchdogTimeout,
	}, deps)

	if recent, err := supervisor.RecentLogs(5); err != nil {
		logger.Warn("Failed to read error log", zap.Error(err))
	} else {
		for _, r := range recent {
			logger.Info("Previous fault",
				zap.Time("timestamp", r.Timestamp),
				zap.String("kind", string(r.Kind)),
				zap.String("message", r.Message))
		}
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, finishing current cycle")
		cancel()
	}()

	go soft.Monitor(ctx, time.Second)

	if err := supervisor.Run(ctx); err != nil {
		logger.Fatal("Supervisor failed", zap.Error(err))
	}

	if err := conn.Disconnect(); err != nil {
		logger.Warn("Failed to disconnect", zap.Error(err))
	}
	logger.Info("airnode stopped")
}
