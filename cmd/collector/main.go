package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airnode/config"
	"airnode/log"
	"airnode/models"
	"airnode/services"

	"go.uber.org/zap"
)

func main() {
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

	var alerter services.Alerter = services.NewLogAlerter(logger)
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegramService, err := services.NewTelegramService(cfg, logger)
		if err != nil {
			logger.Warn("Telegram unavailable, alerts go to the log", zap.Error(err))
		} else {
			alerter = telegramService
			if err := telegramService.SendStatusMessage("🟢 <b>Airnode collector started</b>"); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	}

	notifiers := []services.AnomalyNotifier{alerter}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, services.NewWebhookAlertService(logger, cfg.AlertWebhookURL))
		logger.Info("Webhook alerts enabled", zap.String("url", cfg.AlertWebhookURL))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink services.ReadingSink
	var batcher *services.ReadingBatcher
	if cfg.RabbitMQURL != "" {
		forwarder, err := services.NewReadingForwarder(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ forwarder", zap.Error(err))
		}
		defer forwarder.Close()
		batcher = services.NewReadingBatcher(forwarder, cfg.ForwardBatchSize, cfg.ForwardBatchWait, logger)
		go batcher.Start(ctx)
		sink = batcher
	}

	monitor := services.NewNodeHealthMonitor(cfg, alerter, logger)
	server := services.NewCollectorServer(logger, services.NewAnomalyDetector(cfg), monitor, sink, notifiers...)

	heartbeats := make(chan *models.NodeHeartbeat, 16)
	if cfg.MQTTBroker != "" {
		subscriber, err := services.NewHeartbeatSubscriber(services.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: "airnode-collector",
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, logger)
		if err != nil {
			logger.Warn("Heartbeats disabled", zap.Error(err))
		} else {
			defer subscriber.Close()
			if err := subscriber.Subscribe(heartbeats); err != nil {
				logger.Warn("Failed to subscribe to heartbeats", zap.Error(err))
			}
		}
	}
	go monitor.Start(ctx, heartbeats)

	ln, err := net.Listen("tcp", cfg.CollectorListen)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("addr", cfg.CollectorListen), zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, ln)
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping collector")
		cancel()
		select {
		case err := <-done:
			if err != nil {
				logger.Error("Collector stopped with error", zap.Error(err))
			}
		case <-time.After(5 * time.Second):
			logger.Warn("Cleanup timeout, forcing exit")
		}
		if batcher != nil && !batcher.WaitForShutdown(5*time.Second) {
			logger.Warn("Reading batcher did not flush in time", zap.Int("buffered", batcher.GetBufferSize()))
		}
	case err := <-done:
		if err != nil {
			logger.Fatal("Collector failed", zap.Error(err))
		}
	}
	logger.Info("Collector stopped")
}
